package motor_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/servoctl/internal/motor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimSpinsUpToCommand(t *testing.T) {
	current := time.Unix(0, 0)
	sim := motor.NewSim(motor.SimConfig{
		MaxRPM:       3000,
		TimeConstant: 100 * time.Millisecond,
		Resolution:   44,
	})
	sim.SetClock(func() time.Time { return current })

	require.NoError(t, sim.Enable())
	require.NoError(t, sim.Apply(1<<29)) // half scale: 1500 RPM target

	current = current.Add(time.Second) // ten time constants
	assert.InDelta(t, 1500, sim.Velocity(), 1.0)
	assert.Equal(t, uint32(1000), sim.NowMillis())

	count, err := sim.ReadCounter()
	require.NoError(t, err)
	assert.NotZero(t, count, "counter should have advanced")
}

func TestSimDisabledCoastsToZero(t *testing.T) {
	current := time.Unix(0, 0)
	sim := motor.NewSim(motor.SimConfig{
		MaxRPM:       3000,
		TimeConstant: 50 * time.Millisecond,
		Resolution:   44,
	})
	sim.SetClock(func() time.Time { return current })

	require.NoError(t, sim.Enable())
	require.NoError(t, sim.Apply(1 << 29))
	current = current.Add(time.Second)
	require.Greater(t, sim.Velocity(), 1000.0)

	require.NoError(t, sim.Disable())
	current = current.Add(time.Second)
	assert.InDelta(t, 0, sim.Velocity(), 1.0)
}

func TestSimNegativeCommand(t *testing.T) {
	current := time.Unix(0, 0)
	sim := motor.NewSim(motor.SimConfig{
		MaxRPM:       3000,
		TimeConstant: 50 * time.Millisecond,
		Resolution:   44,
	})
	sim.SetClock(func() time.Time { return current })

	require.NoError(t, sim.Enable())
	require.NoError(t, sim.Apply(-(1 << 29)))
	current = current.Add(time.Second)

	assert.InDelta(t, -1500, sim.Velocity(), 1.0)

	count, err := sim.ReadCounter()
	require.NoError(t, err)
	assert.Negative(t, count)
}
