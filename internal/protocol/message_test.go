package protocol_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/servoctl/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasurementRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := protocol.Measurement{Velocity: -2000, Millis: 4294967295}

	require.NoError(t, protocol.WriteMeasurement(&buf, want))
	assert.Equal(t, protocol.MeasurementSize, buf.Len(), "measurement must be fixed size")

	got, err := protocol.ReadMeasurement(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCommandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := protocol.Command{Value: -(1 << 30)}

	require.NoError(t, protocol.WriteCommand(&buf, want))
	assert.Equal(t, protocol.CommandSize, buf.Len(), "command must be fixed size")

	got, err := protocol.ReadCommand(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestShortReadIsAnError(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x01, 0x02, 0x03})

	_, err := protocol.ReadMeasurement(buf)
	require.Error(t, err, "a short message must never be partially parsed")

	buf = bytes.NewBuffer([]byte{0x01})
	_, err = protocol.ReadCommand(buf)
	require.Error(t, err)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := protocol.DecodeMeasurement(make([]byte, protocol.MeasurementSize+1))
	require.Error(t, err)

	_, err = protocol.DecodeCommand(make([]byte, protocol.CommandSize-1))
	require.Error(t, err)
}
