package loop_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/servoctl/internal/controller"
	"codeberg.org/mutker/servoctl/internal/encoder"
	"codeberg.org/mutker/servoctl/internal/loop"
	"codeberg.org/mutker/servoctl/internal/protocol"
	"codeberg.org/mutker/servoctl/internal/telemetry"
)

// fakeMotor scripts a steadily advancing counter and records every call
// in order, so tests can assert the neutral-before-disable sequence.
type fakeMotor struct {
	mu     sync.Mutex
	count  int16
	millis uint32
	step   int16
	dt     uint32
	events []string
}

func (m *fakeMotor) ReadCounter() (int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count += m.step
	m.millis += m.dt

	return m.count, nil
}

func (m *fakeMotor) NowMillis() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.millis
}

func (m *fakeMotor) Apply(command int32) error {
	m.record(fmt.Sprintf("apply:%d", command))
	return nil
}

func (m *fakeMotor) Enable() error {
	m.record("enable")
	return nil
}

func (m *fakeMotor) Disable() error {
	m.record("disable")
	return nil
}

func (m *fakeMotor) Close() error { return nil }

func (m *fakeMotor) record(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *fakeMotor) history() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.events...)
}

func newEstimator(t *testing.T) *encoder.Estimator {
	t.Helper()
	est, err := encoder.New(encoder.Config{Resolution: 60, FilterNum: 1, FilterDen: 1})
	require.NoError(t, err)

	return est
}

func newPI(t *testing.T, kp, ki int64) *controller.PI {
	t.Helper()
	pi, err := controller.New(controller.Config{Kp: kp, Ki: ki})
	require.NoError(t, err)

	return pi
}

func noopCollector(t *testing.T) telemetry.Collector {
	t.Helper()
	collector, err := telemetry.NewService(telemetry.Config{Enabled: false})
	require.NoError(t, err)

	return collector
}

func TestLocalInvalidConfig(t *testing.T) {
	m := &fakeMotor{}
	_, err := loop.NewLocal(loop.LocalConfig{}, m, newEstimator(t), newPI(t, 1000, 100), noopCollector(t))
	assert.Error(t, err)
}

func TestLocalStopsNeutralAndDisabled(t *testing.T) {
	m := &fakeMotor{step: 3, dt: 2}
	l, err := loop.NewLocal(loop.LocalConfig{
		Interval:        2 * time.Millisecond,
		ReferenceRPM:    1000,
		ReferencePeriod: time.Hour,
	}, m, newEstimator(t), newPI(t, 1000, 100), noopCollector(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	events := m.history()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "enable", events[0])
	assert.Equal(t, "apply:0", events[len(events)-2])
	assert.Equal(t, "disable", events[len(events)-1])
}

func TestLocalMonitorNeverActuates(t *testing.T) {
	m := &fakeMotor{step: 3, dt: 2}
	l, err := loop.NewLocal(loop.LocalConfig{
		Interval:        2 * time.Millisecond,
		ReferenceRPM:    1000,
		ReferencePeriod: time.Hour,
		Monitor:         true,
	}, m, newEstimator(t), newPI(t, 1000, 100), noopCollector(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	assert.Empty(t, m.history())
}

func TestClientInvalidConfig(t *testing.T) {
	m := &fakeMotor{}
	_, err := loop.NewClient(loop.ClientConfig{Interval: time.Millisecond}, m, newEstimator(t))
	assert.Error(t, err)
}

func TestClientRetriesWithoutTouchingMotor(t *testing.T) {
	m := &fakeMotor{}
	c, err := loop.NewClient(loop.ClientConfig{
		Address:  "127.0.0.1:1",
		Interval: 2 * time.Millisecond,
		Backoff:  2 * time.Millisecond,
	}, m, newEstimator(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("client did not stop")
	}

	assert.Empty(t, m.history())
	assert.Equal(t, loop.PhaseIdle, c.Phase())
}

func TestClientFaultForcesNeutralBeforeDisable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan struct{})
	go func() {
		defer close(served)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if _, err := protocol.ReadMeasurement(conn); err != nil {
			return
		}
		_ = protocol.WriteCommand(conn, protocol.Command{Value: 1234})
		conn.Close()
		ln.Close()
	}()

	m := &fakeMotor{step: 2, dt: 5}
	c, err := loop.NewClient(loop.ClientConfig{
		Address:  ln.Addr().String(),
		Interval: 2 * time.Millisecond,
		Backoff:  5 * time.Millisecond,
	}, m, newEstimator(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("client never completed a round trip")
	}

	require.Eventually(t, func() bool {
		events := m.history()
		return len(events) > 0 && events[len(events)-1] == "disable"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("client did not stop")
	}

	events := m.history()
	require.Equal(t, "enable", events[0])
	assert.Contains(t, events, "apply:1234")
	assert.Equal(t, "apply:0", events[len(events)-2])
	assert.Equal(t, "disable", events[len(events)-1])
	assert.Equal(t, loop.PhaseIdle, c.Phase())
}

func TestClientCancelAppliesNeutralLast(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	// Answer every measurement with a nonzero command until the client
	// hangs up.
	go func() {
		conn, err := ln.Accept()
		ln.Close()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, err := protocol.ReadMeasurement(conn); err != nil {
				return
			}
			if err := protocol.WriteCommand(conn, protocol.Command{Value: 77}); err != nil {
				return
			}
		}
	}()

	m := &fakeMotor{step: 2, dt: 5}
	c, err := loop.NewClient(loop.ClientConfig{
		Address:  ln.Addr().String(),
		Interval: 2 * time.Millisecond,
		Backoff:  5 * time.Millisecond,
	}, m, newEstimator(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, e := range m.history() {
			if e == "apply:77" {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("client did not stop")
	}

	// Cancellation mid-session must leave the neutral command as the very
	// last apply: no command received in flight may land after it.
	events := m.history()
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, "apply:0", events[len(events)-2])
	assert.Equal(t, "disable", events[len(events)-1])
	assert.Equal(t, loop.PhaseIdle, c.Phase())
}

func TestClientTimesOutOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	// Accept one session, read the first measurement and never answer.
	hold := make(chan struct{})
	defer close(hold)
	go func() {
		conn, err := ln.Accept()
		ln.Close()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = protocol.ReadMeasurement(conn)
		<-hold
	}()

	m := &fakeMotor{step: 2, dt: 5}
	c, err := loop.NewClient(loop.ClientConfig{
		Address:  ln.Addr().String(),
		Interval: 10 * time.Millisecond,
		Backoff:  20 * time.Millisecond,
	}, m, newEstimator(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// The command wait is bounded by twice the tick period; the silent
	// server must fault the session through that deadline alone.
	require.Eventually(t, func() bool {
		events := m.history()
		return len(events) > 0 && events[len(events)-1] == "disable"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("client did not stop")
	}

	events := m.history()
	require.Equal(t, "enable", events[0])
	for _, e := range events {
		if e != "enable" && e != "disable" {
			assert.Equal(t, "apply:0", e, "no command was ever received, only neutral may be applied")
		}
	}
	assert.Equal(t, "apply:0", events[len(events)-2])
	assert.Equal(t, "disable", events[len(events)-1])
	assert.Equal(t, loop.PhaseIdle, c.Phase())
}

func TestServerInvalidConfig(t *testing.T) {
	_, err := loop.NewServer(loop.ServerConfig{}, newPI(t, 1000, 100), noopCollector(t))
	assert.Error(t, err)
}

func TestServerAnswersEachMeasurement(t *testing.T) {
	s, err := loop.NewServer(loop.ServerConfig{
		Address:          "127.0.0.1:0",
		ReferenceRPM:     2000,
		ReferencePeriod:  time.Hour,
		Backoff:          5 * time.Millisecond,
		ResetOnReconnect: true,
	}, newPI(t, 1000, 100), noopCollector(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, time.Millisecond)

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)

	// First measurement establishes the time baseline, so the answer is
	// the neutral command.
	require.NoError(t, protocol.WriteMeasurement(conn, protocol.Measurement{Velocity: 0, Millis: 0}))
	cmd, err := protocol.ReadCommand(conn)
	require.NoError(t, err)
	assert.Equal(t, int32(0), cmd.Value)

	// err = 2000 - 500 = 1500 over dt = 20 ms:
	// p = 1000*1500, i = 100*1500*20/1000.
	require.NoError(t, protocol.WriteMeasurement(conn, protocol.Measurement{Velocity: 500, Millis: 20}))
	cmd, err = protocol.ReadCommand(conn)
	require.NoError(t, err)
	assert.Equal(t, int32(1_503_000), cmd.Value)

	assert.Equal(t, loop.PhaseConnected, s.Phase())
	assert.Equal(t, int32(2000), s.Reference())

	conn.Close()
	require.Eventually(t, func() bool { return s.Phase() == loop.PhaseIdle }, 2*time.Second, time.Millisecond)

	// A fresh session starts from controller zero state.
	conn, err = net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	require.NoError(t, protocol.WriteMeasurement(conn, protocol.Measurement{Velocity: 500, Millis: 100}))
	cmd, err = protocol.ReadCommand(conn)
	require.NoError(t, err)
	assert.Equal(t, int32(0), cmd.Value)
	conn.Close()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}
