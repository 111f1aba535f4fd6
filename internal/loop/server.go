package loop

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/servoctl/internal/controller"
	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/logger"
	"codeberg.org/mutker/servoctl/internal/protocol"
	"codeberg.org/mutker/servoctl/internal/telemetry"
)

// ServerConfig drives the controlling node of the split topology.
type ServerConfig struct {
	// Address to listen on, host:port. An empty host listens on all
	// interfaces.
	Address string
	// ReferenceRPM is the square wave amplitude.
	ReferenceRPM int32
	// ReferencePeriod is the time between reference sign flips.
	ReferencePeriod time.Duration
	// Backoff between accept retries after an accept failure.
	Backoff time.Duration
	// ResetOnReconnect resets the controller state on every accepted
	// connection, not just the first. Disable only for behavioral
	// compatibility with deployments that carry the integrator across
	// sessions.
	ResetOnReconnect bool
}

// Server is the controlling node. It never free-runs on a timer: each
// inbound measurement is answered synchronously with exactly one control
// computation and one command message. One connection is served at a time.
type Server struct {
	cfg           ServerConfig
	pi            *controller.PI
	collector     telemetry.Collector
	reference     atomic.Int32
	phase         atomic.Int32
	addr          atomic.Value
	everConnected bool
}

func NewServer(cfg ServerConfig, pi *controller.PI, collector telemetry.Collector) (*Server, error) {
	if cfg.Address == "" || cfg.ReferencePeriod <= 0 || cfg.Backoff <= 0 {
		return nil, errors.New().WithData(ErrInvalidConfig, cfg)
	}

	s := &Server{
		cfg:       cfg,
		pi:        pi,
		collector: collector,
	}
	s.reference.Store(cfg.ReferenceRPM)

	return s, nil
}

// Phase reports the current link session phase.
func (s *Server) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Server) setPhase(p Phase) {
	s.phase.Store(int32(p))
	logger.Debug().Str("phase", p.String()).Msg("Link session phase")
}

// Reference returns the current reference velocity.
func (s *Server) Reference() int32 {
	return s.reference.Load()
}

// Addr returns the bound listen address once Run has started listening,
// or the empty string before that. Useful when listening on port 0.
func (s *Server) Addr() string {
	if v := s.addr.Load(); v != nil {
		return v.(string)
	}

	return ""
}

// Run listens for the sensing node and serves one session at a time until
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errFactory := errors.New()

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return errFactory.Wrap(ErrListenFailed, err)
	}
	defer ln.Close()
	s.addr.Store(ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go s.flipReference(ctx)

	logger.Info().Str("address", ln.Addr().String()).Msg("Listening for sensing node")

	for {
		s.setPhase(PhaseIdle)

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn().Err(errFactory.Wrap(ErrAcceptFailed, err)).Msg("Accept failed, retrying")
			sleep(ctx, s.cfg.Backoff)
			continue
		}

		s.serve(ctx, conn)
	}
}

// flipReference toggles the reference sign on the slower reference period,
// producing a square wave. It is the only writer of the reference.
func (s *Server) flipReference(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReferencePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Phase() == PhaseConnected {
				s.reference.Store(-s.reference.Load())
			}
		}
	}
}

// serve answers measurements on one connection until the link faults or
// ctx is cancelled.
func (s *Server) serve(ctx context.Context, conn net.Conn) {
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Sensing node connected")

	s.setPhase(PhaseConnecting)
	if s.cfg.ResetOnReconnect || !s.everConnected {
		s.pi.Reset()
	}
	s.everConnected = true
	s.setPhase(PhaseConnected)

	// Cancellation closes the connection so the blocking read unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	defer conn.Close()

	for {
		m, err := protocol.ReadMeasurement(conn)
		if err != nil {
			s.fault(err)
			return
		}

		reference := s.reference.Load()
		command := s.pi.Compute(reference, m.Velocity, m.Millis)

		if err := protocol.WriteCommand(conn, protocol.Command{Value: command}); err != nil {
			s.fault(err)
			return
		}

		s.record(ctx, m, reference, command)
	}
}

func (s *Server) fault(reason error) {
	s.setPhase(PhaseFaulted)
	logger.Warn().Err(reason).Msg("Link session fault")
	s.setPhase(PhaseIdle)
}

func (s *Server) record(ctx context.Context, m protocol.Measurement, reference, command int32) {
	minCmd, maxCmd := s.pi.Limits()
	snapshot := &telemetry.Snapshot{
		Timestamp: time.Now(),
		Millis:    m.Millis,
		Reference: reference,
		Velocity:  m.Velocity,
		Command:   command,
		Saturated: command == minCmd || command == maxCmd,
		Phase:     s.Phase().String(),
	}
	if err := s.collector.Record(ctx, snapshot); err != nil {
		logger.Warn().Err(err).Msg("Failed to record telemetry")
	}

	logger.Debug().
		Int32("reference", reference).
		Int32("velocity", m.Velocity).
		Int32("command", command).
		Uint32("millis", m.Millis).
		Msg("")
}
