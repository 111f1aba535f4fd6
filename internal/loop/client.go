package loop

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/servoctl/internal/encoder"
	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/logger"
	"codeberg.org/mutker/servoctl/internal/motor"
	"codeberg.org/mutker/servoctl/internal/protocol"
)

// ClientConfig drives the sensing/actuating node of the split topology.
type ClientConfig struct {
	// Address of the controlling node, host:port.
	Address string
	// Interval is the control tick period.
	Interval time.Duration
	// Backoff between connection attempts.
	Backoff time.Duration
}

// Client is the sensing node. Each tick it estimates velocity, sends the
// measurement, waits for the command at most twice the tick period, and
// applies it. Any transport fault forces the actuator to neutral before
// the session is torn down and retried.
type Client struct {
	cfg       ClientConfig
	motor     motor.Motor
	estimator *encoder.Estimator
	phase     atomic.Int32
}

func NewClient(cfg ClientConfig, m motor.Motor, est *encoder.Estimator) (*Client, error) {
	if cfg.Address == "" || cfg.Interval <= 0 || cfg.Backoff <= 0 {
		return nil, errors.New().WithData(ErrInvalidConfig, cfg)
	}

	return &Client{
		cfg:       cfg,
		motor:     m,
		estimator: est,
	}, nil
}

// Phase reports the current link session phase.
func (c *Client) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Client) setPhase(p Phase) {
	c.phase.Store(int32(p))
	logger.Debug().Str("phase", p.String()).Msg("Link session phase")
}

// Run drives the connect/serve/fault/retry loop until ctx is cancelled.
// The loop never gives up: every fault drains into Idle and a new attempt
// follows after the configured backoff.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		c.setPhase(PhaseConnecting)
		conn, err := net.DialTimeout("tcp", c.cfg.Address, c.cfg.Backoff)
		if err != nil {
			c.setPhase(PhaseIdle)
			logger.Debug().
				Err(errors.New().Wrap(ErrDialFailed, err)).
				Str("address", c.cfg.Address).
				Msg("Dial failed, retrying")
			sleep(ctx, c.cfg.Backoff)
			continue
		}

		c.runSession(ctx, conn)
		sleep(ctx, c.cfg.Backoff)
	}
}

// runSession owns one connected session from entry actions to the fault
// transition. It returns once the session has drained into Idle.
func (c *Client) runSession(ctx context.Context, conn net.Conn) {
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Link established")

	// A fresh session means a fresh control baseline: estimator and the
	// server-side controller state are reset together, the estimator here
	// and the controller by the server's session entry.
	c.estimator.Reset()

	// fault is the single authority for tearing the session down. Both the
	// data path and the cancellation watcher may call it; the Once makes a
	// double trigger harmless.
	var once sync.Once
	fault := func(reason error) {
		once.Do(func() {
			c.setPhase(PhaseFaulted)
			if reason != nil {
				logger.Warn().Err(reason).Msg("Link session fault")
			}

			// Neutral before anything else: a stale nonzero command must
			// never persist across a fault.
			if err := c.motor.Apply(0); err != nil {
				logger.Error().Err(err).Msg("Failed to neutralize actuator")
			}
			if err := c.motor.Disable(); err != nil {
				logger.Error().Err(err).Msg("Failed to disable motor")
			}
			conn.Close()
			c.estimator.Reset()
			c.setPhase(PhaseIdle)
		})
	}

	if err := c.motor.Enable(); err != nil {
		fault(err)
		return
	}
	c.setPhase(PhaseConnected)

	// Independent liveness path: cancellation only closes the connection,
	// which unblocks a round trip in progress. The fault itself always
	// fires from the tick loop goroutine, so the neutral command cannot
	// race an in-flight command apply.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fault(ctx.Err())
			return
		case <-ticker.C:
		}

		if err := c.roundTrip(conn); err != nil {
			fault(err)
			return
		}
	}
}

// roundTrip performs one measurement-out, command-in exchange. The wait for
// the command is bounded by twice the tick period; past that the round trip
// is treated as lost.
func (c *Client) roundTrip(conn net.Conn) error {
	count, err := c.motor.ReadCounter()
	if err != nil {
		return errors.New().Wrap(ErrMotorFailed, err)
	}
	millis := c.motor.NowMillis()
	velocity := c.estimator.Estimate(count, millis)

	if err := protocol.WriteMeasurement(conn, protocol.Measurement{Velocity: velocity, Millis: millis}); err != nil {
		return err
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * c.cfg.Interval)); err != nil {
		return errors.New().Wrap(ErrSessionFault, err)
	}
	command, err := protocol.ReadCommand(conn)
	if err != nil {
		return err
	}

	if err := c.motor.Apply(command.Value); err != nil {
		return errors.New().Wrap(ErrMotorFailed, err)
	}

	return nil
}
