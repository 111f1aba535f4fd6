package loop

import (
	"context"
	"time"

	"codeberg.org/mutker/servoctl/internal/controller"
	"codeberg.org/mutker/servoctl/internal/encoder"
	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/logger"
	"codeberg.org/mutker/servoctl/internal/motor"
	"codeberg.org/mutker/servoctl/internal/telemetry"
)

// LocalConfig drives the co-located topology: sensor, controller and
// actuator on one node, one in-process call sequence per tick.
type LocalConfig struct {
	Interval        time.Duration
	ReferenceRPM    int32
	ReferencePeriod time.Duration
	// Monitor runs the read/estimate/compute path and logs it without ever
	// touching the actuator.
	Monitor bool
}

type Local struct {
	cfg       LocalConfig
	motor     motor.Motor
	estimator *encoder.Estimator
	pi        *controller.PI
	collector telemetry.Collector
}

func NewLocal(cfg LocalConfig, m motor.Motor, est *encoder.Estimator, pi *controller.PI, collector telemetry.Collector) (*Local, error) {
	if cfg.Interval <= 0 || cfg.ReferencePeriod <= 0 {
		return nil, errors.New().WithData(ErrInvalidConfig, cfg)
	}

	return &Local{
		cfg:       cfg,
		motor:     m,
		estimator: est,
		pi:        pi,
		collector: collector,
	}, nil
}

// Run executes the control loop until ctx is cancelled. The motor is
// enabled for the duration and left neutral and disabled on exit.
func (l *Local) Run(ctx context.Context) error {
	errFactory := errors.New()

	if !l.cfg.Monitor {
		if err := l.motor.Enable(); err != nil {
			return errFactory.Wrap(errors.ErrInitMotor, err)
		}
	}
	l.estimator.Reset()
	l.pi.Reset()

	ctrl := time.NewTicker(l.cfg.Interval)
	defer ctrl.Stop()
	ref := time.NewTicker(l.cfg.ReferencePeriod)
	defer ref.Stop()

	reference := l.cfg.ReferenceRPM

	logger.Info().
		Dur("interval", l.cfg.Interval).
		Int32("reference_rpm", reference).
		Bool("monitor", l.cfg.Monitor).
		Msg("Local control loop started")

	for {
		select {
		case <-ctx.Done():
			return l.stop()
		case <-ref.C:
			reference = -reference
		case <-ctrl.C:
			if err := l.tick(ctx, reference); err != nil {
				l.stop()
				return err
			}
		}
	}
}

func (l *Local) tick(ctx context.Context, reference int32) error {
	errFactory := errors.New()

	count, err := l.motor.ReadCounter()
	if err != nil {
		return errFactory.Wrap(ErrMotorFailed, err)
	}
	millis := l.motor.NowMillis()

	velocity := l.estimator.Estimate(count, millis)
	command := l.pi.Compute(reference, velocity, millis)

	if !l.cfg.Monitor {
		if err := l.motor.Apply(command); err != nil {
			return errFactory.Wrap(ErrMotorFailed, err)
		}
	}

	minCmd, maxCmd := l.pi.Limits()
	snapshot := &telemetry.Snapshot{
		Timestamp: time.Now(),
		Millis:    millis,
		Reference: reference,
		Velocity:  velocity,
		Command:   command,
		Saturated: command == minCmd || command == maxCmd,
		Phase:     "local",
	}
	if err := l.collector.Record(ctx, snapshot); err != nil {
		logger.Warn().Err(err).Msg("Failed to record telemetry")
	}

	logger.Debug().
		Int32("reference", reference).
		Int32("velocity", velocity).
		Int32("command", command).
		Uint32("millis", millis).
		Msg("")

	return nil
}

// stop forces the actuator to neutral and disables the motor. In monitor
// mode the actuator was never touched and stays untouched.
func (l *Local) stop() error {
	errFactory := errors.New()

	if l.cfg.Monitor {
		logger.Info().Msg("Local control loop stopped")
		return nil
	}

	if err := l.motor.Apply(0); err != nil {
		return errFactory.Wrap(errors.ErrStopMotor, err)
	}
	if err := l.motor.Disable(); err != nil {
		return errFactory.Wrap(errors.ErrStopMotor, err)
	}

	logger.Info().Msg("Local control loop stopped")

	return nil
}
