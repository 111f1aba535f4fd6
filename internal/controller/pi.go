// Package controller implements the fixed-point PI velocity controller.
// All arithmetic is integer; the integrator is 64-bit wide so that gain
// times error times dt can never overflow before clamping.
package controller

import (
	"codeberg.org/mutker/servoctl/internal/errors"
)

const (
	// DefaultMax and DefaultMin map the control signal onto -100%..+100%
	// actuation as a symmetric 31-bit range.
	DefaultMax = 1<<30 - 1
	DefaultMin = -(1 << 30)

	millisPerSecond = 1000
)

type Config struct {
	// Kp is the proportional gain in control units per RPM of error.
	Kp int64
	// Ki is the integral gain in control units per RPM-second of error.
	Ki int64
	// Min and Max bound the control signal. Zero values select the
	// default symmetric 31-bit range.
	Min int32
	Max int32
}

func DefaultConfig() Config {
	return Config{
		Kp:  1000,
		Ki:  50,
		Min: DefaultMin,
		Max: DefaultMax,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Kp < 0 || c.Ki < 0 {
		return errFactory.WithData(ErrInvalidGains, [2]int64{c.Kp, c.Ki})
	}
	if c.Min >= c.Max {
		return errFactory.WithData(ErrInvalidRange, [2]int32{c.Min, c.Max})
	}

	return nil
}

// PI holds the controller state. It is a total function over its input
// domain: Compute always produces a bounded command and never fails.
type PI struct {
	cfg         Config
	integrator  int64
	prevMillis  uint32
	initialized bool
}

func New(cfg Config) (*PI, error) {
	if cfg.Min == 0 && cfg.Max == 0 {
		cfg.Min = DefaultMin
		cfg.Max = DefaultMax
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &PI{cfg: cfg}, nil
}

// Compute runs one control tick. The first call after a reset records the
// time baseline and returns 0; a repeated timestamp returns 0 without
// mutating the integrator.
func (c *PI) Compute(reference, measured int32, millis uint32) int32 {
	if !c.initialized {
		c.prevMillis = millis
		c.integrator = 0
		c.initialized = true

		return 0
	}

	dt := millis - c.prevMillis
	if dt == 0 {
		return 0
	}

	err := int64(reference) - int64(measured)
	proportional := c.cfg.Kp * err
	c.integrator += c.cfg.Ki * err * int64(dt) / millisPerSecond

	command := proportional + c.integrator

	// Anti-windup: on saturation the integrator is back-computed so that
	// proportional + integrator exactly reproduces the clamped output.
	if command > int64(c.cfg.Max) {
		c.integrator = int64(c.cfg.Max) - proportional
		command = int64(c.cfg.Max)
	} else if command < int64(c.cfg.Min) {
		c.integrator = int64(c.cfg.Min) - proportional
		command = int64(c.cfg.Min)
	}

	c.prevMillis = millis

	return int32(command)
}

// Reset zeroes the integrator and clears the time baseline. Safe to call
// from outside the periodic tick, e.g. by the session state machine.
func (c *PI) Reset() {
	c.integrator = 0
	c.prevMillis = 0
	c.initialized = false
}

// Integrator exposes the accumulated integral term.
func (c *PI) Integrator() int64 {
	return c.integrator
}

// Limits returns the configured control signal bounds.
func (c *PI) Limits() (minCmd, maxCmd int32) {
	return c.cfg.Min, c.cfg.Max
}
