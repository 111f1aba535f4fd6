// Package encoder converts raw position counter samples into a filtered
// angular velocity estimate. The counter is a wrapping 16-bit register;
// a single sampling interval can never move the shaft more than half the
// counter span, which is what makes the wraparound correction sound.
package encoder

import (
	"codeberg.org/mutker/servoctl/internal/errors"
)

const (
	counterSpan     = 65536
	halfCounterSpan = 32767
	millisPerMinute = 60000
)

type Config struct {
	// Resolution is the number of counter increments per shaft revolution.
	Resolution int
	// FilterNum and FilterDen are the integer weights of the single-pole
	// low-pass filter. FilterNum == FilterDen disables filtering.
	FilterNum int
	FilterDen int
}

func DefaultConfig() Config {
	return Config{
		Resolution: 44,
		FilterNum:  1,
		FilterDen:  10,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Resolution <= 0 {
		return errFactory.WithData(ErrInvalidResolution, c.Resolution)
	}
	if c.FilterDen <= 0 || c.FilterNum < 0 || c.FilterNum > c.FilterDen {
		return errFactory.WithData(ErrInvalidFilter, [2]int{c.FilterNum, c.FilterDen})
	}

	return nil
}

// Estimator derives velocity from successive counter snapshots. It is a
// pure state machine: no I/O, never fails, always returns a value.
type Estimator struct {
	cfg         Config
	prevCount   int16
	prevMillis  uint32
	filtered    int32
	initialized bool
}

func New(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Estimator{cfg: cfg}, nil
}

// Estimate consumes one counter snapshot and returns the velocity in RPM.
// The first call after a reset establishes the reference point and returns 0.
// A repeated timestamp returns the previous output without touching state.
func (e *Estimator) Estimate(count int16, millis uint32) int32 {
	if !e.initialized {
		e.prevCount = count
		e.prevMillis = millis
		e.filtered = 0
		e.initialized = true

		return 0
	}

	// Unsigned subtraction wraps correctly if the millisecond clock wraps.
	dt := millis - e.prevMillis
	if dt == 0 {
		return e.filtered
	}

	diff := int32(count) - int32(e.prevCount)
	if diff > halfCounterSpan {
		diff -= counterSpan
	} else if diff < -halfCounterSpan {
		diff += counterSpan
	}

	num := int64(diff) * millisPerMinute
	den := int64(e.cfg.Resolution) * int64(dt)

	// Round half away from zero
	var rpm int64
	if num >= 0 {
		rpm = (num + den/2) / den
	} else {
		rpm = (num - den/2) / den
	}

	raw := int32(rpm)
	if e.cfg.FilterNum != e.cfg.FilterDen {
		n := int64(e.cfg.FilterNum)
		d := int64(e.cfg.FilterDen)
		raw = int32((n*int64(raw) + (d-n)*int64(e.filtered)) / d)
	}

	e.prevCount = count
	e.prevMillis = millis
	e.filtered = raw

	return raw
}

// Reset discards the reference point. The next Estimate call returns 0.
func (e *Estimator) Reset() {
	e.prevCount = 0
	e.prevMillis = 0
	e.filtered = 0
	e.initialized = false
}
