package motor

import (
	"math"
	"sync"
	"time"
)

const fullScale = 1 << 30 // command magnitude for 100% duty

// SimConfig describes the simulated plant.
type SimConfig struct {
	// MaxRPM is the steady-state velocity at full positive command.
	MaxRPM int32
	// TimeConstant of the first-order velocity response.
	TimeConstant time.Duration
	// Resolution is the number of counter increments per revolution.
	Resolution int
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		MaxRPM:       3000,
		TimeConstant: 100 * time.Millisecond,
		Resolution:   44,
	}
}

// Sim is a first-order motor model behind the Sensor/Actuator interfaces.
// It stands in for the real drive in local mode and in tests.
type Sim struct {
	cfg SimConfig
	now func() time.Time

	mu       sync.Mutex
	enabled  bool
	command  int32
	velocity float64 // rpm
	position float64 // revolutions
	start    time.Time
	last     time.Time
}

func NewSim(cfg SimConfig) *Sim {
	if cfg.Resolution <= 0 {
		cfg.Resolution = DefaultSimConfig().Resolution
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = DefaultSimConfig().TimeConstant
	}

	s := &Sim{
		cfg: cfg,
		now: time.Now,
	}
	s.start = s.now()
	s.last = s.start

	return s
}

// SetClock replaces the wall clock. Tests use this to step time
// deterministically.
func (s *Sim) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.start = now()
	s.last = s.start
}

func (s *Sim) ReadCounter() (int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()

	counts := int64(s.position * float64(s.cfg.Resolution))

	return int16(counts), nil // wraps modulo 65536
}

func (s *Sim) NowMillis() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return uint32(s.now().Sub(s.start).Milliseconds())
}

func (s *Sim) Apply(command int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	s.command = command

	return nil
}

func (s *Sim) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	s.enabled = true

	return nil
}

func (s *Sim) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	s.enabled = false
	s.command = 0

	return nil
}

func (s *Sim) Close() error {
	return nil
}

// Velocity returns the current model velocity in RPM.
func (s *Sim) Velocity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()

	return s.velocity
}

// step advances the plant to the current time. Callers hold s.mu.
func (s *Sim) step() {
	now := s.now()
	dt := now.Sub(s.last)
	if dt <= 0 {
		return
	}
	s.last = now

	target := 0.0
	if s.enabled {
		target = float64(s.cfg.MaxRPM) * float64(s.command) / fullScale
	}

	alpha := 1 - math.Exp(-dt.Seconds()/s.cfg.TimeConstant.Seconds())
	s.velocity += (target - s.velocity) * alpha
	s.position += s.velocity * dt.Minutes()
}
