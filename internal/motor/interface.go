package motor

// Sensor reads the wrapping hardware position counter and the monotonic
// millisecond clock of the sensing node.
type Sensor interface {
	// ReadCounter samples the position counter. The value wraps modulo
	// 65536; the estimator owns the wraparound correction.
	ReadCounter() (int16, error)
	// NowMillis returns the millisecond clock associated with the most
	// recent counter sample.
	NowMillis() uint32
}

// Actuator applies control commands to the motor. Enable and Disable
// bracket a servo session; Apply(0) is the fail-safe neutral command.
type Actuator interface {
	Apply(command int32) error
	Enable() error
	Disable() error
}

// Motor is a combined sensing and actuating device.
type Motor interface {
	Sensor
	Actuator
	Close() error
}
