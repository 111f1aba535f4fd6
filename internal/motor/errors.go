package motor

import "codeberg.org/mutker/servoctl/internal/errors"

const (
	ErrOpenFailed      = errors.ErrorCode("motor_open_failed")
	ErrReadFailed      = errors.ErrorCode("motor_read_failed")
	ErrWriteFailed     = errors.ErrorCode("motor_write_failed")
	ErrMalformedSample = errors.ErrorCode("motor_malformed_sample")
	ErrCloseFailed     = errors.ErrorCode("motor_close_failed")
)
