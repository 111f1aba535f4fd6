package loop

import "codeberg.org/mutker/servoctl/internal/errors"

const (
	ErrDialFailed    = errors.ErrorCode("link_dial_failed")
	ErrListenFailed  = errors.ErrorCode("link_listen_failed")
	ErrAcceptFailed  = errors.ErrorCode("link_accept_failed")
	ErrSessionFault  = errors.ErrorCode("link_session_fault")
	ErrMotorFailed   = errors.ErrorCode("link_motor_failed")
	ErrInvalidConfig = errors.ErrorCode("link_invalid_config")
)
