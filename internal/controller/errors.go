package controller

import "codeberg.org/mutker/servoctl/internal/errors"

const (
	ErrInvalidGains = errors.ErrorCode("controller_invalid_gains")
	ErrInvalidRange = errors.ErrorCode("controller_invalid_range")
)
