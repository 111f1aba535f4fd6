package encoder

import "codeberg.org/mutker/servoctl/internal/errors"

const (
	ErrInvalidResolution = errors.ErrorCode("encoder_invalid_resolution")
	ErrInvalidFilter     = errors.ErrorCode("encoder_invalid_filter_weights")
)
