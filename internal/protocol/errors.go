package protocol

import "codeberg.org/mutker/servoctl/internal/errors"

const (
	ErrTruncatedMessage = errors.ErrorCode("protocol_truncated_message")
	ErrReadFailed       = errors.ErrorCode("protocol_read_failed")
	ErrWriteFailed      = errors.ErrorCode("protocol_write_failed")
)
