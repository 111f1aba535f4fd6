package telemetry

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Snapshot captures one control tick.
type Snapshot struct {
	Timestamp time.Time
	// Millis is the sensing node's clock at the tick.
	Millis    uint32
	Reference int32
	Velocity  int32
	Command   int32
	Saturated bool
	// Phase is the link session phase at the time of the tick.
	Phase string
}
