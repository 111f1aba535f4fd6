// Package loop runs the periodic control cycle in its three shapes: the
// co-located loop, the sensing-node client and the controlling-node server.
// The client and server sides of the split topology share the link session
// state machine in this package: on any transport fault the actuator is
// forced to neutral first, resources are released, state is reset, and the
// session is retried forever with a fixed backoff.
package loop

import (
	"context"
	"time"
)

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
