// File: internal/session/context_utils.go
package session

import "context"

// combineContext creates a context canceled when either parent is canceled.
// Page operations must respect both the session lifetime and the incoming
// request's deadline, so every navigate/capture runs under a combined context.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
			// Already canceled via the primary; nothing to propagate.
		}
	}()

	return combined, cancel
}
