package chat

import (
	"context"

	"github.com/cloudzz-dev/relaychat/internal/protocol"
)

// Pump applies events to s strictly in channel order until events is closed
// (returns nil) or ctx is done (returns ctx.Err()). It is the event loop for
// callers without one of their own; nothing else may touch s while it runs.
func Pump(ctx context.Context, s *Synchronizer, events <-chan protocol.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Handle(ev)
		}
	}
}
