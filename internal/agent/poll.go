package agent

import (
	"context"
	"time"
)

// StartGrantPoll re-checks the key status in the background while the
// agent waits on an admin grant. onChange fires whenever the status
// moves; the poll stops on its own once the agent leaves
// pending_access, or when ctx is cancelled.
func StartGrantPoll(ctx context.Context, a *Agent, interval time.Duration, onChange func(Status)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := a.Status()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if a.Status() != StatusPendingAccess {
					return
				}
				status, err := a.Refresh(ctx)
				if err != nil {
					continue
				}
				if status != last {
					last = status
					if onChange != nil {
						onChange(status)
					}
				}
				if status != StatusPendingAccess {
					return
				}
			}
		}
	}()
}
