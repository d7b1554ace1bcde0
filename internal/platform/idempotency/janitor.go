package idempotency

import (
	"context"
	"time"
)

// RunJanitor purges expired keys every interval until ctx is cancelled.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batch int, log LogFunc) {
	if store == nil || interval <= 0 {
		return
	}
	if log == nil {
		log = func(context.Context, string, map[string]any) {}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Purge(ctx, now, batch)
			if err != nil {
				log(ctx, "idempotency.purge.failed", map[string]any{"error": err})
				continue
			}
			if removed > 0 {
				log(ctx, "idempotency.purged", map[string]any{"removed": removed})
			}
		}
	}
}
