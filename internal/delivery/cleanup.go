package delivery

import (
	"context"
	"time"
)

// RunCleanup evicts finished deliveries until the context is cancelled.
func (t *Tracker) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(t.deps.Config.CleanupTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.evict(t.now()); n > 0 {
				t.deps.Logger.Infof("tracking cleanup: evicted %d deliveries", n)
			}
		}
	}
}

// evict drops sessions that reached a terminal status more than the
// retention period ago.
func (t *Tracker) evict(now time.Time) int {
	t.mu.RLock()
	candidates := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		candidates = append(candidates, s)
	}
	t.mu.RUnlock()

	evicted := 0
	for _, s := range candidates {
		s.mu.Lock()
		expired := !s.closedAt.IsZero() && now.Sub(s.closedAt) >= t.deps.Config.Retention
		s.mu.Unlock()
		if !expired {
			continue
		}

		t.mu.Lock()
		delete(t.sessions, s.ID)
		t.mu.Unlock()
		evicted++

		if t.deps.Hub != nil {
			t.deps.Hub.Close(s.ID)
		}
		if t.deps.Positions != nil {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if err := t.deps.Positions.Forget(ctx, s.ID); err != nil {
				t.deps.Logger.Errorf("tracking cleanup: forget position of %s: %v", s.ID, err)
			}
			cancel()
		}
		if t.deps.Notifier != nil {
			t.deps.Notifier.Forget(s.ID)
		}
	}
	return evicted
}
