package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// SetEvictionConfig sets how long a session may stay silent and how often the
// sweeper looks. A zero value for either disables eviction.
func (r *MemoryRegistry) SetEvictionConfig(idle, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictIdle = idle
	r.evictInterval = interval
}

// StartIdleSweeper runs the idle sweep in the background until ctx is done and
// reports whether it started. At most one sweeper runs per registry.
func (r *MemoryRegistry) StartIdleSweeper(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx == nil || r.evictRunning || r.evictIdle <= 0 || r.evictInterval <= 0 {
		return false
	}
	r.evictRunning = true
	go r.sweepIdle(ctx, r.evictIdle, r.evictInterval)
	return true
}

func (r *MemoryRegistry) sweepIdle(ctx context.Context, idle, interval time.Duration) {
	logger := log.With().
		Str("component", "relay").
		Dur("idle", idle).
		Dur("interval", interval).
		Logger()
	logger.Debug().Msg("idle sweeper started")

	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		r.mu.Lock()
		r.evictRunning = false
		r.mu.Unlock()
		logger.Debug().Msg("idle sweeper stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			evicted := r.evictIdleOnce(now)
			if len(evicted) == 0 {
				continue
			}
			logger.Info().
				Strs("session_ids", evicted).
				Int("live", r.Count()).
				Msg("evicted idle sessions")
		}
	}
}

// evictIdleOnce closes every session whose last frame is older than the idle
// threshold and returns their ids.
func (r *MemoryRegistry) evictIdleOnce(now time.Time) []string {
	if now.IsZero() {
		now = time.Now()
	}

	r.mu.Lock()
	if r.evictIdle <= 0 {
		r.mu.Unlock()
		return nil
	}
	cutoff := now.Add(-r.evictIdle)
	var stale []*Session
	for id, s := range r.sessions {
		if !s.LastActivity().After(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, s := range stale {
		s.Close()
		ids = append(ids, s.ID)
	}
	return ids
}
