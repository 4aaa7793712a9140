package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// cooldownKeySeparator joins user ID and command name into a map key.
// Both are numeric-ID-like strings, so "/" can't collide.
const cooldownKeySeparator = "/"

// CooldownTracker tracks per-(user, command) cooldown expirations in
// memory. Expired entries are removed lazily on check, with a periodic
// sweep as a safety net. All methods are safe for concurrent use.
type CooldownTracker struct {
	mu      sync.Mutex
	entries map[string]int64 // key -> expiry, unix millis
	logger  *slog.Logger

	sweepInterval time.Duration
	stopSweep     context.CancelFunc
	sweepDone     chan struct{}
}

func newCooldownTracker(
	sweepInterval time.Duration,
	logger *slog.Logger,
) *CooldownTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultCooldownSweepInterval
	}
	return &CooldownTracker{
		entries:       map[string]int64{},
		logger:        logger.With(loggerNameKey, "cooldown_tracker"),
		sweepInterval: sweepInterval,
	}
}

func cooldownKey(userID string, commandName string) string {
	return userID + cooldownKeySeparator + commandName
}

// CheckRemaining returns the number of whole seconds remaining on the
// cooldown for (userID, commandName), rounded up, or 0 if no cooldown is
// active. An entry whose expiry has passed is removed and treated as
// absent, whether or not the sweep has run.
func (c *CooldownTracker) CheckRemaining(userID string, commandName string) int {
	key := cooldownKey(userID, commandName)

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt, ok := c.entries[key]
	if !ok {
		return 0
	}
	remainingMillis := expiresAt - time.Now().UnixMilli()
	if remainingMillis <= 0 {
		delete(c.entries, key)
		return 0
	}
	return int((remainingMillis + 999) / 1000)
}

// Set inserts or overwrites the cooldown entry for (userID, commandName),
// expiring after the given duration.
func (c *CooldownTracker) Set(
	userID string,
	commandName string,
	duration time.Duration,
) {
	if duration <= 0 {
		return
	}
	key := cooldownKey(userID, commandName)
	expiresAt := time.Now().Add(duration).UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = expiresAt
}

// Clear removes the cooldown entry for (userID, commandName), if any.
func (c *CooldownTracker) Clear(userID string, commandName string) {
	key := cooldownKey(userID, commandName)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// size returns the current entry count, including not-yet-swept expired
// entries.
func (c *CooldownTracker) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweep removes every entry whose expiry has already passed, returning
// the number removed.
func (c *CooldownTracker) sweep() int {
	now := time.Now().UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, expiresAt := range c.entries {
		if expiresAt <= now {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Start launches the periodic sweep. It returns immediately; the sweep
// runs until Stop is called or ctx is cancelled.
func (c *CooldownTracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.stopSweep = cancel
	c.sweepDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.sweep(); removed > 0 {
					c.logger.Debug(
						"swept expired cooldown entries",
						"removed", removed,
					)
				}
			}
		}
	}()
}

// Stop cancels the periodic sweep and waits for it to exit. Safe to call
// when the sweep was never started.
func (c *CooldownTracker) Stop() {
	c.mu.Lock()
	cancel := c.stopSweep
	done := c.sweepDone
	c.stopSweep = nil
	c.sweepDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
