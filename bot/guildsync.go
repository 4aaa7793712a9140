package bot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lmittmann/tint"
)

// OwnerNotifier sends a direct message to a guild owner. Implemented by
// the Discord integration; defined as an interface for testing.
type OwnerNotifier interface {
	NotifyOwner(ctx context.Context, ownerID string, message string) error
}

// SyncFailure records a single guild's sync error.
type SyncFailure struct {
	GuildID string
	Err     error
}

// SyncResult is the aggregate outcome of one sync run. Built once per run
// and returned to the caller; not persisted.
type SyncResult struct {
	Total  int
	Synced int
	Failed int
	Errors []SyncFailure
}

func (r SyncResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("total", r.Total),
		slog.Int("synced", r.Synced),
		slog.Int("failed", r.Failed),
	)
}

// GuildSyncCoordinator pushes guild snapshots to the backend. Bulk syncs
// fan out one operation per guild with isolated failures; the single
// guild-join flow additionally classifies errors to decide whether the
// guild owner is notified.
type GuildSyncCoordinator struct {
	backend  BackendClient
	notifier OwnerNotifier
	logger   *slog.Logger

	metricSynced atomic.Int64
	metricFailed atomic.Int64
}

func newGuildSyncCoordinator(
	backend BackendClient,
	notifier OwnerNotifier,
	logger *slog.Logger,
) *GuildSyncCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuildSyncCoordinator{
		backend:  backend,
		notifier: notifier,
		logger:   logger.With(loggerNameKey, "guild_sync"),
	}
}

// SyncOne upserts a single guild snapshot, propagating the raw error so
// callers can classify or count it.
func (g *GuildSyncCoordinator) SyncOne(
	ctx context.Context,
	guild GuildSnapshot,
) error {
	_, err := g.backend.CreateGuild(ctx, guild)
	return err
}

// SyncAll upserts every guild concurrently. Each per-guild operation is
// fully independent: one guild's failure doesn't cancel or delay the
// others, and the aggregate waits for all operations to settle before
// returning. Errors are collected into the result, never returned.
func (g *GuildSyncCoordinator) SyncAll(
	ctx context.Context,
	guilds []GuildSnapshot,
) SyncResult {
	result := SyncResult{Total: len(guilds)}
	if len(guilds) == 0 {
		return result
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, guild := range guilds {
		wg.Add(1)
		go func(guild GuildSnapshot) {
			defer wg.Done()
			if err := g.SyncOne(ctx, guild); err != nil {
				g.metricFailed.Add(1)
				g.logger.WarnContext(
					ctx,
					"guild sync failed",
					tint.Err(err),
					"guild", guild,
					"classification", string(classifyError(err)),
				)
				mu.Lock()
				result.Failed++
				result.Errors = append(
					result.Errors,
					SyncFailure{GuildID: guild.ID, Err: err},
				)
				mu.Unlock()
				return
			}
			g.metricSynced.Add(1)
			mu.Lock()
			result.Synced++
			mu.Unlock()
		}(guild)
	}

	wg.Wait()
	g.logger.InfoContext(ctx, "guild sync completed", "result", result)
	return result
}

// HandleGuildJoin registers a newly joined guild with the backend. On
// failure the error is classified: a conflict means the guild is already
// known and is swallowed as benign; a permanent error notifies the guild
// owner before being returned; transient errors are returned without
// notification (an outer mechanism retries those).
func (g *GuildSyncCoordinator) HandleGuildJoin(
	ctx context.Context,
	guild GuildSnapshot,
) error {
	_, err := g.backend.CreateGuild(ctx, guild)
	if err == nil {
		g.metricSynced.Add(1)
		g.logger.InfoContext(ctx, "registered new guild", "guild", guild)
		return nil
	}

	switch classification := classifyError(err); classification {
	case ClassificationConflict:
		g.logger.InfoContext(
			ctx,
			"guild already registered",
			"guild", guild,
		)
		return nil
	case ClassificationPermanent:
		g.metricFailed.Add(1)
		g.logger.ErrorContext(
			ctx,
			"permanent error registering guild",
			tint.Err(err),
			"guild", guild,
		)
		if g.notifier != nil {
			if notifyErr := g.notifier.NotifyOwner(
				ctx,
				guild.OwnerID,
				guildSetupFailedMessage,
			); notifyErr != nil {
				g.logger.ErrorContext(
					ctx,
					"error notifying guild owner",
					tint.Err(notifyErr),
					"guild", guild,
				)
			}
		}
		return err
	default:
		g.metricFailed.Add(1)
		g.logger.WarnContext(
			ctx,
			"error registering guild",
			tint.Err(err),
			"guild", guild,
			"classification", string(classification),
		)
		return err
	}
}
