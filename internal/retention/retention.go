// Package retention implements the Retention Engine from spec.md §4.4: a
// periodic pass that evicts oldest-unpinned sessions under age, count, and
// byte-size caps, sweeps orphaned snapshot assets, and exposes session
// export/import. Pins are inviolable — retention never deletes a pinned
// session, even if that leaves the database over budget.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/basinlabs/browserbridge/internal/store"
)

// sizePhaseIterationCap is the emergency stop on the size phase's
// delete-oldest-unpinned loop (spec.md §4.4, §9 Open Question: this warning
// is intentionally distinct from the "only pinned remain" warning below).
const sizePhaseIterationCap = 5000

// Result reports what one Run pass did.
type Result struct {
	DeletedSessions  int    `json:"deletedSessions"`
	OrphanAssetsSwept int   `json:"orphanAssetsSwept"`
	PinnedProtected  bool   `json:"pinnedProtected,omitempty"`
	Warning          string `json:"warning,omitempty"`
	Compacted        bool   `json:"compacted,omitempty"`
}

// Engine owns the Store handle the retention pass operates against. A
// singleflight.Group collapses concurrent triggers (the scheduled loop and
// an admin-initiated run-cleanup landing at the same moment) into one pass.
type Engine struct {
	store *store.Store
	log   zerolog.Logger
	sf    singleflight.Group
}

// New builds a retention Engine over the given Store.
func New(s *store.Store, log zerolog.Logger) *Engine {
	return &Engine{store: s, log: log.With().Str("component", "retention").Logger()}
}

// DueForRun reports whether enough time has elapsed since the last recorded
// cleanup to justify another pass, per the configured interval.
func DueForRun(settings store.ServerSettings, now time.Time) bool {
	if settings.CleanupIntervalMinutes <= 0 {
		return false
	}
	nextDue := settings.LastCleanupAt + int64(settings.CleanupIntervalMinutes)*60_000
	return now.UnixMilli() >= nextDue
}

// Run executes one retention pass, collapsing concurrent callers via
// singleflight so a scheduled tick and an admin-triggered run never race.
func (e *Engine) Run(ctx context.Context, now time.Time) (*Result, error) {
	v, err, _ := e.sf.Do("run", func() (any, error) {
		return e.runLocked(ctx, now)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// runLocked is the actual pass: age phase, count phase, size phase, then an
// orphan asset sweep. Each phase's deletions commit as they go; a phase that
// reports pinnedProtected stops early without attempting the next.
func (e *Engine) runLocked(ctx context.Context, now time.Time) (*Result, error) {
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("retention: load settings: %w", err)
	}

	res := &Result{}

	if err := e.runAgePhase(ctx, settings, now, res); err != nil {
		return nil, err
	}
	if !res.PinnedProtected {
		if err := e.runCountPhase(ctx, settings, res); err != nil {
			return nil, err
		}
	}
	if !res.PinnedProtected {
		if err := e.runSizePhase(ctx, settings, res); err != nil {
			return nil, err
		}
	}

	swept, err := e.store.SweepOrphanAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("retention: sweep orphan assets: %w", err)
	}
	res.OrphanAssetsSwept = swept

	if err := e.store.MarkCleanupRan(ctx, now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("retention: mark cleanup: %w", err)
	}

	e.log.Info().
		Int("deletedSessions", res.DeletedSessions).
		Int("orphanAssetsSwept", res.OrphanAssetsSwept).
		Bool("pinnedProtected", res.PinnedProtected).
		Bool("compacted", res.Compacted).
		Msg("retention pass complete")
	return res, nil
}

// Loop runs retention passes on a ticker until ctx is cancelled, checking
// DueForRun each tick against the persisted interval and last-cleanup
// timestamp so a restart shortly after a prior pass doesn't immediately
// trigger another one. Intended to be supervised by an errgroup alongside
// the listener and stdio goroutines.
func (e *Engine) Loop(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			settings, err := e.store.GetSettings(ctx)
			if err != nil {
				e.log.Error().Err(err).Msg("retention loop: load settings failed")
				continue
			}
			if !DueForRun(*settings, time.Now()) {
				continue
			}
			if _, err := e.Run(ctx, time.Now()); err != nil {
				e.log.Error().Err(err).Msg("retention pass failed")
			}
		}
	}
}

// runAgePhase deletes every unpinned session older than retention_days,
// stopping as soon as no more matching unpinned session exists.
func (e *Engine) runAgePhase(ctx context.Context, settings *store.ServerSettings, now time.Time, res *Result) error {
	if settings.RetentionDays <= 0 {
		return nil
	}
	cutoff := now.Add(-time.Duration(settings.RetentionDays) * 24 * time.Hour).UnixMilli()
	for {
		id, found, err := e.store.OldestUnpinnedSessionID(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("retention: age phase lookup: %w", err)
		}
		if !found {
			return nil
		}
		if err := e.store.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("retention: age phase delete %s: %w", id, err)
		}
		res.DeletedSessions++
	}
}

// runCountPhase deletes oldest-unpinned sessions while the total exceeds
// max_sessions, stopping (with a warning) if only pinned sessions remain.
func (e *Engine) runCountPhase(ctx context.Context, settings *store.ServerSettings, res *Result) error {
	if settings.MaxSessions <= 0 {
		return nil
	}
	for {
		n, err := e.store.CountSessions(ctx)
		if err != nil {
			return fmt.Errorf("retention: count phase count: %w", err)
		}
		if n <= settings.MaxSessions {
			return nil
		}
		id, found, err := e.store.OldestUnpinnedSessionID(ctx, 0)
		if err != nil {
			return fmt.Errorf("retention: count phase lookup: %w", err)
		}
		if !found {
			res.PinnedProtected = true
			res.Warning = "session count over budget but only pinned sessions remain"
			return nil
		}
		if err := e.store.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("retention: count phase delete %s: %w", id, err)
		}
		res.DeletedSessions++
	}
}

// runSizePhase deletes oldest-unpinned sessions while the DB file exceeds
// max_db_mb, capped at sizePhaseIterationCap iterations as an emergency
// stop, then compacts if any deletion happened.
func (e *Engine) runSizePhase(ctx context.Context, settings *store.ServerSettings, res *Result) error {
	if settings.MaxDBMb <= 0 {
		return nil
	}
	maxBytes := int64(settings.MaxDBMb) * 1024 * 1024
	deletedThisPhase := 0

	for i := 0; i < sizePhaseIterationCap; i++ {
		size, err := e.store.DBSizeBytes()
		if err != nil {
			return fmt.Errorf("retention: size phase stat: %w", err)
		}
		if size <= maxBytes {
			break
		}
		id, found, err := e.store.OldestUnpinnedSessionID(ctx, 0)
		if err != nil {
			return fmt.Errorf("retention: size phase lookup: %w", err)
		}
		if !found {
			res.PinnedProtected = true
			res.Warning = "database size over budget but only pinned sessions remain"
			break
		}
		if err := e.store.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("retention: size phase delete %s: %w", id, err)
		}
		res.DeletedSessions++
		deletedThisPhase++

		if i == sizePhaseIterationCap-1 {
			res.Warning = fmt.Sprintf("size phase hit the %d-iteration safety cap", sizePhaseIterationCap)
		}
	}

	if deletedThisPhase > 0 {
		if err := e.store.Compact(ctx); err != nil {
			return fmt.Errorf("retention: compact: %w", err)
		}
		res.Compacted = true
	}
	return nil
}
