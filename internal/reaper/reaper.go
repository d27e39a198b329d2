// Package reaper reclaims playground resources: a startup reconcile
// cleans up containers and session records orphaned by a previous
// process, and a periodic sweep terminates idle sessions.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/conneradamsmaine/playgroundd/internal/store"
)

const orphanReason = "orphaned"

type Reaper struct {
	store    Store
	engine   Engine
	manager  Manager
	interval time.Duration
	logger   *slog.Logger
}

func New(st Store, engine Engine, manager Manager, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reaper{
		store:    st,
		engine:   engine,
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

// Run reconciles once, then sweeps on the interval until the context is
// cancelled. Call before the first session is created so every live
// record and managed container found is a true orphan.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval)

	r.Reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			if n := r.manager.SweepIdle(ctx); n > 0 {
				r.logger.Info("idle sweep reclaimed sessions", "count", n)
			}
		}
	}
}

// Reconcile removes containers left behind by a previous process and
// closes out their session records.
func (r *Reaper) Reconcile(ctx context.Context) {
	r.logger.Info("reconciliation starting")

	containers, err := r.engine.ListManaged(ctx)
	if err != nil {
		r.logger.Error("reconcile: list managed containers", "error", err)
	} else {
		for _, c := range containers {
			r.logger.Warn("reconcile: removing orphan container",
				"container_id", c.ContainerID, "session_id", c.SessionID)
			r.engine.Remove(ctx, c.ContainerID)
		}
	}

	live, err := r.store.ListLiveSessions()
	if err != nil {
		r.logger.Error("reconcile: list live sessions", "error", err)
		return
	}
	reason := orphanReason
	for _, sess := range live {
		r.logger.Warn("reconcile: closing orphan session record", "session_id", sess.SessionID)
		update := store.StatusUpdate{Reason: &reason, Ended: true}
		if err := r.store.UpdateSessionStatus(sess.SessionID, "stopped", update); err != nil {
			r.logger.Error("reconcile: update session status",
				"session_id", sess.SessionID, "error", err)
		}
	}

	r.logger.Info("reconciliation complete",
		"orphan_containers", len(containers), "orphan_sessions", len(live))
}
