// Package watchdog implements the periodic stall/idle sweep spec.md §4.6
// describes: for every unpaused project, check for a pending message stuck
// past stall-timeout, then for overall inactivity past idle-timeout, and
// pause the project when either fires. Grounded on
// original_source/brain/watchdog_task.py's check_for_stalled_projects loop
// (stale-pending check first, then idle check, "continue" on the first
// hit) — the original's own 1.5-minute timeouts are a dev-loop artifact and
// are not preserved; config.StallTimeout/IdleTimeout default to 10 minutes
// each instead.
package watchdog

import (
	"context"
	"log"
	"time"

	"github.com/opencrew/agent-mesh/internal/models"
	"github.com/opencrew/agent-mesh/internal/turnengine"
)

// Watchdog owns the ticker loop. It only reads project state and calls
// Repo.Pause — it never touches the run lock, so it composes safely with
// whichever Dispatcher (cmd/api's or cmd/worker's) currently owns a
// project's turn loop: pausing sets a flag the engine's next flag check
// observes, exactly like a manual pause from the settings API.
type Watchdog struct {
	repo *turnengine.Repo

	interval     time.Duration
	stallTimeout time.Duration
	idleTimeout  time.Duration
}

func New(repo *turnengine.Repo, interval, stallTimeout, idleTimeout time.Duration) *Watchdog {
	return &Watchdog{
		repo:         repo,
		interval:     interval,
		stallTimeout: stallTimeout,
		idleTimeout:  idleTimeout,
	}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	log.Printf("watchdog: started interval=%s stall-timeout=%s idle-timeout=%s", w.interval, w.stallTimeout, w.idleTimeout)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("watchdog: stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep runs one full pass over active projects, per
// check_for_stalled_projects: stale-pending check first, idle check only if
// the project wasn't already paused for a stuck queue.
func (w *Watchdog) sweep(ctx context.Context) {
	projects, err := w.repo.ActiveProjects(ctx)
	if err != nil {
		log.Printf("watchdog: list active projects: %v", err)
		return
	}
	if len(projects) == 0 {
		return
	}

	now := time.Now().UTC()
	for _, p := range projects {
		if w.checkStalledPending(ctx, p.ID, now) {
			continue
		}
		w.checkIdle(ctx, p, now)
	}
}

// checkStalledPending pauses the project and reports true if its oldest
// pending message has sat unanswered longer than stall-timeout.
func (w *Watchdog) checkStalledPending(ctx context.Context, projectID string, now time.Time) bool {
	oldest, err := w.repo.OldestPending(ctx, projectID)
	if err != nil {
		log.Printf("watchdog: project %s oldest-pending: %v", projectID, err)
		return false
	}
	if oldest == nil {
		return false
	}
	age := now.Sub(oldest.CreatedAt.UTC())
	if age <= w.stallTimeout {
		return false
	}
	msg := "pending message stuck for " + age.Round(time.Second).String()
	if err := w.repo.Pause(ctx, projectID, "STUCK_QUEUE_TIMEOUT", msg); err != nil {
		log.Printf("watchdog: pause project %s (stall): %v", projectID, err)
	}
	return true
}

// checkIdle pauses the project if it has seen no activity longer than
// idle-timeout.
func (w *Watchdog) checkIdle(ctx context.Context, p models.Project, now time.Time) {
	if p.LastActivityAt.IsZero() {
		return
	}
	age := now.Sub(p.LastActivityAt.UTC())
	if age <= w.idleTimeout {
		return
	}
	msg := "no activity for " + age.Round(time.Second).String()
	if err := w.repo.Pause(ctx, p.ID, "IDLE_TIMEOUT", msg); err != nil {
		log.Printf("watchdog: pause project %s (idle): %v", p.ID, err)
	}
}
