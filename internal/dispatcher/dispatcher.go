// Package dispatcher implements the at-most-one-concurrent-run guarantee
// (spec.md §5) for a project's turn engine, and the "nudge" delivery paths
// spec.md §4.5 allows: in-process (a live worker goroutine, used by
// cmd/api for immediate local turnaround in dev) and queued (durable AMQP,
// used in production so the API and worker are separate processes per
// spec.md §2).
package dispatcher

import (
	"context"
	"log"
	"sync"

	"github.com/opencrew/agent-mesh/internal/store/rabbitmq"
	"github.com/opencrew/agent-mesh/internal/turnengine"
)

// projectLock is one project's run state: whether a goroutine currently
// owns the run loop, and whether a nudge arrived while it was running
// (the re-check flag spec.md §5 requires so a nudge is never silently
// dropped while a run is in flight).
type projectLock struct {
	mu      sync.Mutex
	running bool
	recheck bool
}

// Dispatcher owns the per-project lock table and drives Engine.Run under
// it. A single Dispatcher is shared by every goroutine/consumer in one
// worker process.
type Dispatcher struct {
	engine *turnengine.Engine

	locksMu sync.Mutex
	locks   map[string]*projectLock

	publisher *rabbitmq.Publisher // nil in single-process/dev mode
}

func New(engine *turnengine.Engine, publisher *rabbitmq.Publisher) *Dispatcher {
	return &Dispatcher{
		engine:    engine,
		locks:     make(map[string]*projectLock),
		publisher: publisher,
	}
}

func (d *Dispatcher) lockFor(projectID string) *projectLock {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	l, ok := d.locks[projectID]
	if !ok {
		l = &projectLock{}
		d.locks[projectID] = l
	}
	return l
}

// Nudge is the in-process delivery path (spec.md §4.5): if the project has
// no active run, start one in a new goroutine; if a run is already in
// flight, set the re-check flag so it loops again after finishing instead
// of missing this event.
//
// The spawned run deliberately does not inherit the caller's ctx: callers
// routinely pass an HTTP handler's request context, which is canceled the
// instant the handler returns, well before the goroutine gets to run. The
// run is detached and lives for as long as it takes, independent of the
// request that triggered it.
func (d *Dispatcher) Nudge(ctx context.Context, projectID string) {
	l := d.lockFor(projectID)

	l.mu.Lock()
	if l.running {
		l.recheck = true
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	go d.runUntilQuiet(context.Background(), projectID, l)
}

// runUntilQuiet runs the engine, then re-runs it once per re-check flag
// set while it was busy, so a nudge that arrived mid-run is never lost —
// it is either observed by the in-flight run's own pending-queue scan, or
// picked up by exactly one extra pass afterward.
func (d *Dispatcher) runUntilQuiet(ctx context.Context, projectID string, l *projectLock) {
	for {
		if err := d.engine.Run(ctx, projectID); err != nil {
			log.Printf("dispatcher: project %s run failed: %v", projectID, err)
		}

		l.mu.Lock()
		if !l.recheck {
			l.running = false
			l.mu.Unlock()
			return
		}
		l.recheck = false
		l.mu.Unlock()
	}
}

// RunNow is the blocking counterpart to Nudge, used by cmd/worker's AMQP
// consumer: it waits for exclusive ownership of the project's run lock,
// runs the engine once, and returns the run's error so the caller can
// ack/nack the delivery on the actual outcome. Two deliveries for the
// same project landing on different consumer goroutines serialize
// correctly — the second simply blocks on the same mutex until the
// first's run finishes, preserving the at-most-one-active-run invariant
// (spec.md §5) exactly, unlike Nudge's fire-and-forget re-check flag.
func (d *Dispatcher) RunNow(ctx context.Context, projectID string) error {
	l := d.lockFor(projectID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return d.engine.Run(ctx, projectID)
}

// PublishNudge is the out-of-process delivery path: publish a durable AMQP
// message and let a separate cmd/worker process's Consume loop call Nudge
// against its own Dispatcher instance.
func (d *Dispatcher) PublishNudge(ctx context.Context, projectID string) error {
	if d.publisher == nil {
		d.Nudge(ctx, projectID)
		return nil
	}
	return d.publisher.PublishNudge(ctx, projectID)
}
