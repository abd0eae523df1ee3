package library

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultAutoSaveInterval is the pause between two automatic snapshots.
const DefaultAutoSaveInterval = 10 * time.Second

// AutoSaverState is the lifecycle position of an AutoSaver.
type AutoSaverState int

const (
	Idle AutoSaverState = iota
	Running
	StopRequested
	Stopped
)

func (s AutoSaverState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopRequested:
		return "stop requested"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Snapshotter writes one snapshot to a sink. *Exporter implements it.
type Snapshotter interface {
	Export(ctx context.Context, sink Sink) (*ExportResult, error)
}

// AutoSaver periodically exports the catalog to a fixed sink while the
// interactive loop keeps running. An AutoSaver runs at most once: after Stop
// a new one has to be created.
type AutoSaver struct {
	snapshots Snapshotter
	sink      Sink
	interval  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	state    AutoSaverState
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAutoSaver builds an idle autosaver. A non-positive interval falls back to
// DefaultAutoSaveInterval; a nil logger to slog.Default().
func NewAutoSaver(snapshots Snapshotter, sink Sink, interval time.Duration, logger *slog.Logger) *AutoSaver {
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoSaver{
		snapshots: snapshots,
		sink:      sink,
		interval:  interval,
		logger:    logger.With("component", "autosave", "sink", sink.Name()),
		stopChan:  make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (a *AutoSaver) State() AutoSaverState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start launches the background loop. Cancelling ctx has the same effect as
// Stop: an export already in progress completes.
func (a *AutoSaver) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Idle {
		return ErrAutoSaverStarted
	}
	a.state = Running

	a.wg.Add(1)
	go a.run(ctx)

	a.logger.Info("auto-save started", "interval", a.interval)
	return nil
}

// Stop asks the loop to exit. An export already in progress completes; no
// further export starts. Stop is idempotent and never blocks; use Wait to
// know when the loop is gone.
func (a *AutoSaver) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		switch a.state {
		case Idle:
			a.state = Stopped
		case Running:
			a.state = StopRequested
		}
		close(a.stopChan)
	})
}

// Wait blocks until the background loop has exited. It returns immediately
// when the loop was never started.
func (a *AutoSaver) Wait() {
	a.wg.Wait()
}

// Shutdown stops the loop and waits for it. After Shutdown returns the
// autosaver makes no further storage calls.
func (a *AutoSaver) Shutdown() {
	a.Stop()
	a.Wait()
}

func (a *AutoSaver) run(ctx context.Context) {
	defer a.wg.Done()
	defer func() {
		a.mu.Lock()
		a.state = Stopped
		a.mu.Unlock()
		a.logger.Info("auto-save stopped")
	}()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// A stop or cancellation that raced with the tick wins.
		select {
		case <-a.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		a.saveOnce(ctx)
	}
}

// saveOnce runs one export. Cancelling the loop's context only prevents the
// next export; the one in progress still reads and writes a full snapshot.
func (a *AutoSaver) saveOnce(ctx context.Context) {
	runID := uuid.Must(uuid.NewV7())
	started := time.Now()

	res, err := a.snapshots.Export(context.WithoutCancel(ctx), a.sink)
	if err != nil {
		// The next tick retries.
		a.logger.Error("auto-save failed", "run", runID, "error", err)
		return
	}
	a.logger.Info("auto-saved books",
		"run", runID,
		"books", res.Books,
		"digest", res.Digest,
		"duration", time.Since(started))
}
