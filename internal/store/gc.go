package store

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// GCWorker runs a periodic expiry sweep over a Store. Its scheduling shape
// is grounded on internal/scheduler/engine.go's cron.New(cron.WithSeconds())
// usage in the teacher repo.
type GCWorker struct {
	store  *Store
	cron   *cron.Cron
	logger *slog.Logger
}

// NewGCWorker builds a GCWorker that sweeps store on the given cron spec
// (e.g. "*/30 * * * * *" for every 30 seconds).
func NewGCWorker(store *Store, spec string, logger *slog.Logger) (*GCWorker, error) {
	w := &GCWorker{
		store:  store,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
	if _, err := w.cron.AddFunc(spec, w.sweep); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *GCWorker) sweep() {
	removed := w.store.Sweep()
	if removed > 0 {
		w.logger.Debug("store gc sweep", "removed", removed)
	}

	compacted, evictedSystems := w.store.CompactSystemIndexes()
	if compacted > 0 || evictedSystems > 0 {
		w.logger.Debug("store gc compaction", "compacted_systems", compacted, "evicted_systems", evictedSystems)
	}
}

// Start begins the cron schedule. Non-blocking.
func (w *GCWorker) Start() {
	w.cron.Start()
}

// Stop halts the cron schedule and waits for any in-flight sweep to finish.
func (w *GCWorker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}
