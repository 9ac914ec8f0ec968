// Package worker contains the background publish worker that drains
// leaderboard refresh requests off the settlement path.
package worker

import (
	"context"
	"sync"

	"github.com/presence-engine/internal/logging"
	"github.com/presence-engine/internal/types"
)

// Refresher recomputes and pushes one house's leaderboard
type Refresher interface {
	Refresh(ctx context.Context, house types.House) error
}

// PublishWorker decouples settlement from leaderboard pushing: settlements
// enqueue a house and return immediately, the worker drains the queue and
// runs the refresh. A full queue drops the request rather than stalling a
// settlement; the next enqueue for the house catches up.
type PublishWorker struct {
	refresher Refresher
	queue     chan types.House
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewPublishWorker creates a new publish worker with the given queue depth
func NewPublishWorker(refresher Refresher, queueSize int) *PublishWorker {
	return &PublishWorker{
		refresher: refresher,
		queue:     make(chan types.House, queueSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// EnqueueRefresh requests a refresh for a house without blocking the caller
func (w *PublishWorker) EnqueueRefresh(house types.House) {
	select {
	case w.queue <- house:
	default:
		logging.GetGlobalLogger().WithField("house", string(house)).Warn("Publish queue full, dropping refresh request")
	}
}

// Start launches the drain loop
func (w *PublishWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop signals the drain loop and waits for it to finish
func (w *PublishWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

func (w *PublishWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	logger := logging.FromContext(ctx)
	logger.Info("Publish worker started")

	for {
		select {
		case <-w.stopCh:
			logger.Info("Publish worker stopped")
			return
		case <-ctx.Done():
			logger.Info("Publish worker context cancelled")
			return
		case house := <-w.queue:
			if err := w.refresher.Refresh(ctx, house); err != nil {
				logger.WithFields(map[string]interface{}{
					"house": string(house),
					"error": err.Error(),
				}).Error("Leaderboard refresh failed")
			}
		}
	}
}
