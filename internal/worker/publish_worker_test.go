package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presence-engine/internal/types"
)

type recordingRefresher struct {
	mu      sync.Mutex
	houses  []types.House
	block   chan struct{}
	refresh chan struct{}
}

func newRecordingRefresher() *recordingRefresher {
	return &recordingRefresher{refresh: make(chan struct{}, 64)}
}

func (r *recordingRefresher) Refresh(ctx context.Context, house types.House) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.houses = append(r.houses, house)
	r.mu.Unlock()
	r.refresh <- struct{}{}
	return nil
}

func (r *recordingRefresher) refreshed() []types.House {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.House(nil), r.houses...)
}

func waitFor(t *testing.T, ch chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for refresh %d of %d", i+1, n)
		}
	}
}

func TestPublishWorker_DrainsQueue(t *testing.T) {
	refresher := newRecordingRefresher()
	w := NewPublishWorker(refresher, 16)

	w.Start(context.Background())
	defer w.Stop()

	w.EnqueueRefresh("ravens")
	w.EnqueueRefresh("wolves")

	waitFor(t, refresher.refresh, 2)
	assert.ElementsMatch(t, []types.House{"ravens", "wolves"}, refresher.refreshed())
}

func TestPublishWorker_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	refresher := newRecordingRefresher()
	refresher.block = make(chan struct{})
	w := NewPublishWorker(refresher, 1)

	w.Start(context.Background())
	defer w.Stop()

	// First request is picked up and blocks inside Refresh, second fills the
	// queue, third must return immediately without delivery.
	w.EnqueueRefresh("a")

	require.Eventually(t, func() bool {
		return len(w.queue) == 0
	}, 2*time.Second, 10*time.Millisecond, "worker should pick up the first request")

	w.EnqueueRefresh("b")

	done := make(chan struct{})
	go func() {
		w.EnqueueRefresh("c")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EnqueueRefresh blocked on a full queue")
	}

	close(refresher.block)
	waitFor(t, refresher.refresh, 2)
	assert.Equal(t, []types.House{"a", "b"}, refresher.refreshed())
}

func TestPublishWorker_StopIsIdempotent(t *testing.T) {
	refresher := newRecordingRefresher()
	w := NewPublishWorker(refresher, 4)

	w.Start(context.Background())
	w.Start(context.Background()) // second start is a no-op
	w.Stop()
	w.Stop()
}
