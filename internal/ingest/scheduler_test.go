package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docqa-server/internal/registry"
	"github.com/bull/docqa-server/internal/splitter"
)

// blockingRegistry parks the pipeline inside its selection query until
// released, simulating a long-running ingestion.
type blockingRegistry struct {
	started chan struct{}
	release chan struct{}
	claims  atomic.Int32
}

func (b *blockingRegistry) FirstByStatus(context.Context, registry.Status) (*registry.FileRecord, error) {
	b.started <- struct{}{}
	<-b.release
	return nil, nil
}

func (b *blockingRegistry) SetStatus(context.Context, int64, registry.Status) error {
	b.claims.Add(1)
	return nil
}

func TestTickSkippedWhileRunInProgress(t *testing.T) {
	reg := &blockingRegistry{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	split, err := splitter.New(splitter.DefaultConfig())
	require.NoError(t, err)

	pipeline := NewPipeline(reg, mapByteStore{}, &fakeLoader{}, split, newFakeIndex(), nil, slog.Default())
	sched := NewScheduler(pipeline, time.Minute, slog.Default())
	ctx := context.Background()

	require.True(t, sched.tick(ctx), "first tick starts a run")
	<-reg.started

	// While the first run is parked, further ticks are skipped, not
	// queued, and no claim is attempted.
	assert.False(t, sched.tick(ctx), "tick during a run is skipped")
	assert.False(t, sched.tick(ctx))
	assert.Equal(t, int32(0), reg.claims.Load(), "skipped ticks perform no state change")

	close(reg.release)
	require.Eventually(t, func() bool {
		return !sched.inFlight.Load()
	}, 2*time.Second, 10*time.Millisecond, "run completion clears the in-flight flag")

	require.True(t, sched.tick(ctx), "next tick after completion starts a run")
	<-reg.started
}

func TestRunStopsOnContextCancel(t *testing.T) {
	reg, err := registry.Open(":memory:")
	require.NoError(t, err)
	defer reg.Close()

	split, err := splitter.New(splitter.DefaultConfig())
	require.NoError(t, err)
	pipeline := NewPipeline(reg, mapByteStore{}, &fakeLoader{}, split, newFakeIndex(), nil, slog.Default())
	sched := NewScheduler(pipeline, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
