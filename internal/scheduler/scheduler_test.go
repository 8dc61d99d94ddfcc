package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingSyncs struct{ n atomic.Int32 }

func (c *countingSyncs) EnqueuePublished(ctx context.Context) (int, error) {
	c.n.Add(1)
	return 1, nil
}

func TestSchedulerRunsBothLoops(t *testing.T) {
	syncs := &countingSyncs{}
	var ticks atomic.Int32
	s := New(syncs, TickFunc(func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}), 20*time.Millisecond, 5*time.Millisecond, zerolog.Nop())

	s.Start(context.Background())
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	if syncs.n.Load() < 2 {
		t.Errorf("sync passes = %d, want at least 2", syncs.n.Load())
	}
	if ticks.Load() < 3 {
		t.Errorf("ticks = %d, want at least 3", ticks.Load())
	}

	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != after {
		t.Error("ticks continued after Stop")
	}
}
