package conversation

import (
	"context"
	"sync"
	"time"
)

// taskSet runs delayed work bound to a lifetime context. stop cancels every
// pending timer and waits for callbacks that already started.
type taskSet struct {
	ctx context.Context

	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup
}

func newTaskSet(ctx context.Context) *taskSet {
	return &taskSet{ctx: ctx, timers: map[uint64]*time.Timer{}}
}

// after schedules fn to run once d has elapsed. It returns false when the set
// has already been stopped.
func (t *taskSet) after(d time.Duration, fn func(context.Context)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.ctx.Err() != nil {
		return false
	}
	id := t.nextID
	t.nextID++
	t.wg.Add(1)
	t.timers[id] = time.AfterFunc(d, func() {
		t.mu.Lock()
		_, live := t.timers[id]
		delete(t.timers, id)
		t.mu.Unlock()
		if !live {
			return
		}
		defer t.wg.Done()
		if t.ctx.Err() != nil {
			return
		}
		fn(t.ctx)
	})
	return true
}

// pending returns how many timers have not fired yet.
func (t *taskSet) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

func (t *taskSet) stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	for id, timer := range t.timers {
		// Timers that already fired are left in the map; their callback
		// removes itself and releases the wait group.
		if timer.Stop() {
			delete(t.timers, id)
			t.wg.Done()
		}
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
