package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTask is a controllable Task for pool tests.
type fakeTask struct {
	index     int
	delay     time.Duration
	fail      bool
	panicWith any

	started *atomic.Int32
	running *atomic.Int32
	maxSeen *atomic.Int32
}

func (t *fakeTask) Index() int { return t.index }

func (t *fakeTask) Run(_ context.Context) ChunkOutcome {
	if t.started != nil {
		t.started.Add(1)
	}
	if t.running != nil {
		n := t.running.Add(1)
		for {
			max := t.maxSeen.Load()
			if n <= max || t.maxSeen.CompareAndSwap(max, n) {
				break
			}
		}
		defer t.running.Add(-1)
	}
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	if t.panicWith != nil {
		panic(t.panicWith)
	}
	if t.fail {
		return ChunkOutcome{Index: t.index, Succeeded: false, Diagnostic: "simulated failure"}
	}
	return ChunkOutcome{Index: t.index, Succeeded: true}
}

func TestWorkerPool_EveryOutcomeAccounted(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Shutdown()

	ctx := context.Background()
	const n = 24

	handles := make([]*Handle, 0, n)
	for i := 0; i < n; i++ {
		// Stagger delays so completion order differs from submission order.
		delay := time.Duration((n-i)%5) * time.Millisecond
		handles = append(handles, pool.Submit(ctx, &fakeTask{index: i, delay: delay}))
	}

	seen := make(map[int]bool, n)
	for _, h := range handles {
		o := h.Wait()
		assert.False(t, seen[o.Index], "outcome for chunk %d delivered twice", o.Index)
		seen[o.Index] = true
	}
	assert.Len(t, seen, n, "no outcome may be dropped")
}

func TestWorkerPool_PanicBecomesFailedOutcome(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	h := pool.Submit(context.Background(), &fakeTask{index: 7, panicWith: "model handle corrupted"})
	o := h.Wait()

	assert.False(t, o.Succeeded)
	assert.Equal(t, 7, o.Index)
	assert.Contains(t, o.Diagnostic, "internal fault")
	assert.Contains(t, o.Diagnostic, "model handle corrupted")

	// The pool must survive the panic and keep serving tasks.
	o2 := pool.Submit(context.Background(), &fakeTask{index: 8}).Wait()
	assert.True(t, o2.Succeeded)
}

func TestWorkerPool_ShutdownDrainsInFlightTasks(t *testing.T) {
	pool := NewWorkerPool(2)

	var started atomic.Int32
	ctx := context.Background()

	handles := make([]*Handle, 0, 8)
	for i := 0; i < 8; i++ {
		handles = append(handles, pool.Submit(ctx, &fakeTask{
			index:   i,
			delay:   5 * time.Millisecond,
			started: &started,
		}))
	}

	pool.Shutdown()

	assert.Equal(t, int32(8), started.Load(), "no queued task may be abandoned")
	for _, h := range handles {
		assert.True(t, h.Wait().Succeeded)
	}
}

func TestWorkerPool_ShutdownIdempotent(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()
	pool.Shutdown()
}

func TestWorkerPool_BoundedParallelism(t *testing.T) {
	const workers = 3
	pool := NewWorkerPool(workers)
	defer pool.Shutdown()

	var running, maxSeen atomic.Int32
	ctx := context.Background()

	var handles []*Handle
	for i := 0; i < 16; i++ {
		handles = append(handles, pool.Submit(ctx, &fakeTask{
			index:   i,
			delay:   10 * time.Millisecond,
			running: &running,
			maxSeen: &maxSeen,
		}))
	}
	for _, h := range handles {
		h.Wait()
	}

	assert.LessOrEqual(t, maxSeen.Load(), int32(workers))
}

func TestWorkerPool_SubmitDoesNotWaitOnBusyWorkers(t *testing.T) {
	const workers = 2
	pool := NewWorkerPool(workers)
	defer pool.Shutdown()

	release := make(chan struct{})
	ctx := context.Background()

	// Occupy every worker and put two more tasks behind them.
	var handles []*Handle
	for i := 0; i < workers+2; i++ {
		handles = append(handles, pool.Submit(ctx, &blockingTask{index: i, release: release}))
	}

	// With workers busy and a backlog queued, one more Submit must still
	// return immediately rather than wait for an in-flight task to finish.
	start := time.Now()
	handles = append(handles, pool.Submit(ctx, &blockingTask{index: workers + 2, release: release}))
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 100*time.Millisecond, "Submit stalled behind in-flight work")

	close(release)
	for _, h := range handles {
		assert.True(t, h.Wait().Succeeded)
	}
}

// blockingTask holds until released, simulating a long denoise call.
type blockingTask struct {
	index   int
	release chan struct{}
}

func (b *blockingTask) Index() int { return b.index }

func (b *blockingTask) Run(_ context.Context) ChunkOutcome {
	<-b.release
	return ChunkOutcome{Index: b.index, Succeeded: true}
}

func TestHandle_WaitIsRepeatable(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	h := pool.Submit(context.Background(), &fakeTask{index: 3, fail: true})

	first := h.Wait()
	second := h.Wait()
	require.Equal(t, first, second)
	assert.Equal(t, 3, first.Index)
}

func TestWorkerPool_DetachedFromCallerCancellation(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled at submission time

	task := &cancellationRecorder{index: 0}
	o := pool.Submit(ctx, task).Wait()

	assert.True(t, o.Succeeded, "a dispatched chunk runs to completion even if the caller went away")
	assert.NoError(t, task.ctxErr, "task context must not inherit the caller's cancellation")
}

// cancellationRecorder records the context error it ran under.
type cancellationRecorder struct {
	index  int
	mu     sync.Mutex
	ctxErr error
}

func (c *cancellationRecorder) Index() int { return c.index }

func (c *cancellationRecorder) Run(ctx context.Context) ChunkOutcome {
	c.mu.Lock()
	c.ctxErr = ctx.Err()
	c.mu.Unlock()
	return ChunkOutcome{Index: c.index, Succeeded: true}
}
