package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]OverflowPolicy{
		"block": Block, "DROP": Drop, "run_inline": RunInline, "caller_runs": RunInline, "": RunInline,
	} {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePolicy("discard-oldest")
	assert.Error(t, err)
}

func TestSubmitRunsAllTasks(t *testing.T) {
	p := New(Options{Core: 2, Max: 4, Backlog: 8})
	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 50, n.Load())
	require.NoError(t, p.Shutdown(context.Background()))
}

// saturate occupies every worker up to max and fills the backlog with tasks blocked on release.
func saturate(t *testing.T, p *Pool, core, maxWorkers, backlog int, release chan struct{}) *sync.WaitGroup {
	t.Helper()
	var all sync.WaitGroup
	submit := func(wait bool) {
		started := make(chan struct{})
		all.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
			defer all.Done()
			close(started)
			<-release
		}))
		if wait {
			select {
			case <-started:
			case <-time.After(time.Second):
				t.Fatal("task did not start")
			}
		}
	}
	for i := 0; i < core; i++ {
		submit(true)
	}
	for i := 0; i < backlog; i++ {
		submit(false)
	}
	for i := core; i < maxWorkers; i++ {
		submit(true)
	}
	return &all
}

func TestRunInlineExecutesOnCaller(t *testing.T) {
	p := New(Options{Core: 1, Max: 2, Backlog: 1, Policy: RunInline})
	release := make(chan struct{})
	all := saturate(t, p, 1, 2, 1, release)
	require.Equal(t, 2, p.Workers())

	ran := false
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { ran = true }))
	assert.True(t, ran, "overflow task should have run synchronously")

	close(release)
	all.Wait()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDropRejectsWhenFull(t *testing.T) {
	p := New(Options{Core: 1, Max: 1, Backlog: 1, Policy: Drop})
	release := make(chan struct{})
	all := saturate(t, p, 1, 1, 1, release)

	err := p.Submit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrDropped)

	close(release)
	all.Wait()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestBlockHonoursContext(t *testing.T) {
	p := New(Options{Core: 1, Max: 1, Backlog: 1, Policy: Block})
	release := make(chan struct{})
	all := saturate(t, p, 1, 1, 1, release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(ctx context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	all.Wait()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdownDrainsBacklogAndRejectsNewWork(t *testing.T) {
	p := New(Options{Core: 1, Max: 1, Backlog: 10})
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
			time.Sleep(time.Millisecond)
			n.Add(1)
		}))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.EqualValues(t, 10, n.Load())
	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) {}), ErrClosed)
}

func TestShutdownCancelsAfterGrace(t *testing.T) {
	p := New(Options{Core: 1, Max: 1, Backlog: 1})
	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight task was not cancelled")
	}
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	p := New(Options{Core: 1, Max: 1, Backlog: 2})
	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	require.NoError(t, p.Shutdown(context.Background()))
}
