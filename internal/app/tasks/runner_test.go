package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stubGate reports a switchable playing state.
type stubGate struct {
	playing atomic.Bool
}

func (g *stubGate) Playing() bool {
	return g.playing.Load()
}

func TestRunnerExecutesJobs(t *testing.T) {
	r := NewRunner(nil, 8)
	r.Start()
	defer r.Stop()

	done := make(chan string, 2)
	for _, trackID := range []string{"a", "b"} {
		trackID := trackID
		id := r.Submit(Job{
			TrackID:     trackID,
			Description: "analyze " + trackID,
			Run: func(ctx context.Context) error {
				done <- trackID
				return nil
			},
		})
		assert.NotEmpty(t, id)
	}

	// One worker, FIFO order.
	assert.Equal(t, "a", waitFor(t, done))
	assert.Equal(t, "b", waitFor(t, done))
}

func TestRunnerDefersJobsDuringPlayback(t *testing.T) {
	gate := &stubGate{}
	gate.playing.Store(true)

	r := NewRunner(gate, 8)
	r.Start()
	defer r.Stop()

	ran := make(chan struct{}, 1)
	r.Submit(Job{
		TrackID: "a",
		Run: func(ctx context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})

	select {
	case <-ran:
		t.Fatal("job ran while playback was active")
	case <-time.After(500 * time.Millisecond):
	}

	gate.playing.Store(false)
	waitFor(t, ran)
}

func TestRunnerAllowsMarkedJobsDuringPlayback(t *testing.T) {
	gate := &stubGate{}
	gate.playing.Store(true)

	r := NewRunner(gate, 8)
	r.Start()
	defer r.Stop()

	ran := make(chan struct{}, 1)
	r.Submit(Job{
		TrackID:             "a",
		AllowDuringPlayback: true,
		Run: func(ctx context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})

	waitFor(t, ran)
}

func TestRunnerDropsWhenFull(t *testing.T) {
	r := NewRunner(nil, 1)
	// Not started: the queue fills up.

	first := r.Submit(Job{TrackID: "a", Run: func(ctx context.Context) error { return nil }})
	assert.NotEmpty(t, first)

	dropped := r.Submit(Job{TrackID: "b", Run: func(ctx context.Context) error { return nil }})
	assert.Empty(t, dropped, "a full queue drops instead of blocking")
}

func TestProgress(t *testing.T) {
	r := NewRunner(nil, 8)
	assert.Equal(t, 1.0, r.Progress(), "an idle runner reports completion")

	release := make(chan struct{})
	finished := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		r.Submit(Job{
			TrackID: "a",
			Run: func(ctx context.Context) error {
				<-release
				finished <- struct{}{}
				return nil
			},
		})
	}
	assert.Equal(t, 0.0, r.Progress())

	r.Start()
	defer r.Stop()

	close(release)
	waitFor(t, finished)
	waitFor(t, finished)

	assert.Eventually(t, func() bool {
		return r.Progress() == 1.0
	}, 2*time.Second, 20*time.Millisecond, "progress resets once the queue drains")
}

func TestDroppedJobIsNotCountedAsDone(t *testing.T) {
	r := NewRunner(nil, 8)
	// Not started; the queue just accumulates.

	for i := 0; i < 2; i++ {
		r.Submit(Job{TrackID: "a", Run: func(ctx context.Context) error { return nil }})
	}
	assert.Equal(t, 0.0, r.Progress())

	// One job falls off the queue: the remaining work is still all pending,
	// so progress stays at zero rather than jumping to one half.
	r.dropJob()
	assert.Equal(t, 0.0, r.Progress())

	// Dropping the last one empties the queue and resets the counters.
	r.dropJob()
	assert.Equal(t, 1.0, r.Progress())
	assert.Empty(t, r.CurrentDescription())
}

func TestCurrentDescription(t *testing.T) {
	r := NewRunner(nil, 8)
	r.Start()
	defer r.Stop()

	assert.Empty(t, r.CurrentDescription())

	started := make(chan struct{})
	release := make(chan struct{})
	r.Submit(Job{
		TrackID:     "a",
		Description: "waveform for a",
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	})

	waitFor(t, started)
	assert.Equal(t, "waveform for a", r.CurrentDescription())

	close(release)
	assert.Eventually(t, func() bool {
		return r.CurrentDescription() == ""
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStopCancelsRunningJob(t *testing.T) {
	r := NewRunner(nil, 8)
	r.Start()

	started := make(chan struct{})
	r.Submit(Job{
		TrackID: "a",
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	waitFor(t, started)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	waitFor(t, stopped)
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting on channel")
		panic("unreachable")
	}
}
