package player

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hverbeek/setlist/internal/app/envelope"
	"github.com/hverbeek/setlist/internal/app/queue"
	"github.com/hverbeek/setlist/internal/domain/track"
)

// stubOutput records the control calls it receives.
type stubOutput struct {
	mu      sync.Mutex
	played  []string
	volumes []float64
	stops   int
}

func (o *stubOutput) Play(trackID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played = append(o.played, trackID)
}

func (o *stubOutput) SetVolume(level float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volumes = append(o.volumes, level)
}

func (o *stubOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
}

func (o *stubOutput) playedTracks() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.played...)
}

func (o *stubOutput) lastVolume() (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.volumes) == 0 {
		return 0, false
	}
	return o.volumes[len(o.volumes)-1], true
}

// stubHistory records play history writes.
type stubHistory struct {
	mu     sync.Mutex
	played []string
}

func (h *stubHistory) RecordPlayed(id string, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.played = append(h.played, id)
	return nil
}

func (h *stubHistory) playedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.played...)
}

// queueCatalog adapts a fixed track set to the queue's catalog interface.
type queueCatalog struct {
	tracks map[string]track.Track
}

func (c *queueCatalog) GetTrack(id string) (*track.Track, error) {
	t, ok := c.tracks[id]
	if !ok {
		return nil, queue.ErrUnknownTrack
	}
	return &t, nil
}

func newFixture(t *testing.T, durations map[string]time.Duration) (*queue.Queue, *stubOutput, *stubHistory, *envelope.Store) {
	t.Helper()

	tracks := make(map[string]track.Track, len(durations))
	for id, d := range durations {
		tracks[id] = track.Track{ID: id, Title: id, Duration: d}
	}
	return queue.New(&queueCatalog{tracks: tracks}), &stubOutput{}, &stubHistory{}, envelope.NewStore(nil)
}

func TestPlayStartsHead(t *testing.T) {
	q, out, hist, env := newFixture(t, map[string]time.Duration{"a": time.Minute})
	require.NoError(t, q.Add("a"))

	p := New(q, env, hist, out, Config{})
	defer p.Close()

	require.NoError(t, p.Play())
	assert.True(t, p.Playing())
	assert.True(t, q.Playing())
	assert.Equal(t, []string{"a"}, out.playedTracks())

	current, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, "a", current.Track.ID)

	assert.ErrorIs(t, p.Play(), ErrAlreadyPlaying)
}

func TestPlayEmptyQueue(t *testing.T) {
	q, out, hist, env := newFixture(t, nil)
	p := New(q, env, hist, out, Config{})
	defer p.Close()

	assert.ErrorIs(t, p.Play(), ErrQueueEmpty)
	assert.False(t, p.Playing())
}

func TestTrackEndAdvances(t *testing.T) {
	q, out, hist, env := newFixture(t, map[string]time.Duration{
		"a": 300 * time.Millisecond,
		"b": time.Minute,
	})
	require.NoError(t, q.Add("a"))
	require.NoError(t, q.Add("b"))

	p := New(q, env, hist, out, Config{})
	defer p.Close()

	require.NoError(t, p.Play())

	assert.Eventually(t, func() bool {
		current, ok := p.Current()
		return ok && current.Track.ID == "b"
	}, 3*time.Second, 20*time.Millisecond, "playback should roll over to the next track")

	assert.Equal(t, []string{"a", "b"}, out.playedTracks())
	assert.Equal(t, []string{"a"}, hist.playedIDs())
	assert.Equal(t, 1, q.Len())
}

func TestPlaybackStopsWhenQueueRunsOut(t *testing.T) {
	q, out, hist, env := newFixture(t, map[string]time.Duration{"a": 300 * time.Millisecond})
	require.NoError(t, q.Add("a"))

	p := New(q, env, hist, out, Config{})
	defer p.Close()

	require.NoError(t, p.Play())

	assert.Eventually(t, func() bool {
		return !p.Playing()
	}, 3*time.Second, 20*time.Millisecond)

	assert.False(t, q.Playing())
	assert.Equal(t, []string{"a"}, hist.playedIDs())
}

func TestStop(t *testing.T) {
	q, out, hist, env := newFixture(t, map[string]time.Duration{"a": time.Minute})
	require.NoError(t, q.Add("a"))

	p := New(q, env, hist, out, Config{})
	defer p.Close()

	assert.ErrorIs(t, p.Stop(), ErrNotPlaying)

	require.NoError(t, p.Play())
	require.NoError(t, p.Stop())

	assert.False(t, p.Playing())
	assert.False(t, q.Playing())
	assert.Empty(t, hist.playedIDs(), "a barely started track does not count as played")
	assert.Equal(t, 1, q.Len(), "stopping keeps the head in the queue")
}

func TestStopAfterHalfwayCountsAsPlayed(t *testing.T) {
	q, out, hist, env := newFixture(t, map[string]time.Duration{"a": 200 * time.Millisecond})
	require.NoError(t, q.Add("a"))

	// Long silence keeps the end-of-track timer from firing first.
	p := New(q, env, hist, out, Config{Silence: time.Minute})
	defer p.Close()

	require.NoError(t, p.Play())
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, p.Stop())

	assert.Equal(t, []string{"a"}, hist.playedIDs())
}

func TestSkip(t *testing.T) {
	q, out, hist, env := newFixture(t, map[string]time.Duration{
		"a": time.Minute,
		"b": time.Minute,
	})
	require.NoError(t, q.Add("a"))
	require.NoError(t, q.Add("b"))

	p := New(q, env, hist, out, Config{})
	defer p.Close()

	assert.ErrorIs(t, p.Skip(), ErrNotPlaying)

	require.NoError(t, p.Play())
	require.NoError(t, p.Skip())

	current, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, "b", current.Track.ID)
	assert.Equal(t, []string{"a", "b"}, out.playedTracks())
}

func TestVolumeFollowsEnvelope(t *testing.T) {
	q, out, hist, env := newFixture(t, map[string]time.Duration{"a": time.Minute})
	require.NoError(t, q.Add("a"))

	env.Load("a", []envelope.Waypoint{
		{At: 0, Level: 0.2},
		{At: 400 * time.Millisecond, Level: 1.0},
	})

	p := New(q, env, hist, out, Config{VolumeTick: 20 * time.Millisecond})
	defer p.Close()

	require.NoError(t, p.Play())

	assert.Eventually(t, func() bool {
		level, ok := out.lastVolume()
		return ok && level > 0.9
	}, 3*time.Second, 20*time.Millisecond, "the envelope ramp should reach the output")
}

func TestElapsed(t *testing.T) {
	q, out, hist, env := newFixture(t, map[string]time.Duration{"a": time.Minute})
	require.NoError(t, q.Add("a"))

	p := New(q, env, hist, out, Config{})
	defer p.Close()

	assert.Zero(t, p.Elapsed())

	require.NoError(t, p.Play())
	time.Sleep(50 * time.Millisecond)
	assert.Greater(t, p.Elapsed(), time.Duration(0))
}
