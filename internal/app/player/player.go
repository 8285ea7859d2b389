// Package player drives playback of the queue head and applies the
// track's volume envelope while it plays.
package player

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/hverbeek/setlist/internal/app/envelope"
	"github.com/hverbeek/setlist/internal/app/queue"
)

// Errors
var (
	ErrAlreadyPlaying = errors.New("already playing")
	ErrNotPlaying     = errors.New("not playing")
	ErrQueueEmpty     = errors.New("queue is empty")
)

// Output receives the audio control decisions of the player. The actual
// decoding and mixing live outside this engine.
type Output interface {
	Play(trackID string)
	SetVolume(level float64)
	Stop()
}

// Catalog records play history.
type Catalog interface {
	RecordPlayed(id string, at time.Time) error
}

// Config holds player configuration.
type Config struct {
	Silence    time.Duration // Gap inserted between consecutive tracks
	Fadeout    time.Duration // Ramp length when stopping mid-track
	VolumeTick time.Duration // Envelope sampling interval
}

// Player plays the committed head of the queue, one track at a time. On
// track completion it records the play, advances the queue and continues
// with the new head until the queue runs out.
type Player struct {
	mu sync.RWMutex

	queue     *queue.Queue
	envelopes *envelope.Store
	catalog   Catalog
	output    Output
	config    Config

	current     *queue.Entry
	startTime   time.Time
	trackCancel func() // Cancels the end-of-track timer
	volumeStop  func() // Stops the envelope sampling loop

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a player over the given queue and envelope store.
func New(q *queue.Queue, env *envelope.Store, catalog Catalog, output Output, config Config) *Player {
	if config.VolumeTick <= 0 {
		config.VolumeTick = 50 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		queue:     q,
		envelopes: env,
		catalog:   catalog,
		output:    output,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Play starts playback of the queue head.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		return ErrAlreadyPlaying
	}
	return p.playHeadLocked()
}

// Stop fades out and stops playback. A track that was over halfway
// through still counts as played.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ErrNotPlaying
	}

	finished := p.current
	elapsed := time.Since(p.startTime)
	p.stopTimersLocked()
	p.current = nil
	p.queue.SetPlaying(false)

	if d := finished.Track.Duration; d > 0 && elapsed > d/2 {
		if err := p.catalog.RecordPlayed(finished.Track.ID, time.Now()); err != nil {
			zlog.Warn().Msgf("player: failed to record play of %s: %v", finished.Track.ID, err)
		}
	}

	p.fadeout(p.envelopes.Sample(finished.Track.ID, elapsed))
	zlog.Info().Msgf("player: stopped during %s", finished.Track.ID)
	return nil
}

// Skip abandons the current track and plays the next one.
func (p *Player) Skip() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ErrNotPlaying
	}

	skipped := p.current
	p.stopTimersLocked()
	p.current = nil
	p.output.Stop()

	zlog.Info().Msgf("player: skipped %s", skipped.Track.ID)
	p.queue.Advance()
	return p.playHeadLocked()
}

// Playing reports whether a track is actively being played. Background
// work that must not run during playback gates on this.
func (p *Player) Playing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current != nil
}

// Current returns the playing entry, if any.
func (p *Player) Current() (queue.Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil {
		return queue.Entry{}, false
	}
	return *p.current, true
}

// Elapsed returns how long the current track has been playing.
func (p *Player) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil {
		return 0
	}
	return time.Since(p.startTime)
}

// Close stops playback and releases resources.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTimersLocked()
	p.current = nil
	p.queue.SetPlaying(false)
	p.cancel()
}

// playHeadLocked starts the committed head entry, if there is one.
// Must be called with lock held.
func (p *Player) playHeadLocked() error {
	entry, ok := p.queue.CurrentEntry()
	if !ok {
		p.queue.SetPlaying(false)
		return ErrQueueEmpty
	}

	p.current = &entry
	p.startTime = time.Now()
	p.queue.SetPlaying(true)

	zlog.Info().Msgf("player: starting %s (%v)", entry.Track.Title, entry.Track.Duration)
	p.output.Play(entry.Track.ID)
	p.output.SetVolume(p.envelopes.Sample(entry.Track.ID, 0))

	p.volumeStop = p.startVolumeLoop(entry.Track.ID)
	p.trackCancel = p.startWallClockTimer(entry.Track.Duration+p.config.Silence, func() {
		p.onTrackEnd(entry.Track.ID)
	})
	return nil
}

// onTrackEnd records the play, advances the queue and starts whatever is
// next.
func (p *Player) onTrackEnd(trackID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || p.current.Track.ID != trackID {
		return // Skipped or stopped during the silence gap.
	}

	p.stopTimersLocked()
	p.current = nil

	if err := p.catalog.RecordPlayed(trackID, time.Now()); err != nil {
		zlog.Warn().Msgf("player: failed to record play of %s: %v", trackID, err)
	}

	p.queue.Advance()
	if err := p.playHeadLocked(); err != nil {
		zlog.Info().Msg("player: queue is empty, playback ends")
		p.output.Stop()
	}
}

// startVolumeLoop samples the envelope on a fixed tick and pushes level
// changes to the output. Returns a stop function.
func (p *Player) startVolumeLoop(trackID string) func() {
	ctx, cancel := context.WithCancel(p.ctx)
	start := time.Now()

	go func() {
		ticker := time.NewTicker(p.config.VolumeTick)
		defer ticker.Stop()

		last := p.envelopes.Sample(trackID, 0)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				level := p.envelopes.Sample(trackID, time.Since(start))
				if level != last {
					p.output.SetVolume(level)
					last = level
				}
			}
		}
	}()

	return cancel
}

// startWallClockTimer triggers callback after the given duration, measured
// on the wall clock rather than the monotonic clock, so suspend/resume of
// the host does not stretch track timing. Returns a cancel function.
func (p *Player) startWallClockTimer(duration time.Duration, callback func()) func() {
	ctx, cancel := context.WithCancel(p.ctx)

	go func() {
		endTime := time.Now().Round(0).Add(duration)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Now().Round(0).After(endTime) {
					callback()
					return
				}
			}
		}
	}()

	return cancel
}

// fadeout ramps the output volume from the given level to zero over the
// configured duration, then stops the output. Must be called with lock
// held.
func (p *Player) fadeout(fromLevel float64) {
	if p.config.Fadeout <= 0 {
		p.output.SetVolume(0)
		p.output.Stop()
		return
	}

	duration := p.config.Fadeout
	tick := p.config.VolumeTick
	out := p.output

	go func() {
		start := time.Now()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				out.Stop()
				return
			case <-ticker.C:
				elapsed := time.Since(start)
				if elapsed >= duration {
					out.SetVolume(0)
					out.Stop()
					return
				}
				out.SetVolume((1 - elapsed.Seconds()/duration.Seconds()) * fromLevel)
			}
		}
	}()
}

// stopTimersLocked cancels the end-of-track timer and the envelope loop.
// Must be called with lock held.
func (p *Player) stopTimersLocked() {
	if p.trackCancel != nil {
		p.trackCancel()
		p.trackCancel = nil
	}
	if p.volumeStop != nil {
		p.volumeStop()
		p.volumeStop = nil
	}
}
