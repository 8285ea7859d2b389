// Package queue provides the ordered sequence of tracks waiting to be played.
package queue

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/hverbeek/setlist/internal/domain/track"
)

// Errors
var (
	ErrUnknownTrack    = errors.New("unknown track")
	ErrInvalidPosition = errors.New("position out of range")
	ErrProtected       = errors.New("entry is protected")
)

// EntryState represents the lifecycle state of a queue entry.
type EntryState int

const (
	StateCommitted EntryState = iota // Explicitly added or accepted by the user
	StateSuggested                   // Proposed by the recommender, not yet accepted
)

// String returns the string representation of the entry state.
func (s EntryState) String() string {
	switch s {
	case StateCommitted:
		return "committed"
	case StateSuggested:
		return "suggested"
	default:
		return "unknown"
	}
}

// Entry wraps a track reference with its queue state.
type Entry struct {
	Track   track.Track
	State   EntryState
	AddedAt time.Time
}

// Catalog supplies immutable track records by identity.
type Catalog interface {
	GetTrack(id string) (*track.Track, error)
}

// SuggestionSource produces the next track to propose for the suggested
// slot. Tracks whose IDs appear in exclude must not be returned.
type SuggestionSource interface {
	Suggest(exclude map[string]bool) (track.Track, bool)
	MarkPlayed(id string, at time.Time)
}

// Queue is the ordered list of tracks committed or suggested for playback.
// The entry at position 0 is the currently playing track while playback is
// active. At most one suggested entry exists and it is always the tail.
//
// All mutating operations are serialized through a single mutex; read-only
// queries take a read lock and may run concurrently.
type Queue struct {
	mu sync.RWMutex

	catalog Catalog
	source  SuggestionSource // nil disables automatic suggestions

	entries []Entry // Suggested entry, when present, is the last element
	playing bool    // Whether position 0 is actively being played

	eventCh chan Event
}

// New creates a queue backed by the given catalog.
func New(catalog Catalog) *Queue {
	return &Queue{
		catalog: catalog,
		entries: make([]Entry, 0),
		eventCh: make(chan Event, 16),
	}
}

// Events returns the event channel.
func (q *Queue) Events() <-chan Event {
	return q.eventCh
}

// SetSuggestionSource attaches a recommender and computes an initial
// suggestion.
func (q *Queue) SetSuggestionSource(src SuggestionSource) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.source = src
	q.refreshSuggestionLocked()
}

// Add appends a committed entry at the tail, before any suggested entry.
// Adding a track that is already queued is a no-op.
func (q *Queue) Add(trackID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.catalog.GetTrack(trackID)
	if err != nil {
		return errors.Wrapf(ErrUnknownTrack, "add %q", trackID)
	}

	for i := range q.entries {
		if q.entries[i].Track.ID == trackID && q.entries[i].State == StateCommitted {
			zlog.Debug().Msgf("queue: %s is already queued, not adding again", trackID)
			return nil
		}
	}

	entry := Entry{Track: *t, State: StateCommitted, AddedAt: time.Now()}
	if n := len(q.entries); n > 0 && q.entries[n-1].State == StateSuggested {
		q.entries = append(q.entries[:n-1], entry, q.entries[n-1])
	} else {
		q.entries = append(q.entries, entry)
	}

	zlog.Info().Msgf("queue: added %s (%s)", t.Title, trackID)
	q.sendEventLocked(Event{Type: EventQueueChanged, Entry: &entry})
	q.refreshSuggestionLocked()
	return nil
}

// Remove removes the committed entry at the given position. Position 0 is
// protected while playing, and the suggested entry cannot be removed here;
// it is only replaced by the recommender or promoted.
func (q *Queue) Remove(position int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if position < 0 || position >= len(q.entries) {
		return errors.Wrapf(ErrInvalidPosition, "remove %d of %d", position, len(q.entries))
	}
	if position == 0 && q.playing {
		return errors.Wrap(ErrProtected, "cannot remove the playing track")
	}
	if q.entries[position].State == StateSuggested {
		return errors.Wrap(ErrProtected, "cannot remove the suggested entry")
	}

	removed := q.entries[position]
	q.entries = append(q.entries[:position], q.entries[position+1:]...)

	zlog.Info().Msgf("queue: removed %s from position %d", removed.Track.ID, position)
	q.sendEventLocked(Event{Type: EventQueueChanged, Entry: &removed})
	q.refreshSuggestionLocked()
	return nil
}

// Reorder moves the committed entry identified by trackID to newPosition,
// shifting intervening entries by one. The playing head and the suggested
// tail cannot take part in a reorder, in either role.
func (q *Queue) Reorder(trackID string, newPosition int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	oldPosition := -1
	for i := range q.entries {
		if q.entries[i].Track.ID == trackID {
			oldPosition = i
			break
		}
	}
	if oldPosition < 0 {
		return errors.Wrapf(ErrUnknownTrack, "reorder %q", trackID)
	}
	if q.entries[oldPosition].State == StateSuggested {
		return errors.Wrap(ErrProtected, "cannot reorder the suggested entry")
	}
	if oldPosition == 0 && q.playing {
		return errors.Wrap(ErrProtected, "cannot reorder the playing track")
	}
	if newPosition < 0 || newPosition >= len(q.entries) {
		return errors.Wrapf(ErrInvalidPosition, "reorder to %d of %d", newPosition, len(q.entries))
	}
	if newPosition == 0 && q.playing {
		return errors.Wrap(ErrProtected, "position 0 is reserved for the playing track")
	}
	if newPosition >= q.committedLenLocked() {
		return errors.Wrap(ErrProtected, "cannot move past the suggested entry")
	}
	if newPosition == oldPosition {
		return nil
	}

	entry := q.entries[oldPosition]
	q.entries = append(q.entries[:oldPosition], q.entries[oldPosition+1:]...)
	q.entries = append(q.entries[:newPosition], append([]Entry{entry}, q.entries[newPosition:]...)...)

	zlog.Info().Msgf("queue: moved %s from %d to %d", trackID, oldPosition, newPosition)
	q.sendEventLocked(Event{Type: EventQueueChanged, Entry: &entry})
	return nil
}

// PreviewOrder returns the order the queue would have after
// Reorder(trackID, target), without mutating the canonical order. It backs
// the live preview during an interactive drag; exactly one Reorder call is
// expected on release.
func (q *Queue) PreviewOrder(trackID string, target int) []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]Entry, len(q.entries))
	copy(result, q.entries)

	oldPosition := -1
	for i := range result {
		if result[i].Track.ID == trackID {
			oldPosition = i
			break
		}
	}
	if oldPosition < 0 || result[oldPosition].State == StateSuggested {
		return result
	}
	if target < 0 || target >= q.committedLenLocked() || target == oldPosition {
		return result
	}
	if (oldPosition == 0 || target == 0) && q.playing {
		return result
	}

	entry := result[oldPosition]
	result = append(result[:oldPosition], result[oldPosition+1:]...)
	result = append(result[:target], append([]Entry{entry}, result[target:]...)...)
	return result
}

// PromoteSuggestion converts the suggested entry, if present, into a
// committed tail entry and requests a fresh suggestion.
func (q *Queue) PromoteSuggestion() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteSuggestionLocked()
	q.refreshSuggestionLocked()
}

// Advance removes position 0 on track completion and shifts all entries
// down. The completed track is recorded as played this session. If nothing
// committed remains, the pending suggestion is promoted to keep playback
// going; if there is no suggestion either, the queue ends up empty.
func (q *Queue) Advance() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 || q.entries[0].State == StateSuggested {
		return
	}

	finished := q.entries[0]
	q.entries = q.entries[1:]
	if q.source != nil {
		q.source.MarkPlayed(finished.Track.ID, time.Now())
	}

	zlog.Info().Msgf("queue: advanced past %s", finished.Track.ID)
	q.sendEventLocked(Event{Type: EventAdvanced, Entry: &finished})

	if q.committedLenLocked() == 0 {
		q.promoteSuggestionLocked()
	}
	q.refreshSuggestionLocked()

	if len(q.entries) == 0 {
		q.sendEventLocked(Event{Type: EventQueueEmpty})
	}
}

// RefreshSuggestion recomputes the suggested entry from scratch. Call it
// when recommender parameters change or catalog contents change.
func (q *Queue) RefreshSuggestion() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refreshSuggestionLocked()
}

// SetPlaying marks whether position 0 is actively being played. While set,
// the head entry cannot be removed or reordered.
func (q *Queue) SetPlaying(playing bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.playing = playing
}

// Playing reports whether the head entry is actively being played.
func (q *Queue) Playing() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.playing
}

// CurrentEntry returns the entry at position 0, or false if the queue is
// empty or only holds a suggestion.
func (q *Queue) CurrentEntry() (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.entries) == 0 || q.entries[0].State == StateSuggested {
		return Entry{}, false
	}
	return q.entries[0], true
}

// Entries returns a copy of all entries, suggestion included.
func (q *Queue) Entries() []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]Entry, len(q.entries))
	copy(result, q.entries)
	return result
}

// Len returns the number of entries, suggestion included.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Suggested returns the suggested tail entry, if present.
func (q *Queue) Suggested() (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n := len(q.entries); n > 0 && q.entries[n-1].State == StateSuggested {
		return q.entries[n-1], true
	}
	return Entry{}, false
}

// Contains reports whether the track is queued, in either state.
func (q *Queue) Contains(trackID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for i := range q.entries {
		if q.entries[i].Track.ID == trackID {
			return true
		}
	}
	return false
}

// CumulativeDurations returns, for each entry, the summed duration of
// entries 0..k. The sequence is monotonically increasing.
func (q *Queue) CumulativeDurations() []time.Duration {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]time.Duration, len(q.entries))
	var total time.Duration
	for i := range q.entries {
		total += q.entries[i].Track.Duration
		result[i] = total
	}
	return result
}

// ProjectedEndTime returns the wall-clock time at which all queued entries,
// suggestion included, will have finished if playback starts (or continues)
// at now. Used for display and overrun warnings only.
func (q *Queue) ProjectedEndTime(now time.Time) time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var total time.Duration
	for i := range q.entries {
		total += q.entries[i].Track.Duration
	}
	return now.Add(total)
}

// Close releases the event channel.
func (q *Queue) Close() {
	close(q.eventCh)
}

// committedLenLocked returns the number of committed entries.
// Must be called with lock held.
func (q *Queue) committedLenLocked() int {
	if n := len(q.entries); n > 0 && q.entries[n-1].State == StateSuggested {
		return n - 1
	}
	return len(q.entries)
}

// promoteSuggestionLocked converts the suggested entry into a committed
// tail entry. Must be called with lock held.
func (q *Queue) promoteSuggestionLocked() {
	n := len(q.entries)
	if n == 0 || q.entries[n-1].State != StateSuggested {
		return
	}

	q.entries[n-1].State = StateCommitted
	q.entries[n-1].AddedAt = time.Now()
	promoted := q.entries[n-1]

	zlog.Info().Msgf("queue: promoted suggestion %s", promoted.Track.ID)
	q.sendEventLocked(Event{Type: EventEntryPromoted, Entry: &promoted})
}

// refreshSuggestionLocked recomputes the suggested tail entry from scratch.
// The old suggestion is replaced, never duplicated. Must be called with
// lock held.
func (q *Queue) refreshSuggestionLocked() {
	if q.source == nil {
		return
	}

	exclude := make(map[string]bool, len(q.entries))
	for i := range q.entries {
		if q.entries[i].State == StateCommitted {
			exclude[q.entries[i].Track.ID] = true
		}
	}

	next, ok := q.source.Suggest(exclude)

	n := len(q.entries)
	hadSuggestion := n > 0 && q.entries[n-1].State == StateSuggested

	if !ok {
		// No eligible candidate. Valid terminal state, not an error.
		if hadSuggestion {
			q.entries = q.entries[:n-1]
			q.sendEventLocked(Event{Type: EventSuggestionChanged})
		}
		return
	}

	if hadSuggestion {
		if q.entries[n-1].Track.ID == next.ID {
			return // Unchanged.
		}
		q.entries[n-1] = Entry{Track: next, State: StateSuggested, AddedAt: time.Now()}
	} else {
		q.entries = append(q.entries, Entry{Track: next, State: StateSuggested, AddedAt: time.Now()})
	}

	suggested := q.entries[len(q.entries)-1]
	zlog.Debug().Msgf("queue: suggesting %s", next.ID)
	q.sendEventLocked(Event{Type: EventSuggestionChanged, Entry: &suggested})

	// An otherwise empty queue starts playing the suggestion right away,
	// so commit it and ask for the next one.
	if q.committedLenLocked() == 0 {
		zlog.Info().Msgf("queue: empty, auto-committing suggestion %s", next.ID)
		q.promoteSuggestionLocked()
		q.refreshSuggestionLocked()
	}
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (q *Queue) sendEventLocked(e Event) {
	select {
	case q.eventCh <- e:
	default:
		// Channel full, drop event.
	}
}
