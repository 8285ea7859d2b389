// Package envelope stores per-track volume automation curves.
//
// Each track owns an ordered sequence of (time, level) waypoints defining a
// continuous piecewise-linear volume function over the track's duration.
// Outside the covered range the boundary waypoint's level holds constant.
package envelope

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// DefaultLevel is the nominal volume used when a track has no waypoints.
const DefaultLevel = 0.5

// Errors
var (
	ErrTransitionOpen = errors.New("a transition is already open")
	ErrNoTransition   = errors.New("no transition is open")
	ErrInvalidRange   = errors.New("transition range is invalid")
)

// Waypoint is a single control point of the volume curve.
type Waypoint struct {
	At    time.Duration // Offset into the track
	Level float64       // Volume, 0-1
}

// Repository persists serialized waypoint sequences. Implementations may
// be no-ops when envelopes are session-scoped.
type Repository interface {
	SaveWaypoints(trackID, serialized string) error
}

// openTransition records an in-progress manual volume adjustment.
type openTransition struct {
	start time.Duration
	level float64
}

// trackState holds the curve and any open transition for one track.
type trackState struct {
	waypoints []Waypoint
	open      *openTransition
}

// Store owns the volume envelopes for all tracks, keyed by track identity.
type Store struct {
	mu     sync.RWMutex
	tracks map[string]*trackState
	repo   Repository // nil disables persistence
}

// NewStore creates an envelope store. repo may be nil for session-scoped
// envelopes.
func NewStore(repo Repository) *Store {
	return &Store{
		tracks: make(map[string]*trackState),
		repo:   repo,
	}
}

// Load installs a waypoint sequence for a track, replacing whatever was
// there. Waypoints are sorted and deduplicated by timestamp; on duplicate
// timestamps the later element wins.
func (s *Store) Load(trackID string, waypoints []Waypoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := make([]Waypoint, len(waypoints))
	copy(cleaned, waypoints)
	sort.SliceStable(cleaned, func(i, j int) bool {
		return cleaned[i].At < cleaned[j].At
	})
	deduped := cleaned[:0]
	for _, wp := range cleaned {
		if n := len(deduped); n > 0 && deduped[n-1].At == wp.At {
			deduped[n-1] = wp
			continue
		}
		deduped = append(deduped, wp)
	}

	s.tracks[trackID] = &trackState{waypoints: deduped}
}

// Waypoints returns a copy of the track's waypoint sequence.
func (s *Store) Waypoints(trackID string) []Waypoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.tracks[trackID]
	if !ok {
		return nil
	}
	result := make([]Waypoint, len(st.waypoints))
	copy(result, st.waypoints)
	return result
}

// StartTransition opens a manual volume adjustment at the given offset,
// capturing the nominal volume at that moment. A second transition cannot
// be opened for the same track until the first is closed.
func (s *Store) StartTransition(trackID string, at time.Duration, currentLevel float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked(trackID)
	if st.open != nil {
		return errors.Wrapf(ErrTransitionOpen, "track %s", trackID)
	}

	st.open = &openTransition{start: at, level: clamp01(currentLevel)}
	zlog.Debug().Msgf("envelope: transition opened for %s at %v", trackID, at)
	return nil
}

// EndTransition closes the open transition at the given offset with the
// new volume. Two waypoints are inserted: one at the transition start
// holding the prior volume, one at the close holding newLevel. Pre-existing
// waypoints strictly between the two are superseded by the new straight
// segment; a waypoint sharing a timestamp with either end is replaced. A
// transition closed at its start offset yields a single waypoint at
// newLevel.
func (s *Store) EndTransition(trackID string, at time.Duration, newLevel float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked(trackID)
	if st.open == nil {
		return errors.Wrapf(ErrNoTransition, "track %s", trackID)
	}
	if at < st.open.start {
		return errors.Wrapf(ErrInvalidRange, "transition ends at %v before start %v", at, st.open.start)
	}

	start := Waypoint{At: st.open.start, Level: st.open.level}
	end := Waypoint{At: at, Level: clamp01(newLevel)}
	st.open = nil

	kept := make([]Waypoint, 0, len(st.waypoints)+2)
	for _, wp := range st.waypoints {
		if wp.At >= start.At && wp.At <= end.At {
			continue
		}
		kept = append(kept, wp)
	}

	// A zero-length adjustment collapses to a single waypoint holding the
	// new level, keeping timestamps strictly increasing.
	segment := []Waypoint{start, end}
	if end.At == start.At {
		segment = []Waypoint{end}
	}

	// Insert the new segment at its sorted position.
	pos := sort.Search(len(kept), func(i int) bool { return kept[i].At > start.At })
	st.waypoints = append(kept[:pos:pos], append(segment, kept[pos:]...)...)

	zlog.Debug().Msgf("envelope: transition for %s closed, %v..%v -> %.2f", trackID, start.At, end.At, end.Level)
	s.persistLocked(trackID, st)
	return nil
}

// Sample returns the volume at the given offset by linear interpolation
// between the bracketing waypoints. Outside the covered range the nearest
// boundary waypoint's level is returned; without waypoints the default
// level applies.
func (s *Store) Sample(trackID string, at time.Duration) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.tracks[trackID]
	if !ok || len(st.waypoints) == 0 {
		return DefaultLevel
	}

	wps := st.waypoints
	if at <= wps[0].At {
		return wps[0].Level
	}
	if last := wps[len(wps)-1]; at >= last.At {
		return last.Level
	}

	// First waypoint strictly after the sample point.
	next := sort.Search(len(wps), func(i int) bool { return wps[i].At > at })
	before, after := wps[next-1], wps[next]
	if before.At == after.At || before.Level == after.Level {
		return before.Level
	}
	ratio := float64(at-before.At) / float64(after.At-before.At)
	return before.Level + ratio*(after.Level-before.Level)
}

// Clear removes all waypoints for a track, reverting it to default-volume
// playback. Any open transition is discarded too.
func (s *Store) Clear(trackID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tracks, trackID)
	zlog.Info().Msgf("envelope: cleared waypoints for %s", trackID)
	if s.repo != nil {
		if err := s.repo.SaveWaypoints(trackID, ""); err != nil {
			zlog.Warn().Msgf("envelope: failed to persist clear for %s: %v", trackID, err)
		}
	}
}

// HasOpenTransition reports whether a transition is open for the track.
func (s *Store) HasOpenTransition(trackID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.tracks[trackID]
	return ok && st.open != nil
}

func (s *Store) stateLocked(trackID string) *trackState {
	st, ok := s.tracks[trackID]
	if !ok {
		st = &trackState{}
		s.tracks[trackID] = st
	}
	return st
}

func (s *Store) persistLocked(trackID string, st *trackState) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveWaypoints(trackID, Serialize(st.waypoints)); err != nil {
		zlog.Warn().Msgf("envelope: failed to persist waypoints for %s: %v", trackID, err)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Serialize encodes waypoints in the "seconds;level|seconds;level" wire
// format used by the catalog store.
func Serialize(waypoints []Waypoint) string {
	parts := make([]string, len(waypoints))
	for i, wp := range waypoints {
		parts[i] = fmt.Sprintf("%s;%s",
			strconv.FormatFloat(wp.At.Seconds(), 'f', -1, 64),
			strconv.FormatFloat(wp.Level, 'f', -1, 64))
	}
	return strings.Join(parts, "|")
}

// Parse decodes the "seconds;level|seconds;level" wire format. An empty
// string yields an empty sequence.
func Parse(serialized string) ([]Waypoint, error) {
	if serialized == "" {
		return nil, nil
	}

	parts := strings.Split(serialized, "|")
	waypoints := make([]Waypoint, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(part, ";")
		if len(fields) != 2 {
			return nil, errors.Newf("malformed waypoint %q", part)
		}
		seconds, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed waypoint time %q", fields[0])
		}
		level, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed waypoint level %q", fields[1])
		}
		waypoints = append(waypoints, Waypoint{
			At:    time.Duration(seconds * float64(time.Second)),
			Level: clamp01(level),
		})
	}
	return waypoints, nil
}
