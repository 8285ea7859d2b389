// Package catalog provides the track catalog, an in-memory view of the
// track database backed by SQLite.
//
// All reads are served from memory so engine queries never block on I/O;
// mutations write through to the database.
package catalog

import (
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/hverbeek/setlist/internal/domain/track"
)

// ErrNotFound indicates a track identity that is not in the catalog.
var ErrNotFound = errors.New("track not found")

const schema = `
CREATE TABLE IF NOT EXISTS tracks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	bpm REAL NOT NULL DEFAULT -1,
	age TEXT NOT NULL DEFAULT '',
	style TEXT NOT NULL DEFAULT '',
	energy TEXT NOT NULL DEFAULT '',
	last_played INTEGER NOT NULL DEFAULT 0,
	exclude INTEGER NOT NULL DEFAULT 0,
	volume_waypoints TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);`

// Store is the track catalog. A nil database handle makes it a purely
// in-memory catalog, which tests use.
type Store struct {
	mu        sync.RWMutex
	tracks    map[string]track.Track
	waypoints map[string]string // Serialized envelope per track
	db        *sql.DB
}

// Open opens (or creates) the catalog database at the given path and
// loads all track records into memory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open catalog database")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create catalog schema")
	}

	s := &Store{
		tracks:    make(map[string]track.Track),
		waypoints: make(map[string]string),
		db:        db,
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}

	zlog.Info().Msgf("catalog: loaded %d tracks from %s", len(s.tracks), path)
	return s, nil
}

// NewMemory creates a catalog without persistence.
func NewMemory() *Store {
	return &Store{
		tracks:    make(map[string]track.Track),
		waypoints: make(map[string]string),
	}
}

// load fills the in-memory view from the database.
func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT id, title, author, comment, duration_ms, bpm,
		age, style, energy, last_played, exclude, volume_waypoints FROM tracks`)
	if err != nil {
		return errors.Wrap(err, "failed to load tracks")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t          track.Track
			durationMs int64
			energy     string
			lastPlayed int64
			waypoints  string
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Author, &t.Comment, &durationMs,
			&t.BPM, &t.Age, &t.Style, &energy, &lastPlayed, &t.Exclude, &waypoints); err != nil {
			return errors.Wrap(err, "failed to scan track row")
		}
		t.Duration = time.Duration(durationMs) * time.Millisecond
		t.Energy = track.ParseEnergy(energy)
		if lastPlayed > 0 {
			t.LastPlayed = time.Unix(lastPlayed, 0)
		}
		s.tracks[t.ID] = t
		if waypoints != "" {
			s.waypoints[t.ID] = waypoints
		}
	}
	return rows.Err()
}

// Upsert adds or replaces a track record.
func (s *Store) Upsert(t track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracks[t.ID] = t
	if s.db == nil {
		return nil
	}

	var lastPlayed int64
	if t.WasPlayed() {
		lastPlayed = t.LastPlayed.Unix()
	}
	_, err := s.db.Exec(`INSERT INTO tracks
		(id, title, author, comment, duration_ms, bpm, age, style, energy, last_played, exclude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		title=excluded.title, author=excluded.author, comment=excluded.comment,
		duration_ms=excluded.duration_ms, bpm=excluded.bpm, age=excluded.age,
		style=excluded.style, energy=excluded.energy,
		last_played=excluded.last_played, exclude=excluded.exclude`,
		t.ID, t.Title, t.Author, t.Comment, t.Duration.Milliseconds(), t.BPM,
		t.Age, t.Style, t.Energy.String(), lastPlayed, t.Exclude)
	return errors.Wrapf(err, "failed to upsert track %s", t.ID)
}

// GetTrack returns the track with the given identity.
func (s *Store) GetTrack(id string) (*track.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tracks[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "track %q", id)
	}
	return &t, nil
}

// AllTracks returns all track records in unspecified order.
func (s *Store) AllTracks() []track.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]track.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		result = append(result, t)
	}
	return result
}

// Len returns the number of tracks in the catalog.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// Remove deletes a track record.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tracks, id)
	delete(s.waypoints, id)
	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM tracks WHERE id = ?`, id)
	return errors.Wrapf(err, "failed to delete track %s", id)
}

// RecordPlayed updates the last-played timestamp of a track.
func (s *Store) RecordPlayed(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "track %q", id)
	}
	t.LastPlayed = at
	s.tracks[id] = t

	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(`UPDATE tracks SET last_played = ? WHERE id = ?`, at.Unix(), id)
	return errors.Wrapf(err, "failed to record play of %s", id)
}

// SaveWaypoints stores the serialized volume envelope of a track. It
// implements the envelope store's Repository.
func (s *Store) SaveWaypoints(trackID, serialized string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if serialized == "" {
		delete(s.waypoints, trackID)
	} else {
		s.waypoints[trackID] = serialized
	}

	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(`UPDATE tracks SET volume_waypoints = ? WHERE id = ?`, serialized, trackID)
	return errors.Wrapf(err, "failed to save waypoints for %s", trackID)
}

// Waypoints returns the serialized volume envelopes keyed by track
// identity, for loading the envelope store at startup.
func (s *Store) Waypoints() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string, len(s.waypoints))
	for id, wp := range s.waypoints {
		result[id] = wp
	}
	return result
}

// GetPreference reads a value from the preferences table.
func (s *Store) GetPreference(key string) (string, bool, error) {
	if s.db == nil {
		return "", false, nil
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to read preference %q", key)
	}
	return value, true, nil
}

// SetPreference writes a value to the preferences table.
func (s *Store) SetPreference(key, value string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return errors.Wrapf(err, "failed to write preference %q", key)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
