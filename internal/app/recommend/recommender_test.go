package recommend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hverbeek/setlist/internal/domain/track"
)

type stubCatalog struct {
	tracks []track.Track
}

func (c *stubCatalog) AllTracks() []track.Track {
	return c.tracks
}

func (c *stubCatalog) GetTrack(id string) (*track.Track, error) {
	for _, t := range c.tracks {
		if t.ID == id {
			t := t
			return &t, nil
		}
	}
	return nil, assert.AnError
}

func defaultParams() Params {
	return Params{
		EnergyTarget:        50,
		AgeVariation:        10,
		StyleVariation:      10,
		EnergyVariation:     10,
		BPMCadence:          []float64{120, 150, 120, 180},
		BPMPrecision:        10,
		BPMWeight:           1,
		MediumBPM:           150,
		LastPlayedInfluence: 1,
		EnergySliderPower:   1,
	}
}

func TestSuggestPicksClosestCandidate(t *testing.T) {
	cat := &stubCatalog{tracks: []track.Track{
		{ID: "A", BPM: 100, Energy: track.EnergyLow},
		{ID: "B", BPM: 160, Energy: track.EnergyHigh},
		{ID: "C", BPM: 130, Energy: track.EnergyMedium},
	}}
	params := defaultParams()
	params.BPMCadence = []float64{130}
	r := New(cat, params)

	best, ok := r.Suggest(nil)
	require.True(t, ok)
	assert.Equal(t, "C", best.ID, "medium energy at the cadence tempo wins")
}

func TestSuggestIsDeterministic(t *testing.T) {
	cat := &stubCatalog{tracks: []track.Track{
		{ID: "b", BPM: 120, Energy: track.EnergyMedium},
		{ID: "c", BPM: 120, Energy: track.EnergyMedium},
		{ID: "a", BPM: 120, Energy: track.EnergyMedium},
	}}
	r := New(cat, defaultParams())

	first, ok := r.Suggest(nil)
	require.True(t, ok)
	assert.Equal(t, "a", first.ID, "equal costs break ties by ascending ID")

	for i := 0; i < 10; i++ {
		again, ok := r.Suggest(nil)
		require.True(t, ok)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestSuggestExclusions(t *testing.T) {
	cat := &stubCatalog{tracks: []track.Track{
		{ID: "a", BPM: 120},
		{ID: "b", BPM: 120},
		{ID: "c", BPM: 120, Exclude: true},
	}}
	r := New(cat, defaultParams())

	r.MarkPlayed("a", time.Now())

	best, ok := r.Suggest(nil)
	require.True(t, ok)
	assert.Equal(t, "b", best.ID, "played and flagged tracks are skipped")

	_, ok = r.Suggest(map[string]bool{"b": true})
	assert.False(t, ok, "exhausting all candidates is a valid terminal state")
}

func TestSuggestEmptyCatalog(t *testing.T) {
	r := New(&stubCatalog{}, defaultParams())
	_, ok := r.Suggest(nil)
	assert.False(t, ok)
}

func TestCadenceRotation(t *testing.T) {
	// After playing tracks at 120 and 150, the session sits two slots into
	// the cadence [120 150 120 180]; the next target is 120.
	cat := &stubCatalog{tracks: []track.Track{
		{ID: "p1", BPM: 120},
		{ID: "p2", BPM: 150},
		{ID: "slow", BPM: 120},
		{ID: "fast", BPM: 180},
	}}
	params := defaultParams()
	params.EnergyVariation = 0
	r := New(cat, params)

	r.MarkPlayed("p1", time.Now())
	r.MarkPlayed("p2", time.Now())

	best, ok := r.Suggest(nil)
	require.True(t, ok)
	assert.Equal(t, "slow", best.ID)
}

func TestUnknownBPMTreatedAsMedium(t *testing.T) {
	cat := &stubCatalog{tracks: []track.Track{
		{ID: "known", BPM: 150},
		{ID: "unknown", BPM: track.UnknownBPM},
	}}
	params := defaultParams()
	params.BPMCadence = []float64{150}
	params.EnergyVariation = 0
	r := New(cat, params)

	// Both tracks sit at the target, so the ID tie-break decides.
	best, ok := r.Suggest(nil)
	require.True(t, ok)
	assert.Equal(t, "known", best.ID)
}

func TestEnergyTargetSteering(t *testing.T) {
	cat := &stubCatalog{tracks: []track.Track{
		{ID: "calm", BPM: 120, Energy: track.EnergyLow},
		{ID: "wild", BPM: 120, Energy: track.EnergyHigh},
	}}
	params := defaultParams()

	tests := []struct {
		name   string
		target float64
		want   string
	}{
		{name: "low target picks calm", target: 0, want: "calm"},
		{name: "high target picks wild", target: 100, want: "wild"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params.EnergyTarget = tt.target
			r := New(cat, params)
			best, ok := r.Suggest(nil)
			require.True(t, ok)
			assert.Equal(t, tt.want, best.ID)
		})
	}
}

func TestStyleVarietyPressure(t *testing.T) {
	cat := &stubCatalog{tracks: []track.Track{
		{ID: "p", BPM: 120, Style: "techno"},
		{ID: "same", BPM: 120, Style: "techno"},
		{ID: "other", BPM: 120, Style: "disco"},
	}}
	params := defaultParams()
	params.EnergyVariation = 0
	r := New(cat, params)

	r.MarkPlayed("p", time.Now())

	best, ok := r.Suggest(nil)
	require.True(t, ok)
	assert.Equal(t, "other", best.ID, "a style just played is penalized")
}

func TestRecencyPenalty(t *testing.T) {
	now := time.Now()
	cat := &stubCatalog{tracks: []track.Track{
		{ID: "fresh", BPM: 120, LastPlayed: now.Add(-30 * 24 * time.Hour)},
		{ID: "stale", BPM: 120, LastPlayed: now.Add(-time.Hour)},
	}}
	params := defaultParams()
	params.EnergyVariation = 0
	r := New(cat, params)

	best, ok := r.Suggest(nil)
	require.True(t, ok)
	assert.Equal(t, "fresh", best.ID, "a track played an hour ago loses to one played a month ago")
}

func TestMarkPlayedSnapshotsAttributes(t *testing.T) {
	cat := &stubCatalog{tracks: []track.Track{
		{ID: "a", BPM: 128, Age: "90s", Style: "house", Energy: track.EnergyHigh},
	}}
	r := New(cat, defaultParams())

	r.MarkPlayed("a", time.Now())
	// Edit the catalog record after the fact; history keeps the old values.
	cat.tracks[0].Style = "ambient"

	_, styleHist := r.attributeHistogramsLocked()
	assert.Equal(t, 1.0, styleHist["house"])
	assert.Zero(t, styleHist["ambient"])
}

func TestPlayedThisSessionAndReset(t *testing.T) {
	cat := &stubCatalog{tracks: []track.Track{{ID: "a"}, {ID: "b"}}}
	r := New(cat, defaultParams())

	r.MarkPlayed("a", time.Now())
	r.MarkPlayed("b", time.Now())
	assert.Equal(t, []string{"a", "b"}, r.PlayedThisSession())

	r.ResetSession()
	assert.Empty(t, r.PlayedThisSession())

	best, ok := r.Suggest(nil)
	require.True(t, ok)
	assert.Equal(t, "a", best.ID, "a reset makes played tracks eligible again")
}

func TestAttributeHistogramWeights(t *testing.T) {
	cat := &stubCatalog{tracks: []track.Track{
		{ID: "a", Age: "80s"},
		{ID: "b", Age: "90s"},
		{ID: "c", Age: "80s"},
	}}
	r := New(cat, defaultParams())

	r.MarkPlayed("a", time.Now())
	r.MarkPlayed("b", time.Now())
	r.MarkPlayed("c", time.Now())

	ageHist, _ := r.attributeHistogramsLocked()
	// c is most recent (weight 1), b before it (1/2), a first (1/3).
	assert.InDelta(t, 1.0+1.0/3.0, ageHist["80s"], 1e-9)
	assert.InDelta(t, 0.5, ageHist["90s"], 1e-9)
}

func TestSetParams(t *testing.T) {
	r := New(&stubCatalog{}, defaultParams())

	p := r.Params()
	p.EnergyTarget = 90
	r.SetParams(p)

	assert.Equal(t, 90.0, r.Params().EnergyTarget)
}
