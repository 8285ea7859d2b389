// Package recommend selects the next track to suggest for the queue.
//
// Each eligible track is given a scalar cost built from independent
// per-attribute distances; the candidate with the minimum total cost wins.
// Ties are broken by ascending track ID, so the outcome is deterministic
// for a given catalog state, parameter set and play history.
package recommend

import (
	"math"
	"sort"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/hverbeek/setlist/internal/domain/track"
)

// recencyHalfLife is the time after which the recency penalty halves.
const recencyHalfLife = 7 * 24 * time.Hour

// Params holds the tunable weights of the scoring function.
type Params struct {
	// EnergyTarget is the audience energy level to aim for, 0-100.
	EnergyTarget float64 `yaml:"energy_target" mapstructure:"energy_target" default:"50" validate:"gte=0,lte=100"`
	// AgeVariation penalizes eras that were recently played often.
	AgeVariation float64 `yaml:"age_variation" mapstructure:"age_variation" default:"10" validate:"gte=0"`
	// StyleVariation penalizes styles that were recently played often.
	StyleVariation float64 `yaml:"style_variation" mapstructure:"style_variation" default:"10" validate:"gte=0"`
	// EnergyVariation scales the distance to the energy target.
	EnergyVariation float64 `yaml:"energy_variation" mapstructure:"energy_variation" default:"10" validate:"gte=0"`
	// BPMCadence is the ordered list of target tempos to cycle through.
	BPMCadence []float64 `yaml:"bpm_cadence" mapstructure:"bpm_cadence" default:"[120,150,120,180]" validate:"min=1"`
	// BPMPrecision is the tolerance, in BPM, within which the tempo cost
	// saturates to zero.
	BPMPrecision float64 `yaml:"bpm_precision" mapstructure:"bpm_precision" default:"10" validate:"gte=0"`
	// BPMWeight scales the tempo cost outside the tolerance band.
	BPMWeight float64 `yaml:"bpm_weight" mapstructure:"bpm_weight" default:"1" validate:"gte=0"`
	// MediumBPM substitutes for tracks with unknown tempo.
	MediumBPM float64 `yaml:"medium_bpm" mapstructure:"medium_bpm" default:"150" validate:"gt=0"`
	// LastPlayedInfluence scales the penalty for recently played tracks.
	LastPlayedInfluence float64 `yaml:"last_played_influence" mapstructure:"last_played_influence" default:"1" validate:"gte=0"`
	// EnergySliderPower is the exponent shaping the energy distance. 1 is
	// linear; larger values make the slider act more aggressively near the
	// extremes.
	EnergySliderPower float64 `yaml:"energy_slider_power" mapstructure:"energy_slider_power" default:"1" validate:"gt=0"`
}

// Catalog supplies the candidate tracks to score.
type Catalog interface {
	AllTracks() []track.Track
	GetTrack(id string) (*track.Track, error)
}

// playedRecord is a snapshot of a track played this session. Attribute
// values are captured at play time so later metadata edits don't rewrite
// history.
type playedRecord struct {
	id     string
	at     time.Time
	bpm    float64
	age    string
	style  string
	energy track.Energy
}

// Recommender computes the suggested next track.
type Recommender struct {
	mu      sync.RWMutex
	catalog Catalog
	params  Params
	played  []playedRecord // Most recent last
}

// New creates a recommender over the given catalog.
func New(catalog Catalog, params Params) *Recommender {
	return &Recommender{
		catalog: catalog,
		params:  params,
		played:  make([]playedRecord, 0),
	}
}

// Params returns the current scoring parameters.
func (r *Recommender) Params() Params {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params
}

// SetParams replaces the scoring parameters. The caller is expected to
// refresh the queue's suggestion afterwards.
func (r *Recommender) SetParams(p Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = p
}

// MarkPlayed records that a track finished playing this session. Played
// tracks are excluded from future suggestions until the session is reset.
func (r *Recommender) MarkPlayed(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := playedRecord{id: id, at: at, bpm: track.UnknownBPM, energy: track.EnergyMedium}
	if t, err := r.catalog.GetTrack(id); err == nil {
		rec.bpm = t.BPM
		rec.age = t.Age
		rec.style = t.Style
		rec.energy = t.Energy
	}
	r.played = append(r.played, rec)
}

// PlayedThisSession returns the identities played so far, oldest first.
func (r *Recommender) PlayedThisSession() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.played))
	for i, rec := range r.played {
		ids[i] = rec.id
	}
	return ids
}

// ResetSession clears the played-this-session state.
func (r *Recommender) ResetSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.played = r.played[:0]
}

// Suggest computes the single best next track, excluding tracks already
// played this session and those whose IDs appear in exclude. The second
// return value is false when no eligible candidate exists; that is a valid
// terminal state, not an error.
func (r *Recommender) Suggest(exclude map[string]bool) (track.Track, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]track.Track, 0)
	for _, t := range r.catalog.AllTracks() {
		if t.Exclude || exclude[t.ID] {
			continue
		}
		if r.wasPlayedLocked(t.ID) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return track.Track{}, false
	}

	// Deterministic tie-break: candidates are scored in ascending ID order
	// and only a strictly lower cost displaces the current best.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})

	now := time.Now()
	bpmTarget := r.bpmTargetLocked()
	ageHist, styleHist := r.attributeHistogramsLocked()

	best := candidates[0]
	bestCost := math.Inf(1)
	for _, t := range candidates {
		cost := r.costLocked(&t, bpmTarget, ageHist, styleHist, now)
		if cost < bestCost {
			best = t
			bestCost = cost
		}
	}

	zlog.Debug().Msgf("recommend: suggesting %s (cost %.2f, bpm target %.0f)", best.ID, bestCost, bpmTarget)
	return best, true
}

func (r *Recommender) wasPlayedLocked(id string) bool {
	for i := range r.played {
		if r.played[i].id == id {
			return true
		}
	}
	return false
}

// costLocked computes the total cost of a candidate. Lower is better.
func (r *Recommender) costLocked(t *track.Track, bpmTarget float64, ageHist, styleHist map[string]float64, now time.Time) float64 {
	p := r.params
	var cost float64

	// Tempo distance to the current cadence target, saturating to zero
	// inside the precision band. Unknown tempo is treated as medium.
	bpm := t.BPM
	if !t.HasBPM() {
		bpm = p.MediumBPM
	}
	if d := math.Abs(bpm - bpmTarget); d > p.BPMPrecision {
		cost += (d - p.BPMPrecision) * p.BPMWeight
	}

	// Energy distance to the operator's target, shaped by the slider
	// exponent. The distance is normalized to [0,1] before the exponent is
	// applied so the exponent changes the curve, not the magnitude.
	energyDistance := math.Abs(t.Energy.Numeric()-p.EnergyTarget) / 100
	cost += p.EnergyVariation * 100 * math.Pow(energyDistance, p.EnergySliderPower) / 10

	// Variety pressure: eras and styles that dominate the recent play
	// history are penalized in proportion to their recency weight.
	if t.Age != "" {
		cost += p.AgeVariation * ageHist[t.Age]
	}
	if t.Style != "" {
		cost += p.StyleVariation * styleHist[t.Style]
	}

	// Recency: a decaying penalty for tracks played not long ago.
	if t.WasPlayed() && p.LastPlayedInfluence > 0 {
		age := now.Sub(t.LastPlayed)
		if age < 0 {
			age = 0
		}
		decay := math.Exp2(-age.Hours() / recencyHalfLife.Hours())
		cost += p.LastPlayedInfluence * 100 * decay
	}

	return cost
}

// bpmTargetLocked finds where in the tempo cadence the session currently
// is. The tempos of the most recently played tracks are matched against
// every rotation of the cadence; the rotation with the smallest summed
// difference decides which cadence slot comes next.
func (r *Recommender) bpmTargetLocked() float64 {
	cadence := r.params.BPMCadence
	if len(cadence) == 0 {
		return r.params.MediumBPM
	}

	// Up to len(cadence) most recent plays, oldest first.
	n := len(r.played)
	window := n
	if window > len(cadence) {
		window = len(cadence)
	}
	recent := r.played[n-window:]

	toMatch := make([]float64, 0, window)
	for i := range recent {
		bpm := recent[i].bpm
		if bpm <= 0 {
			bpm = r.params.MediumBPM
		}
		toMatch = append(toMatch, bpm)
	}

	bestRotate := 0
	bestDifference := math.Inf(1)
	for rotate := 0; rotate < len(cadence); rotate++ {
		var difference float64
		for i, bpm := range toMatch {
			difference += math.Abs(cadence[(rotate+i)%len(cadence)] - bpm)
		}
		if difference < bestDifference {
			bestRotate = rotate
			bestDifference = difference
		}
	}

	return cadence[(bestRotate+len(toMatch))%len(cadence)]
}

// attributeHistogramsLocked builds recency-weighted frequency maps of the
// era and style values played this session. The most recent play weighs 1,
// the one before 1/2, then 1/3, and so on.
func (r *Recommender) attributeHistogramsLocked() (map[string]float64, map[string]float64) {
	ageHist := make(map[string]float64)
	styleHist := make(map[string]float64)

	for i := len(r.played) - 1; i >= 0; i-- {
		weight := 1.0 / float64(len(r.played)-i)
		rec := r.played[i]
		if rec.age != "" {
			ageHist[rec.age] += weight
		}
		if rec.style != "" {
			styleHist[rec.style] += weight
		}
	}
	return ageHist, styleHist
}
