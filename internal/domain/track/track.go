// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// UnknownBPM is the sentinel for tracks without tempo metadata.
const UnknownBPM = -1

// Energy represents the perceived energy level of a track.
type Energy int

const (
	EnergyLow    Energy = iota // Calm, low-intensity tracks
	EnergyMedium               // Default when nothing else is known
	EnergyHigh                 // High-intensity tracks
)

// String returns the string representation of the energy level.
func (e Energy) String() string {
	switch e {
	case EnergyLow:
		return "low"
	case EnergyMedium:
		return "medium"
	case EnergyHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Numeric maps the energy level onto a 0-100 scale, for comparison
// against the operator's energy target.
func (e Energy) Numeric() float64 {
	switch e {
	case EnergyLow:
		return 0
	case EnergyHigh:
		return 100
	default:
		return 50
	}
}

// ParseEnergy derives an energy level from free-form metadata text by
// keyword matching. Unknown text yields EnergyMedium.
func ParseEnergy(s string) Energy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "calm", "relaxed", "chill":
		return EnergyLow
	case "high", "intense", "energetic", "wild":
		return EnergyHigh
	default:
		return EnergyMedium
	}
}

// Track represents a single entry in the track catalog.
// Records are immutable from the engine's point of view, except for
// LastPlayed which the catalog updates when a track finishes playing.
type Track struct {
	ID         string        // Stable identity (file path or content key)
	Title      string        // Track title
	Author     string        // Artist or author name
	Comment    string        // Free-form comment
	Duration   time.Duration // Track duration
	BPM        float64       // Beats per minute, UnknownBPM if unknown
	Age        string        // Era category (free-form, equality only)
	Style      string        // Style category (free-form, equality only)
	Energy     Energy        // Perceived energy level
	LastPlayed time.Time     // Zero value means never played
	Exclude    bool          // Never propose this track automatically
}

// HasBPM reports whether tempo metadata is known for this track.
func (t *Track) HasBPM() bool {
	return t.BPM > 0
}

// WasPlayed reports whether the track has ever been played.
func (t *Track) WasPlayed() bool {
	return !t.LastPlayed.IsZero()
}

// PlayedSince reports whether the track was played after the given time.
func (t *Track) PlayedSince(cutoff time.Time) bool {
	return t.WasPlayed() && t.LastPlayed.After(cutoff)
}
