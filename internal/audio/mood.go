package audio

import (
	"math"

	"github.com/beatreel/beatreel/internal/models"
)

// ComputeMood derives the mood vector from decoded audio and the beat
// grid. Returns nil when the signal is too short to characterize.
func ComputeMood(samples []float64, sampleRate int, grid BeatGrid) *models.MoodVector {
	energy, flux := onsetEnvelope(samples)
	if len(energy) < 4 {
		return nil
	}

	var energySum, fluxSum float64
	for _, e := range energy {
		energySum += e
	}
	for _, f := range flux {
		fluxSum += f
	}
	meanEnergy := energySum / float64(len(energy))
	meanFlux := fluxSum / float64(len(flux))

	var fluxVar float64
	for _, f := range flux {
		d := f - meanFlux
		fluxVar += d * d
	}
	fluxVar /= float64(len(flux))

	zcr := zeroCrossingRate(samples)

	// Energy: mean RMS against a loudness reference. Typical mastered
	// tracks sit around 0.1-0.3 RMS.
	energyDim := clampUnit(meanEnergy / 0.25)

	// Valence: brightness proxy. Brighter spectra (higher zero crossing
	// rates) read as more positive.
	valence := clampUnit(zcr / 0.15)

	// Danceability: beat salience scaled by how close the tempo sits to
	// the 110-130 BPM sweet spot.
	tempoFit := 1.0
	if grid.BPM > 0 {
		tempoFit = 1.0 - math.Min(math.Abs(grid.BPM-120)/120, 1.0)
	}
	danceability := clampUnit(grid.Strength * (0.5 + 0.5*tempoFit))

	// Tension: onset variance against its mean. Spiky envelopes read as
	// tense, smooth ones as relaxed.
	tension := 0.0
	if meanFlux > 0 {
		tension = clampUnit(math.Sqrt(fluxVar) / (meanFlux * 4))
	}

	return &models.MoodVector{
		Energy:       energyDim,
		Valence:      valence,
		Danceability: danceability,
		Tension:      tension,
	}
}

// MoodTags derives descriptive tags from the vector. Never empty for a
// non-nil vector.
func MoodTags(m *models.MoodVector) []string {
	if m == nil {
		return nil
	}

	var tags []string
	switch {
	case m.Energy >= 0.65 && m.Valence >= 0.5:
		tags = append(tags, "energetic", "uplifting")
	case m.Energy >= 0.65:
		tags = append(tags, "intense")
	case m.Energy < 0.35:
		tags = append(tags, "calm")
	case m.Valence < 0.4:
		tags = append(tags, "melancholic")
	default:
		tags = append(tags, "steady")
	}

	if m.Danceability >= 0.6 {
		tags = append(tags, "danceable")
	}
	if m.Tension >= 0.6 {
		tags = append(tags, "tense")
	}
	return tags
}

// ClassifyGenre estimates a primary genre from tempo and timbre
// heuristics. Returns nil when no profile fits with confidence.
func ClassifyGenre(m *models.MoodVector, grid BeatGrid, samples []float64) *string {
	if m == nil || grid.BPM <= 0 {
		return nil
	}

	zcr := zeroCrossingRate(samples)
	var genre string
	switch {
	case grid.BPM >= 120 && grid.BPM <= 150 && m.Danceability >= 0.5 && zcr < 0.1:
		genre = "electronic"
	case grid.BPM >= 65 && grid.BPM < 105 && m.Energy >= 0.5 && m.Danceability >= 0.4:
		genre = "hip-hop"
	case m.Energy >= 0.6 && zcr >= 0.12:
		genre = "rock"
	case m.Energy < 0.3 && m.Tension < 0.4:
		genre = "ambient"
	case grid.BPM >= 95 && grid.BPM <= 135 && m.Valence >= 0.5:
		genre = "pop"
	default:
		return nil
	}
	return &genre
}

func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i] >= 0) != (samples[i-1] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples))
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
