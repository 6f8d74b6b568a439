package audio

import (
	"math"
)

// Window size for the onset envelope, about 46ms at 22050 Hz.
const onsetWindowSize = 1024

// BPM search range. Detected harmonics and sub-harmonics are folded back
// into this range.
const (
	minBPM = 60.0
	maxBPM = 200.0
)

// BeatGrid is the result of tempo and beat tracking.
type BeatGrid struct {
	BPM       float64
	BeatTimes []float64
	// Strength is the normalized autocorrelation peak, a confidence
	// proxy in [0, 1].
	Strength float64
}

// onsetEnvelope computes per-window RMS energy and its half-wave
// rectified difference (spectral flux proxy). Beats show up as energy
// rises.
func onsetEnvelope(samples []float64) (energy, flux []float64) {
	numWindows := len(samples) / onsetWindowSize
	if numWindows == 0 {
		return nil, nil
	}

	energy = make([]float64, numWindows)
	for i := 0; i < numWindows; i++ {
		start := i * onsetWindowSize
		var sum float64
		for j := 0; j < onsetWindowSize; j++ {
			s := samples[start+j]
			sum += s * s
		}
		energy[i] = math.Sqrt(sum / onsetWindowSize)
	}

	flux = make([]float64, numWindows)
	for i := 1; i < numWindows; i++ {
		if diff := energy[i] - energy[i-1]; diff > 0 {
			flux[i] = diff
		}
	}
	return energy, flux
}

// DetectBeats analyses mono PCM and returns the tempo and beat grid.
// Autocorrelation of the onset envelope finds the dominant period; the
// beat phase is the offset that best aligns with onset peaks.
func DetectBeats(samples []float64, sampleRate int) BeatGrid {
	if len(samples) == 0 || sampleRate <= 0 {
		return BeatGrid{}
	}

	_, flux := onsetEnvelope(samples)
	numWindows := len(flux)
	if numWindows < 4 {
		return BeatGrid{}
	}

	wps := float64(sampleRate) / onsetWindowSize
	minLag := int(wps * 60.0 / maxBPM)
	maxLag := int(wps * 60.0 / minBPM)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= numWindows/2 {
		maxLag = numWindows/2 - 1
	}
	if minLag >= maxLag {
		return BeatGrid{}
	}

	var zeroCorr float64
	for i := 0; i < numWindows; i++ {
		zeroCorr += flux[i] * flux[i]
	}
	zeroCorr /= float64(numWindows)

	bestLag := minLag
	bestCorr := -1.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		var count int
		for i := 0; i+lag < numWindows; i++ {
			corr += flux[i] * flux[i+lag]
			count++
		}
		if count > 0 {
			corr /= float64(count)
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	bpm := (wps * 60.0) / float64(bestLag)
	for bpm < minBPM {
		bpm *= 2
	}
	for bpm > maxBPM {
		bpm /= 2
	}
	bpm = math.Round(bpm*10) / 10

	strength := 0.0
	if zeroCorr > 0 {
		strength = bestCorr / zeroCorr
		if strength > 1 {
			strength = 1
		}
		if strength < 0 {
			strength = 0
		}
	}

	return BeatGrid{
		BPM:       bpm,
		BeatTimes: beatPhase(flux, bestLag, wps),
		Strength:  strength,
	}
}

// beatPhase finds the grid offset that maximizes onset alignment and
// expands it into beat times, refining each beat to the local flux peak.
func beatPhase(flux []float64, lag int, wps float64) []float64 {
	numWindows := len(flux)

	bestOffset := 0
	bestScore := -1.0
	for offset := 0; offset < lag; offset++ {
		var score float64
		for i := offset; i < numWindows; i += lag {
			score += flux[i]
		}
		if score > bestScore {
			bestScore = score
			bestOffset = offset
		}
	}

	var beats []float64
	for i := bestOffset; i < numWindows; i += lag {
		peak := refinePeak(flux, i, 2)
		t := (float64(peak) + 0.5) / wps
		if len(beats) > 0 && t <= beats[len(beats)-1] {
			continue
		}
		beats = append(beats, t)
	}
	return beats
}

// refinePeak nudges index i to the highest flux value within radius.
func refinePeak(flux []float64, i, radius int) int {
	best := i
	for j := i - radius; j <= i+radius; j++ {
		if j < 0 || j >= len(flux) {
			continue
		}
		if flux[j] > flux[best] {
			best = j
		}
	}
	return best
}
