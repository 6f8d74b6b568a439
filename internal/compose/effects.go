package compose

import (
	"fmt"
	"math"
	"strings"

	"github.com/beatreel/beatreel/internal/config"
)

// Beat effect types.
const (
	EffectFlash      = "flash"
	EffectColorBurst = "color_burst"
	EffectZoomPulse  = "zoom_pulse"
	EffectGlitch     = "glitch"
)

// beatFrames converts beat times to frame indices at the target fps,
// deduplicated and limited to the output duration.
func beatFrames(beatTimes []float64, fps int, durationSec float64) []int {
	frames := make([]int, 0, len(beatTimes))
	last := -1
	for _, t := range beatTimes {
		if t < 0 || t >= durationSec {
			continue
		}
		f := int(math.Round(t * float64(fps)))
		if f == last {
			continue
		}
		frames = append(frames, f)
		last = f
	}
	return frames
}

// eqExpr builds a timeline expression matching exactly the given frames.
func eqExpr(frames []int) string {
	terms := make([]string, len(frames))
	for i, f := range frames {
		terms[i] = fmt.Sprintf("eq(n,%d)", f)
	}
	return strings.Join(terms, "+")
}

// betweenExpr builds a timeline expression matching span frames starting
// at each given frame.
func betweenExpr(frames []int, span int) string {
	terms := make([]string, len(frames))
	for i, f := range frames {
		terms[i] = fmt.Sprintf("between(n,%d,%d)", f, f+span-1)
	}
	return strings.Join(terms, "+")
}

// BeatEffectFilter builds the frame-indexed filter chain for the
// configured beat effect. Returns an empty string when the effect is
// disabled, unknown, or no beat lands inside the output.
func BeatEffectFilter(beatTimes []float64, fps int, durationSec float64, cfg config.BeatEffectConfig, width, height int) string {
	if !cfg.Enabled || fps <= 0 {
		return ""
	}
	frames := beatFrames(beatTimes, fps, durationSec)
	if len(frames) == 0 {
		return ""
	}

	intensity := cfg.Intensity
	if intensity <= 0 {
		intensity = 0.5
	}
	if intensity > 1 {
		intensity = 1
	}

	switch cfg.Type {
	case EffectFlash:
		// Single white frame on each beat.
		return fmt.Sprintf("eq=brightness=%.2f:enable='%s'", 0.8*intensity, eqExpr(frames))

	case EffectColorBurst:
		// Saturation boost held for three frames.
		return fmt.Sprintf("eq=saturation=%.2f:enable='%s'", 1+2*intensity, betweenExpr(frames, 3))

	case EffectZoomPulse:
		// Centered punch-in held for five frames, capped at 1.05x.
		zoom := 1 + 0.05*intensity
		cond := betweenExpr(frames, 5)
		return fmt.Sprintf(
			"crop=w='if(%s,floor(iw/%.3f/2)*2,iw)':h='if(%s,floor(ih/%.3f/2)*2,ih)':x='(iw-ow)/2':y='(ih-oh)/2',scale=%d:%d",
			cond, zoom, cond, zoom, width, height)

	case EffectGlitch:
		// RGB channel shift held for three frames.
		shift := 1 + int(math.Round(5*intensity))
		return fmt.Sprintf("rgbashift=rh=%d:bv=-%d:enable='%s'", shift, shift, betweenExpr(frames, 3))
	}

	return ""
}
