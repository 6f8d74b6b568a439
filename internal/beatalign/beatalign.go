// Package beatalign partitions a song's beat grid into beat-aligned clip
// boundaries. The planner is a pure function of the analysis: no I/O, no
// randomness, so replanning identical inputs yields identical plans.
package beatalign

import (
	"errors"
	"math"
)

// Alignment status thresholds.
const (
	// MaxValidAlignmentErrorSec is the largest endpoint error for a plan
	// to be reported as valid rather than warning.
	MaxValidAlignmentErrorSec = 0.050

	// StatusValid means every endpoint is within MaxValidAlignmentErrorSec
	// of its nominal beat.
	StatusValid = "valid"
	// StatusWarning means at least one endpoint exceeds the threshold.
	StatusWarning = "warning"
)

var (
	// ErrNoBeats indicates the selection region contains no beats to align to.
	ErrNoBeats = errors.New("no beats in selection region")
	// ErrRegionTooShort indicates the selection region is shorter than the
	// minimum clip duration.
	ErrRegionTooShort = errors.New("selection region shorter than minimum clip duration")
	// ErrBadConfig indicates an invalid planner configuration.
	ErrBadConfig = errors.New("invalid planner configuration")
)

// Config bounds the planner.
type Config struct {
	// MinClipSec and MaxClipSec bound each clip's duration.
	MinClipSec float64
	MaxClipSec float64
	// TargetFPS is the frame rate endpoints are snapped to.
	TargetFPS int
}

// Segment is one beat-aligned clip boundary. Times are absolute song
// times; frames are relative to the region start at TargetFPS.
type Segment struct {
	Index       int
	StartSec    float64
	EndSec      float64
	StartBeat   int
	EndBeat     int
	StartFrame  int
	EndFrame    int
	BeatsInClip int
	// StartErrorSec and EndErrorSec are the signed offsets between each
	// snapped endpoint and its nominal beat time. Endpoints that do not
	// correspond to a beat (region edges) carry zero.
	StartErrorSec float64
	EndErrorSec   float64
}

// DurationSec returns the segment length in seconds.
func (s Segment) DurationSec() float64 {
	return s.EndSec - s.StartSec
}

// Plan is the planner result.
type Plan struct {
	Segments             []Segment
	MaxAlignmentErrorSec float64
	AvgAlignmentErrorSec float64
	Status               string
}

// Align partitions [start, end] of the beat grid into clip boundaries.
// It walks left to right, extending each clip from its anchor to the
// candidate beat that keeps the duration within bounds and contains the
// most beats. Both endpoints snap to the nearest frame at TargetFPS.
func Align(beatTimes []float64, start, end float64, cfg Config) (Plan, error) {
	if cfg.MinClipSec <= 0 || cfg.MaxClipSec < cfg.MinClipSec || cfg.TargetFPS <= 0 {
		return Plan{}, ErrBadConfig
	}
	if end <= start {
		return Plan{}, ErrRegionTooShort
	}
	if end-start < cfg.MinClipSec {
		return Plan{}, ErrRegionTooShort
	}

	// Beats inside the region, remembering original grid indices.
	var beats []regionBeat
	for i, bt := range beatTimes {
		if bt > start && bt <= end {
			beats = append(beats, regionBeat{t: bt, idx: i})
		}
	}
	if len(beats) == 0 {
		return Plan{}, ErrNoBeats
	}

	frameInterval := 1.0 / float64(cfg.TargetFPS)
	snap := func(t float64) (float64, int) {
		frame := int(math.Round((t - start) / frameInterval))
		if frame < 0 {
			frame = 0
		}
		return start + float64(frame)*frameInterval, frame
	}

	var (
		segments  []Segment
		errSum    float64
		errMax    float64
		errCount  int
		anchor    = start
		anchorErr = 0.0 // signed error carried from the previous endpoint
		nextIdx   = 0   // first beat strictly after the anchor
	)

	recordErr := func(e float64) {
		a := math.Abs(e)
		errSum += a
		errCount++
		if a > errMax {
			errMax = a
		}
	}

	for anchor < end {
		// Candidate end beats keep the clip duration within bounds. The
		// farthest legal beat also contains the most beats, so it wins.
		best := -1
		bestCount := 0
		for i := nextIdx; i < len(beats); i++ {
			elapsed := beats[i].t - anchor
			if elapsed < cfg.MinClipSec {
				continue
			}
			if elapsed > cfg.MaxClipSec {
				break
			}
			best, bestCount = i, i-nextIdx+1
		}

		if best < 0 {
			// No beat yields a legal duration from this anchor. Drop the
			// stretch and re-anchor at the next beat past the minimum.
			reanchored := false
			for i := nextIdx; i < len(beats); i++ {
				if beats[i].t >= anchor+cfg.MinClipSec {
					snapped, _ := snap(beats[i].t)
					anchor = snapped
					anchorErr = snapped - beats[i].t
					nextIdx = i + 1
					reanchored = true
					break
				}
			}
			if !reanchored {
				break
			}
			continue
		}

		startSnap, startFrame := snap(anchor)
		endSnap, endFrame := snap(beats[best].t)
		endErr := endSnap - beats[best].t

		seg := Segment{
			Index:         len(segments),
			StartSec:      startSnap,
			EndSec:        endSnap,
			StartBeat:     firstBeatIdx(beats, nextIdx),
			EndBeat:       beats[best].idx,
			StartFrame:    startFrame,
			EndFrame:      endFrame,
			BeatsInClip:   bestCount,
			StartErrorSec: anchorErr,
			EndErrorSec:   endErr,
		}
		segments = append(segments, seg)
		recordErr(endErr)

		anchor = endSnap
		anchorErr = endErr
		nextIdx = best + 1
	}

	// Terminal remainder: cover [last end, region end] when long enough.
	// The stretch is split into equal pieces so no piece exceeds the
	// maximum clip length; interior cuts fall on frames, not beats.
	if remainder := end - anchor; remainder >= cfg.MinClipSec {
		endSnap, endFrame := snap(end)
		if endSnap > end {
			endSnap -= frameInterval
			endFrame--
		}
		pieces := int(math.Ceil((endSnap - anchor) / cfg.MaxClipSec))
		if pieces < 1 {
			pieces = 1
		}
		chunk := (endSnap - anchor) / float64(pieces)
		prevSnap, prevFrame := snap(anchor)
		prevErr := anchorErr
		cursor := nextIdx
		for p := 1; p <= pieces; p++ {
			boundSnap, boundFrame := endSnap, endFrame
			if p < pieces {
				boundSnap, boundFrame = snap(anchor + float64(p)*chunk)
			}
			startBeat := firstBeatIdx(beats, cursor)
			count := 0
			endBeat := -1
			for cursor < len(beats) && beats[cursor].t <= boundSnap {
				endBeat = beats[cursor].idx
				count++
				cursor++
			}
			segments = append(segments, Segment{
				Index:         len(segments),
				StartSec:      prevSnap,
				EndSec:        boundSnap,
				StartBeat:     startBeat,
				EndBeat:       endBeat,
				StartFrame:    prevFrame,
				EndFrame:      boundFrame,
				BeatsInClip:   count,
				StartErrorSec: prevErr,
			})
			prevSnap, prevFrame = boundSnap, boundFrame
			prevErr = 0
		}
	}

	if len(segments) == 0 {
		return Plan{}, ErrNoBeats
	}

	plan := Plan{
		Segments:             segments,
		MaxAlignmentErrorSec: errMax,
		Status:               StatusValid,
	}
	if errCount > 0 {
		plan.AvgAlignmentErrorSec = errSum / float64(errCount)
	}
	if errMax > MaxValidAlignmentErrorSec {
		plan.Status = StatusWarning
	}
	return plan, nil
}

// regionBeat is a beat inside the selection region with its original
// grid index.
type regionBeat struct {
	t   float64
	idx int
}

// firstBeatIdx returns the original grid index of the beat at position
// pos in the filtered list, or -1 when the list is exhausted.
func firstBeatIdx(beats []regionBeat, pos int) int {
	if pos < len(beats) {
		return beats[pos].idx
	}
	return -1
}
