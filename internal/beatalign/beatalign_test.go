package beatalign

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// beatGrid builds a regular beat grid at the given BPM covering [0, duration].
func beatGrid(bpm, duration float64) []float64 {
	interval := 60.0 / bpm
	var beats []float64
	for t := interval; t <= duration; t += interval {
		beats = append(beats, t)
	}
	return beats
}

func defaultConfig() Config {
	return Config{MinClipSec: 3.0, MaxClipSec: 6.0, TargetFPS: 24}
}

func TestAlign_BadConfig(t *testing.T) {
	beats := beatGrid(120, 60)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero min", Config{MinClipSec: 0, MaxClipSec: 6, TargetFPS: 24}},
		{"max below min", Config{MinClipSec: 6, MaxClipSec: 3, TargetFPS: 24}},
		{"zero fps", Config{MinClipSec: 3, MaxClipSec: 6, TargetFPS: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Align(beats, 0, 60, tt.cfg)
			assert.ErrorIs(t, err, ErrBadConfig)
		})
	}
}

func TestAlign_RegionTooShort(t *testing.T) {
	beats := beatGrid(120, 60)

	_, err := Align(beats, 10, 12, defaultConfig())
	assert.ErrorIs(t, err, ErrRegionTooShort)

	_, err = Align(beats, 12, 10, defaultConfig())
	assert.ErrorIs(t, err, ErrRegionTooShort)
}

func TestAlign_NoBeats(t *testing.T) {
	_, err := Align(nil, 0, 30, defaultConfig())
	assert.ErrorIs(t, err, ErrNoBeats)

	// Beats exist but all outside the region.
	_, err = Align([]float64{100, 101, 102}, 0, 30, defaultConfig())
	assert.ErrorIs(t, err, ErrNoBeats)
}

func TestAlign_ShortFormSelection(t *testing.T) {
	// 120 BPM, selection [40, 70]: beats every 0.5s land exactly on
	// frames at 24 fps, so every boundary is exact.
	beats := beatGrid(120, 180)

	plan, err := Align(beats, 40, 70, defaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, plan.Segments)

	assert.Equal(t, StatusValid, plan.Status)
	assert.InDelta(t, 0, plan.MaxAlignmentErrorSec, 1e-9)

	// Full coverage of the selection.
	assert.InDelta(t, 40.0, plan.Segments[0].StartSec, 1e-9)
	assert.InDelta(t, 70.0, plan.Segments[len(plan.Segments)-1].EndSec, 1e-9)

	for i, seg := range plan.Segments {
		assert.Equal(t, i, seg.Index)
		d := seg.DurationSec()
		assert.GreaterOrEqual(t, d, 3.0-1e-9, "segment %d too short", i)
		assert.LessOrEqual(t, d, 6.0+1e-9, "segment %d too long", i)
		assert.Positive(t, seg.BeatsInClip)

		// Segments touch exactly.
		if i > 0 {
			assert.InDelta(t, plan.Segments[i-1].EndSec, seg.StartSec, 1e-9)
			assert.Equal(t, plan.Segments[i-1].EndFrame, seg.StartFrame)
		}
	}
}

func TestAlign_FramesRelativeToRegion(t *testing.T) {
	beats := beatGrid(120, 180)

	plan, err := Align(beats, 40, 70, defaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 0, plan.Segments[0].StartFrame)
	last := plan.Segments[len(plan.Segments)-1]
	// 30 seconds at 24 fps.
	assert.Equal(t, 720, last.EndFrame)
}

func TestAlign_AlignmentErrorWithinHalfFrame(t *testing.T) {
	// 97 BPM does not divide evenly into 24 fps frames, so endpoints
	// carry snapping error bounded by half a frame interval.
	beats := beatGrid(97, 120)

	plan, err := Align(beats, 0, 120, defaultConfig())
	require.NoError(t, err)

	halfFrame := 0.5 / 24.0
	for _, seg := range plan.Segments {
		assert.LessOrEqual(t, math.Abs(seg.EndErrorSec), halfFrame+1e-9)
	}
	assert.LessOrEqual(t, plan.MaxAlignmentErrorSec, halfFrame+1e-9)
	assert.Equal(t, StatusValid, plan.Status)
}

func TestAlign_SparseBeatsDropAndReanchor(t *testing.T) {
	// A 10-second gap in the grid: no legal clip can start at 10, so the
	// planner re-anchors at the next beat and keeps going.
	beats := []float64{2, 4, 6, 8, 10, 20, 22, 24, 26}

	plan, err := Align(beats, 0, 26, defaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, plan.Segments)

	for _, seg := range plan.Segments {
		d := seg.DurationSec()
		assert.GreaterOrEqual(t, d, 3.0-1e-9)
		assert.LessOrEqual(t, d, 6.0+1e-9)
	}
}

func TestAlign_TerminalRemainder(t *testing.T) {
	// Beats stop at 12 but the region runs to 16: the 4-second remainder
	// is at least min_clip_sec, so a terminal segment covers it.
	beats := []float64{2, 4, 6, 8, 10, 12}

	plan, err := Align(beats, 0, 16, defaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, plan.Segments)

	last := plan.Segments[len(plan.Segments)-1]
	assert.InDelta(t, 16.0, last.EndSec, 1.0/24.0+1e-9)
}

func TestAlign_LongTerminalRemainderSplits(t *testing.T) {
	// Beats cover only the first half of the region, leaving a 10-second
	// beatless tail. The tail is still covered, but split so no segment
	// exceeds max_clip_sec.
	beats := []float64{2, 4, 6, 8, 10}

	plan, err := Align(beats, 0, 20, defaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, plan.Segments)

	frame := 1.0 / 24.0
	for i, seg := range plan.Segments {
		d := seg.DurationSec()
		assert.GreaterOrEqual(t, d, 3.0-frame-1e-9, "segment %d too short", i)
		assert.LessOrEqual(t, d, 6.0+frame+1e-9, "segment %d too long", i)
		if i > 0 {
			assert.InDelta(t, plan.Segments[i-1].EndSec, seg.StartSec, 1e-9)
			assert.Equal(t, plan.Segments[i-1].EndFrame, seg.StartFrame)
		}
	}
	assert.InDelta(t, 0.0, plan.Segments[0].StartSec, 1e-9)
	assert.InDelta(t, 20.0, plan.Segments[len(plan.Segments)-1].EndSec, frame+1e-9)
}

func TestAlign_FarthestLegalBeatWins(t *testing.T) {
	// Several beats fall inside the legal duration window; the clip
	// extends to the farthest one so it contains them all.
	beats := []float64{3.5, 4.5, 5.5}

	plan, err := Align(beats, 0, 8, defaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, plan.Segments)

	assert.InDelta(t, 5.5, plan.Segments[0].EndSec, 0.5/24.0+1e-9)
	assert.Equal(t, 3, plan.Segments[0].BeatsInClip)
}

func TestAlign_SingleClipRegion(t *testing.T) {
	// Region barely longer than min: one clip covering the whole selection.
	beats := beatGrid(120, 60)

	plan, err := Align(beats, 10, 14, defaultConfig())
	require.NoError(t, err)
	require.Len(t, plan.Segments, 1)
	assert.InDelta(t, 10.0, plan.Segments[0].StartSec, 1e-9)
	assert.InDelta(t, 14.0, plan.Segments[0].EndSec, 1e-9)
}

func TestAlign_Deterministic(t *testing.T) {
	beats := beatGrid(133, 180)

	first, err := Align(beats, 20, 95, defaultConfig())
	require.NoError(t, err)
	second, err := Align(beats, 20, 95, defaultConfig())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAlign_BoundaryIdempotence(t *testing.T) {
	// Re-aligning a single segment's own boundaries reproduces it.
	beats := beatGrid(120, 180)

	plan, err := Align(beats, 40, 70, defaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, plan.Segments)

	seg := plan.Segments[0]
	replay, err := Align(beats, seg.StartSec, seg.EndSec, defaultConfig())
	require.NoError(t, err)
	require.Len(t, replay.Segments, 1)
	assert.InDelta(t, seg.StartSec, replay.Segments[0].StartSec, 1e-9)
	assert.InDelta(t, seg.EndSec, replay.Segments[0].EndSec, 1e-9)
}
