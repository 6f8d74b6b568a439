package audio

import (
	"fmt"
	"math"

	"github.com/beatreel/beatreel/internal/models"
)

// Frame length for section features.
const sectionFrameSec = 1.0

// featureFrame summarizes one second of audio for segmentation.
type featureFrame struct {
	rms  float64
	flux float64
	zcr  float64
}

// Segmenter is the internal section inference fallback. It extracts
// per-second feature frames and agglomeratively merges adjacent blocks
// until a duration-derived boundary count remains.
type Segmenter struct {
	// MinSectionSec is the minimum section duration; undersized sections
	// merge into the shorter adjacent neighbor. Relaxed to 5s for songs
	// under 60s.
	MinSectionSec float64
}

// NewSegmenter creates a segmenter with the given minimum section length.
func NewSegmenter(minSectionSec float64) *Segmenter {
	if minSectionSec <= 0 {
		minSectionSec = 8.0
	}
	return &Segmenter{MinSectionSec: minSectionSec}
}

// Segment partitions [0, duration] into typed musical sections.
func (s *Segmenter) Segment(samples []float64, sampleRate int) ([]models.Section, error) {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("segmenting: empty audio")
	}

	duration := float64(len(samples)) / float64(sampleRate)
	frames := extractFeatureFrames(samples, sampleRate)
	if len(frames) < 2 {
		// Too short to subdivide: one instrumental section covers it.
		return []models.Section{{
			StartSec:   0,
			EndSec:     duration,
			Type:       models.SectionTypeInstrument,
			Confidence: 0.5,
		}}, nil
	}

	target := targetSectionCount(duration)
	blocks := initialBlocks(frames)
	blocks = agglomerate(blocks, target)

	minSection := s.MinSectionSec
	if duration < 60 && minSection > 5.0 {
		minSection = 5.0
	}
	blocks = mergeShortBlocks(blocks, minSection)

	return typeBlocks(blocks, frames, duration), nil
}

// extractFeatureFrames computes one feature vector per second.
func extractFeatureFrames(samples []float64, sampleRate int) []featureFrame {
	frameLen := int(float64(sampleRate) * sectionFrameSec)
	numFrames := len(samples) / frameLen
	frames := make([]featureFrame, 0, numFrames)

	prevRMS := 0.0
	for i := 0; i < numFrames; i++ {
		start := i * frameLen
		var sumSq float64
		crossings := 0
		for j := 0; j < frameLen; j++ {
			v := samples[start+j]
			sumSq += v * v
			if j > 0 && (v >= 0) != (samples[start+j-1] >= 0) {
				crossings++
			}
		}

		rms := math.Sqrt(sumSq / float64(frameLen))
		flux := 0.0
		if i > 0 && rms > prevRMS {
			flux = rms - prevRMS
		}
		prevRMS = rms

		frames = append(frames, featureFrame{
			rms:  rms,
			flux: flux,
			zcr:  float64(crossings) / float64(frameLen),
		})
	}
	return frames
}

// targetSectionCount picks a boundary count from the song duration.
func targetSectionCount(duration float64) int {
	count := int(duration / 30)
	if count < 2 {
		count = 2
	}
	if count > 12 {
		count = 12
	}
	return count
}

// block is a contiguous run of feature frames.
type block struct {
	startFrame int
	endFrame   int // exclusive
	mean       featureFrame
}

func blockOf(frames []featureFrame, start, end int) block {
	b := block{startFrame: start, endFrame: end}
	n := float64(end - start)
	for i := start; i < end; i++ {
		b.mean.rms += frames[i].rms
		b.mean.flux += frames[i].flux
		b.mean.zcr += frames[i].zcr
	}
	b.mean.rms /= n
	b.mean.flux /= n
	b.mean.zcr /= n
	return b
}

// initialBlocks splits the frames into ~4-second seed blocks.
func initialBlocks(frames []featureFrame) []block {
	const seedLen = 4
	var blocks []block
	for start := 0; start < len(frames); start += seedLen {
		end := start + seedLen
		if end > len(frames) {
			end = len(frames)
		}
		blocks = append(blocks, blockOf(frames, start, end))
	}
	return blocks
}

// featureDistance is the Euclidean distance between block means with the
// rms dimension dominant.
func featureDistance(a, b featureFrame) float64 {
	dr := a.rms - b.rms
	df := a.flux - b.flux
	dz := a.zcr - b.zcr
	return math.Sqrt(dr*dr*4 + df*df + dz*dz)
}

// agglomerate repeatedly merges the most similar adjacent block pair
// until target blocks remain.
func agglomerate(blocks []block, target int) []block {
	for len(blocks) > target {
		bestIdx := 0
		bestDist := math.Inf(1)
		for i := 0; i+1 < len(blocks); i++ {
			if d := featureDistance(blocks[i].mean, blocks[i+1].mean); d < bestDist {
				bestDist = d
				bestIdx = i
			}
		}

		a, b := blocks[bestIdx], blocks[bestIdx+1]
		na := float64(a.endFrame - a.startFrame)
		nb := float64(b.endFrame - b.startFrame)
		merged := block{
			startFrame: a.startFrame,
			endFrame:   b.endFrame,
			mean: featureFrame{
				rms:  (a.mean.rms*na + b.mean.rms*nb) / (na + nb),
				flux: (a.mean.flux*na + b.mean.flux*nb) / (na + nb),
				zcr:  (a.mean.zcr*na + b.mean.zcr*nb) / (na + nb),
			},
		}
		blocks = append(blocks[:bestIdx], append([]block{merged}, blocks[bestIdx+2:]...)...)
	}
	return blocks
}

// mergeShortBlocks folds blocks shorter than minSection into the shorter
// adjacent neighbor.
func mergeShortBlocks(blocks []block, minSectionSec float64) []block {
	minFrames := int(minSectionSec / sectionFrameSec)

	for len(blocks) > 1 {
		shortIdx := -1
		for i, b := range blocks {
			if b.endFrame-b.startFrame < minFrames {
				shortIdx = i
				break
			}
		}
		if shortIdx == -1 {
			break
		}

		// Pick the shorter neighbor to absorb into.
		mergeWith := shortIdx - 1
		if shortIdx == 0 {
			mergeWith = 1
		} else if shortIdx+1 < len(blocks) {
			prevLen := blocks[shortIdx-1].endFrame - blocks[shortIdx-1].startFrame
			nextLen := blocks[shortIdx+1].endFrame - blocks[shortIdx+1].startFrame
			if nextLen < prevLen {
				mergeWith = shortIdx + 1
			}
		}

		lo, hi := shortIdx, mergeWith
		if lo > hi {
			lo, hi = hi, lo
		}
		a, b := blocks[lo], blocks[hi]
		na := float64(a.endFrame - a.startFrame)
		nb := float64(b.endFrame - b.startFrame)
		merged := block{
			startFrame: a.startFrame,
			endFrame:   b.endFrame,
			mean: featureFrame{
				rms:  (a.mean.rms*na + b.mean.rms*nb) / (na + nb),
				flux: (a.mean.flux*na + b.mean.flux*nb) / (na + nb),
				zcr:  (a.mean.zcr*na + b.mean.zcr*nb) / (na + nb),
			},
		}
		blocks = append(blocks[:lo], append([]block{merged}, blocks[hi+1:]...)...)
	}
	return blocks
}

// typeBlocks assigns section types from relative energy: the first block
// is the intro, the last the outro, the loudest blocks chorus, the rest
// verses with drops for sharp high-flux peaks.
func typeBlocks(blocks []block, frames []featureFrame, duration float64) []models.Section {
	var maxRMS, maxFlux float64
	for _, b := range blocks {
		if b.mean.rms > maxRMS {
			maxRMS = b.mean.rms
		}
		if b.mean.flux > maxFlux {
			maxFlux = b.mean.flux
		}
	}

	sections := make([]models.Section, 0, len(blocks))
	for i, b := range blocks {
		start := float64(b.startFrame) * sectionFrameSec
		end := float64(b.endFrame) * sectionFrameSec
		if i == 0 {
			start = 0
		}
		if i == len(blocks)-1 {
			end = duration
		}

		var sectionType models.SectionType
		relEnergy := 0.0
		if maxRMS > 0 {
			relEnergy = b.mean.rms / maxRMS
		}
		switch {
		case i == 0 && len(blocks) > 1:
			sectionType = models.SectionTypeIntro
		case i == len(blocks)-1 && len(blocks) > 2:
			sectionType = models.SectionTypeOutro
		case relEnergy >= 0.9 && maxFlux > 0 && b.mean.flux/maxFlux >= 0.9:
			sectionType = models.SectionTypeDrop
		case relEnergy >= 0.85:
			sectionType = models.SectionTypeChorus
		case relEnergy < 0.45:
			sectionType = models.SectionTypeBreakdown
		default:
			sectionType = models.SectionTypeVerse
		}

		confidence := 0.4 + 0.4*relEnergy
		sections = append(sections, models.Section{
			StartSec:   start,
			EndSec:     end,
			Type:       sectionType,
			Confidence: confidence,
		})
	}

	// Contiguity: each section starts where the previous ended.
	for i := 1; i < len(sections); i++ {
		sections[i].StartSec = sections[i-1].EndSec
	}
	return sections
}
