package audio

// Waveform bucket count bounds.
const (
	MinWaveformBuckets = 512
	MaxWaveformBuckets = 2048
)

// Waveform downsamples the amplitude envelope to a fixed-length summary.
// Each bucket is the maximum absolute amplitude of its linear window,
// in [0, 1]. The bucket count is clamped to the supported range and to
// the sample count.
func Waveform(samples []float64, buckets int) []float64 {
	if len(samples) == 0 {
		return nil
	}
	if buckets < MinWaveformBuckets {
		buckets = MinWaveformBuckets
	}
	if buckets > MaxWaveformBuckets {
		buckets = MaxWaveformBuckets
	}
	if buckets > len(samples) {
		buckets = len(samples)
	}

	out := make([]float64, buckets)
	for i := 0; i < buckets; i++ {
		start := i * len(samples) / buckets
		end := (i + 1) * len(samples) / buckets
		if end <= start {
			end = start + 1
		}

		var peak float64
		for j := start; j < end && j < len(samples); j++ {
			v := samples[j]
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
		if peak > 1 {
			peak = 1
		}
		out[i] = peak
	}
	return out
}
