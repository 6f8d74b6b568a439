// Package audio implements the song analysis engine: PCM decoding, beat
// and tempo tracking, section inference, mood and genre estimation, lyric
// alignment and waveform summarization.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/beatreel/beatreel/internal/ffmpeg"
	"github.com/beatreel/beatreel/internal/observability"
)

// Decoder converts an audio source into mono PCM samples via ffmpeg.
type Decoder struct {
	ffmpegPath string
	sampleRate int
	logger     *slog.Logger
}

// NewDecoder creates a decoder targeting the given sample rate.
func NewDecoder(ffmpegPath string, sampleRate int, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		ffmpegPath: ffmpegPath,
		sampleRate: sampleRate,
		logger:     observability.WithComponent(logger, "audio-decoder"),
	}
}

// SampleRate returns the decoder's target sample rate.
func (d *Decoder) SampleRate() int {
	return d.sampleRate
}

// DecodeMonoPCM decodes the file at path to mono float64 samples in
// [-1, 1] at the decoder's sample rate.
func (d *Decoder) DecodeMonoPCM(ctx context.Context, path string) ([]float64, error) {
	cmd := ffmpeg.NewCommandBuilder(d.ffmpegPath).
		HideBanner().
		Input(path).
		NoVideo().
		AudioChannels(1).
		AudioRate(d.sampleRate).
		PCMOutput().
		Output("-").
		Build()

	var buf bytes.Buffer
	if err := cmd.StreamToWriter(ctx, &buf); err != nil {
		return nil, fmt.Errorf("decoding audio: %w", err)
	}

	samples := pcm16ToFloat(buf.Bytes())
	if len(samples) == 0 {
		return nil, fmt.Errorf("decoding audio: no samples produced")
	}

	d.logger.Debug("decoded audio",
		slog.String("path", path),
		slog.Int("samples", len(samples)),
		slog.Float64("duration_sec", float64(len(samples))/float64(d.sampleRate)))

	return samples, nil
}

// pcm16ToFloat converts little-endian signed 16-bit PCM to float64 in
// [-1, 1]. A trailing odd byte is dropped.
func pcm16ToFloat(data []byte) []float64 {
	n := len(data) / 2
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float64(v) / 32768.0
	}
	return samples
}
