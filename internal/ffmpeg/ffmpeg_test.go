package ffmpeg

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuilder_PCMDecode(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Input("/data/songs/abc/source.mp3").
		NoVideo().
		AudioChannels(1).
		AudioRate(22050).
		PCMOutput().
		Output("-").
		Build()

	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "-i /data/songs/abc/source.mp3")
	assert.Contains(t, args, "-vn")
	assert.Contains(t, args, "-ac 1")
	assert.Contains(t, args, "-ar 22050")
	assert.Contains(t, args, "-f s16le")
	assert.Contains(t, args, "-acodec pcm_s16le")
	assert.True(t, strings.HasSuffix(args, " -"))
}

func TestCommandBuilder_NormalizeClip(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		HideBanner().
		Overwrite().
		Input("in.mp4").
		VideoFilter("scale=1080:1920:force_original_aspect_ratio=decrease").
		VideoFilter("pad=1080:1920:(ow-iw)/2:(oh-ih)/2").
		FrameRate(24).
		VideoCodec("libx264").
		VideoPreset("medium").
		CRF(20).
		PixelFormat("yuv420p").
		NoAudio().
		Output("out.mp4").
		Build()

	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "-y")
	assert.Contains(t, args, "-vf scale=1080:1920:force_original_aspect_ratio=decrease,pad=1080:1920:(ow-iw)/2:(oh-ih)/2")
	assert.Contains(t, args, "-r 24")
	assert.Contains(t, args, "-c:v libx264")
	assert.Contains(t, args, "-preset medium")
	assert.Contains(t, args, "-crf 20")
	assert.Contains(t, args, "-pix_fmt yuv420p")
	assert.Contains(t, args, "-an")
}

func TestCommandBuilder_ConcatInput(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		ConcatInput("/work/list.txt").
		VideoCodec("copy").
		Output("joined.mp4").
		Build()

	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "-f concat -safe 0 -i /work/list.txt")
}

func TestCommandBuilder_MuxWithAudio(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Overwrite().
		Input("video.mp4").
		ExtraInput("audio.mp3", "-ss", "40.000").
		Map("0:v:0").
		Map("1:a:0").
		VideoCodec("copy").
		AudioCodec("aac").
		AudioBitrate("192k").
		Shortest().
		FastStart().
		Output("final.mp4").
		Build()

	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "-i video.mp4")
	assert.Contains(t, args, "-ss 40.000 -i audio.mp3")
	assert.Contains(t, args, "-map 0:v:0 -map 1:a:0")
	assert.Contains(t, args, "-shortest")
	assert.Contains(t, args, "-movflags +faststart")
}

func TestCommandBuilder_SeekAndDuration(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		SeekInput(40).
		Input("song.mp3").
		Duration(30.5).
		Output("cut.mp3").
		Build()

	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "-ss 40.000 -i song.mp3")
	assert.Contains(t, args, "-t 30.500")
}

func TestCommand_String(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").Input("a.mp4").Output("b.mp4").Build()
	assert.Equal(t, "ffmpeg -loglevel error -i a.mp4 b.mp4", cmd.String())
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"24/1", 24},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"garbage", 0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseFramerate(tt.in), 1e-9, tt.in)
	}
}

func TestSimplifyProbeResult(t *testing.T) {
	result := &ProbeResult{
		Format: ProbeFormat{
			FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
			Duration:   "5.000000",
		},
		Streams: []ProbeStream{
			{
				CodecType:    "video",
				CodecName:    "h264",
				Width:        1080,
				Height:       1920,
				AvgFrameRate: "24/1",
				NumFrames:    "120",
			},
			{
				CodecType:  "audio",
				CodecName:  "aac",
				SampleRate: "44100",
				Channels:   2,
			},
		},
	}

	info := simplify(result)
	assert.InDelta(t, 5.0, info.DurationSec, 1e-9)
	assert.True(t, info.HasVideo)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, 1080, info.Width)
	assert.Equal(t, 1920, info.Height)
	assert.InDelta(t, 24.0, info.FPS, 1e-9)
	assert.Equal(t, int64(120), info.FrameCount)
	assert.True(t, info.HasAudio)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.Equal(t, 44100, info.AudioSampleRate)
	assert.Equal(t, 2, info.AudioChannels)
}

func TestSimplifyProbeResult_VideoOnly(t *testing.T) {
	result := &ProbeResult{
		Streams: []ProbeStream{
			{CodecType: "video", CodecName: "h264", Duration: "4.958333"},
		},
	}

	info := simplify(result)
	assert.True(t, info.HasVideo)
	assert.False(t, info.HasAudio)
	assert.InDelta(t, 4.958333, info.DurationSec, 1e-9)
}

func TestBinaryInfo_SupportsMinVersion(t *testing.T) {
	info := &BinaryInfo{MajorVersion: 6, MinorVersion: 1}

	assert.True(t, info.SupportsMinVersion(6, 0))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.True(t, info.SupportsMinVersion(5, 9))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func TestCountingWriter(t *testing.T) {
	monitor := NewProcessMonitor(1)
	var buf bytes.Buffer

	cw := NewCountingWriter(&buf, monitor)
	n, err := cw.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	stats := monitor.Stats()
	assert.Equal(t, uint64(5), stats.BytesWritten)
}
