// Package compose assembles generated clips and the source audio into
// the final video artifact. The pipeline runs as a state machine with
// cancellation checkpoints at every subprocess boundary.
package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beatreel/beatreel/internal/config"
	"github.com/beatreel/beatreel/internal/ffmpeg"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/observability"
	"github.com/beatreel/beatreel/internal/storage"
	"github.com/beatreel/beatreel/pkg/httpclient"
)

// Pipeline validation errors.
var (
	ErrNoClips          = errors.New("no clips to compose")
	ErrClipNotReady     = errors.New("clip is not completed")
	ErrCoverageTooShort = errors.New("clips cover less than the selected audio segment")
	ErrCoverageTooLong  = errors.New("clips exceed the selected audio segment")
	ErrSongTooLong      = errors.New("selection exceeds the maximum song duration")
)

// epsilonSec is the slack allowed below the selected duration before the
// coverage check fails.
const epsilonSec = 0.05

// Request carries everything one composition run needs.
type Request struct {
	SongID models.ULID
	JobID  models.ULID

	// Plan holds the beat-aligned boundaries the clips were generated
	// against. Required when beat-aligned transitions are enabled.
	Plan *models.ClipPlan

	// Clips are the completed clips in plan order.
	Clips []models.Clip

	// AudioPath is the absolute path of the source audio blob.
	AudioPath string

	// AudioStartSec and AudioEndSec bound the selected audio segment.
	AudioStartSec float64
	AudioEndSec   float64

	// BeatTimes are absolute beat positions within the song, used for
	// beat effects. Shifted to the selection window internally.
	BeatTimes []float64
}

// SelectedDurationSec returns the length of the audio segment.
func (r Request) SelectedDurationSec() float64 {
	return r.AudioEndSec - r.AudioStartSec
}

// ProgressFunc receives step transitions with a monotonic percentage.
type ProgressFunc func(step models.CompositionStep, percent int)

// CheckpointFunc is polled between subprocesses; a non-nil error aborts
// the run (used for cooperative cancellation).
type CheckpointFunc func() error

// Engine runs composition pipelines.
type Engine struct {
	cfg        config.CompositionConfig
	ffmpegPath string
	prober     *ffmpeg.Prober
	store      *storage.Store
	downloader *httpclient.Client
	logger     *slog.Logger
}

// NewEngine creates a composition engine.
func NewEngine(cfg config.CompositionConfig, ffmpegPath, ffprobePath string, store *storage.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NormalizeWorkers <= 0 {
		cfg.NormalizeWorkers = 4
	}
	if cfg.MaxExtendSec <= 0 {
		cfg.MaxExtendSec = 3
	}
	if cfg.MaxSongDurationSec <= 0 {
		cfg.MaxSongDurationSec = 300
	}
	if cfg.CompositionTimeout <= 0 {
		cfg.CompositionTimeout = 30 * time.Minute
	}
	if cfg.EncodeTimeout <= 0 {
		cfg.EncodeTimeout = 10 * time.Minute
	}

	return &Engine{
		cfg:        cfg,
		ffmpegPath: ffmpegPath,
		prober:     ffmpeg.NewProber(ffprobePath),
		store:      store,
		downloader: httpclient.DefaultFactory.CreateClientForService("clip_download"),
		logger:     observability.WithComponent(logger, "compose"),
	}
}

// Run executes the full pipeline and returns the unsaved ComposedVideo
// record with its artifact already uploaded. The caller persists the
// record; on persist failure it deletes the blob at record.BlobKey.
func (e *Engine) Run(ctx context.Context, req Request, progress ProgressFunc, checkpoint CheckpointFunc) (*models.ComposedVideo, error) {
	if progress == nil {
		progress = func(models.CompositionStep, int) {}
	}
	if checkpoint == nil {
		checkpoint = func() error { return nil }
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CompositionTimeout)
	defer cancel()

	workDir, err := e.store.NewWorkDir("compose-" + req.SongID.String() + "-")
	if err != nil {
		return nil, err
	}
	defer e.store.RemoveWorkDir(workDir)

	progress(models.CompositionStepValidating, 5)
	clipInfos, err := e.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := checkpoint(); err != nil {
		return nil, err
	}
	progress(models.CompositionStepDownloading, 15)
	rawPaths, err := e.download(ctx, req.Clips, workDir, checkpoint)
	if err != nil {
		return nil, err
	}

	progress(models.CompositionStepNormalizing, 25)
	normPaths, err := e.normalize(ctx, rawPaths, workDir, checkpoint)
	if err != nil {
		return nil, err
	}

	if e.cfg.BeatAlignedTransitions && req.Plan != nil {
		if err := checkpoint(); err != nil {
			return nil, err
		}
		progress(models.CompositionStepBeatAligning, 50)
		if err := e.beatAlign(ctx, req.Plan, normPaths, workDir, checkpoint); err != nil {
			return nil, err
		}
	}

	if err := checkpoint(); err != nil {
		return nil, err
	}
	progress(models.CompositionStepConcatenating, 60)
	if err := e.extendFinal(ctx, req, normPaths, workDir); err != nil {
		return nil, err
	}
	videoPath, err := e.concatenate(ctx, normPaths, workDir)
	if err != nil {
		return nil, err
	}

	if e.cfg.BeatEffect.Enabled {
		if err := checkpoint(); err != nil {
			return nil, err
		}
		progress(models.CompositionStepBeatEffects, 70)
		videoPath, err = e.applyBeatEffects(ctx, req, videoPath, workDir)
		if err != nil {
			return nil, err
		}
	}

	if err := checkpoint(); err != nil {
		return nil, err
	}
	progress(models.CompositionStepMuxing, 80)
	finalPath, err := e.mux(ctx, req, videoPath, workDir)
	if err != nil {
		return nil, err
	}

	if err := checkpoint(); err != nil {
		return nil, err
	}
	progress(models.CompositionStepVerifying, 90)
	info, err := e.verify(ctx, req, finalPath)
	if err != nil {
		return nil, err
	}

	if err := checkpoint(); err != nil {
		return nil, err
	}
	progress(models.CompositionStepUploading, 95)
	video, err := e.upload(req, finalPath, info)
	if err != nil {
		return nil, err
	}

	progress(models.CompositionStepDone, 100)
	e.logger.Info("composition finished",
		slog.String("song_id", req.SongID.String()),
		slog.String("blob_key", video.BlobKey),
		slog.Float64("duration_sec", video.DurationSec),
		slog.Int("clips", len(clipInfos)))
	return video, nil
}

// validate probes every clip and checks that the set covers the selected
// audio segment within tolerance.
func (e *Engine) validate(ctx context.Context, req Request) ([]*ffmpeg.MediaInfo, error) {
	if len(req.Clips) == 0 {
		return nil, ErrNoClips
	}

	selected := req.SelectedDurationSec()
	if selected > e.cfg.MaxSongDurationSec {
		return nil, fmt.Errorf("%w: %.1fs > %.0fs", ErrSongTooLong, selected, e.cfg.MaxSongDurationSec)
	}

	infos := make([]*ffmpeg.MediaInfo, len(req.Clips))
	var total float64
	for i, clip := range req.Clips {
		if clip.Status != models.ClipStatusCompleted || clip.ResultURL == "" {
			return nil, fmt.Errorf("%w: clip %s is %s", ErrClipNotReady, clip.ID, clip.Status)
		}
		info, err := e.prober.ProbeMedia(ctx, clip.ResultURL)
		if err != nil {
			return nil, fmt.Errorf("probing clip %d: %w", i, err)
		}
		if !info.HasVideo || info.DurationSec <= 0 {
			return nil, fmt.Errorf("clip %d has no usable video stream", i)
		}
		infos[i] = info
		total += info.DurationSec
	}

	if total < selected-e.cfg.MaxExtendSec {
		return nil, fmt.Errorf("%w: %.2fs of clips for %.2fs of audio", ErrCoverageTooShort, total, selected)
	}
	if total > selected+e.cfg.MaxExtendSec {
		return nil, fmt.Errorf("%w: %.2fs of clips for %.2fs of audio", ErrCoverageTooLong, total, selected)
	}
	return infos, nil
}

// download fetches every clip result into the work directory.
func (e *Engine) download(ctx context.Context, clips []models.Clip, workDir string, checkpoint CheckpointFunc) ([]string, error) {
	paths := make([]string, len(clips))
	for i, clip := range clips {
		if err := checkpoint(); err != nil {
			return nil, err
		}

		path := filepath.Join(workDir, fmt.Sprintf("raw_%03d.mp4", i))
		if err := e.fetch(ctx, clip.ResultURL, path); err != nil {
			return nil, fmt.Errorf("downloading clip %d: %w", i, err)
		}
		paths[i] = path
	}
	return paths, nil
}

func (e *Engine) fetch(ctx context.Context, url, dest string) error {
	resp, err := e.downloader.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// scalePadFilter letterboxes the source into the target resolution
// preserving aspect ratio.
func scalePadFilter(width, height int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		width, height, width, height)
}

// normalize re-encodes every clip to the target resolution, fps, codec
// and quality, with a bounded worker pool.
func (e *Engine) normalize(ctx context.Context, rawPaths []string, workDir string, checkpoint CheckpointFunc) ([]string, error) {
	normPaths := make([]string, len(rawPaths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.NormalizeWorkers)
	for i, raw := range rawPaths {
		g.Go(func() error {
			if err := checkpoint(); err != nil {
				return err
			}

			out := filepath.Join(workDir, fmt.Sprintf("norm_%03d.mp4", i))
			cmd := ffmpeg.NewCommandBuilder(e.ffmpegPath).
				HideBanner().
				LogLevel("error").
				Overwrite().
				Input(raw).
				VideoFilter(scalePadFilter(e.cfg.TargetWidth, e.cfg.TargetHeight)).
				FrameRate(e.cfg.TargetFPS).
				VideoCodec("libx264").
				VideoPreset(e.cfg.Preset).
				CRF(e.cfg.CRF).
				PixelFormat("yuv420p").
				NoAudio().
				Output(out).
				Build()

			if err := e.runEncode(gctx, cmd); err != nil {
				return fmt.Errorf("normalizing clip %d: %w", i, err)
			}
			normPaths[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return normPaths, nil
}

// beatAlign trims or extends each normalized clip to its planned
// beat-aligned duration. Overlong clips are trimmed from the end; short
// clips freeze the last frame and fade out.
func (e *Engine) beatAlign(ctx context.Context, plan *models.ClipPlan, normPaths []string, workDir string, checkpoint CheckpointFunc) error {
	frameInterval := 1.0 / float64(plan.TargetFPS)

	for i, path := range normPaths {
		if i >= len(plan.Entries) {
			break
		}
		if err := checkpoint(); err != nil {
			return err
		}

		planned := plan.Entries[i].DurationSec()
		info, err := e.prober.ProbeMedia(ctx, path)
		if err != nil {
			return fmt.Errorf("probing normalized clip %d: %w", i, err)
		}
		delta := info.DurationSec - planned
		if math.Abs(delta) <= frameInterval {
			continue
		}

		out := filepath.Join(workDir, fmt.Sprintf("aligned_%03d.mp4", i))
		builder := ffmpeg.NewCommandBuilder(e.ffmpegPath).
			HideBanner().
			LogLevel("error").
			Overwrite().
			Input(path)

		if delta > 0 {
			builder = builder.Duration(planned)
		} else {
			fade := math.Min(0.25, planned/4)
			builder = builder.VideoFilter(fmt.Sprintf(
				"tpad=stop_mode=clone:stop_duration=%.3f,fade=t=out:st=%.3f:d=%.3f",
				-delta, planned-fade, fade))
		}

		cmd := builder.
			VideoCodec("libx264").
			VideoPreset(e.cfg.Preset).
			CRF(e.cfg.CRF).
			PixelFormat("yuv420p").
			NoAudio().
			Output(out).
			Build()

		if err := e.runEncode(ctx, cmd); err != nil {
			return fmt.Errorf("beat-aligning clip %d: %w", i, err)
		}
		normPaths[i] = out
	}
	return nil
}

// extendFinal freezes the last frame of the final clip when the set
// falls short of the selected audio segment, so the video track reaches
// the full selection before mux. validate has already bounded the
// shortfall by MaxExtendSec.
func (e *Engine) extendFinal(ctx context.Context, req Request, normPaths []string, workDir string) error {
	var total float64
	for i, path := range normPaths {
		info, err := e.prober.ProbeMedia(ctx, path)
		if err != nil {
			return fmt.Errorf("probing normalized clip %d: %w", i, err)
		}
		total += info.DurationSec
	}

	shortfall := coverageShortfall(req.SelectedDurationSec(), total)
	if shortfall == 0 {
		return nil
	}

	last := len(normPaths) - 1
	out := filepath.Join(workDir, "extended.mp4")
	cmd := ffmpeg.NewCommandBuilder(e.ffmpegPath).
		HideBanner().
		LogLevel("error").
		Overwrite().
		Input(normPaths[last]).
		VideoFilter(freezeExtendFilter(shortfall)).
		VideoCodec("libx264").
		VideoPreset(e.cfg.Preset).
		CRF(e.cfg.CRF).
		PixelFormat("yuv420p").
		NoAudio().
		Output(out).
		Build()

	if err := e.runEncode(ctx, cmd); err != nil {
		return fmt.Errorf("extending final clip: %w", err)
	}
	normPaths[last] = out

	e.logger.Debug("extended final clip", slog.Float64("shortfall_sec", shortfall))
	return nil
}

// coverageShortfall returns how far the clip set falls short of the
// selected segment, or 0 when the gap is within tolerance.
func coverageShortfall(selected, total float64) float64 {
	if shortfall := selected - total; shortfall > epsilonSec {
		return shortfall
	}
	return 0
}

// freezeExtendFilter renders the filter that holds the last frame for
// the given number of seconds.
func freezeExtendFilter(stopSec float64) string {
	return fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", stopSec)
}

// concatenate joins the normalized clips with the stream-copy concat
// demuxer. The clips share codec, resolution and fps by construction.
func (e *Engine) concatenate(ctx context.Context, normPaths []string, workDir string) (string, error) {
	listPath := filepath.Join(workDir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(concatList(normPaths)), 0640); err != nil {
		return "", fmt.Errorf("writing concat list: %w", err)
	}

	out := filepath.Join(workDir, "video.mp4")
	cmd := ffmpeg.NewCommandBuilder(e.ffmpegPath).
		HideBanner().
		LogLevel("error").
		Overwrite().
		ConcatInput(listPath).
		OutputArgs("-c", "copy").
		Output(out).
		Build()

	if err := e.runEncode(ctx, cmd); err != nil {
		return "", fmt.Errorf("concatenating clips: %w", err)
	}
	return out, nil
}

// concatList renders the concat demuxer file. Single quotes in paths are
// escaped per the demuxer's quoting rules.
func concatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	return b.String()
}

// applyBeatEffects re-encodes the concatenated video with the configured
// frame-indexed beat effect. Beat times are shifted into the selection
// window first.
func (e *Engine) applyBeatEffects(ctx context.Context, req Request, videoPath, workDir string) (string, error) {
	shifted := make([]float64, 0, len(req.BeatTimes))
	for _, t := range req.BeatTimes {
		if t >= req.AudioStartSec && t < req.AudioEndSec {
			shifted = append(shifted, t-req.AudioStartSec)
		}
	}

	filter := BeatEffectFilter(shifted, e.cfg.TargetFPS, req.SelectedDurationSec(), e.cfg.BeatEffect, e.cfg.TargetWidth, e.cfg.TargetHeight)
	if filter == "" {
		return videoPath, nil
	}

	out := filepath.Join(workDir, "effects.mp4")
	cmd := ffmpeg.NewCommandBuilder(e.ffmpegPath).
		HideBanner().
		LogLevel("error").
		Overwrite().
		Input(videoPath).
		VideoFilter(filter).
		VideoCodec("libx264").
		VideoPreset(e.cfg.Preset).
		CRF(e.cfg.CRF).
		PixelFormat("yuv420p").
		Output(out).
		Build()

	if err := e.runEncode(ctx, cmd); err != nil {
		return "", fmt.Errorf("applying beat effects: %w", err)
	}
	return out, nil
}

// mux combines the video track with the selected audio segment. The
// audio is padded with silence and cut at the visual duration.
func (e *Engine) mux(ctx context.Context, req Request, videoPath, workDir string) (string, error) {
	out := filepath.Join(workDir, "final.mp4")

	cmd := ffmpeg.NewCommandBuilder(e.ffmpegPath).
		HideBanner().
		LogLevel("error").
		Overwrite().
		Input(videoPath).
		ExtraInput(req.AudioPath,
			"-ss", fmt.Sprintf("%.3f", req.AudioStartSec),
			"-t", fmt.Sprintf("%.3f", req.SelectedDurationSec())).
		Map("0:v:0").
		Map("1:a:0").
		OutputArgs("-c:v", "copy").
		AudioCodec("aac").
		AudioBitrate("192k").
		AudioFilter("apad").
		Shortest().
		FastStart().
		Output(out).
		Build()

	if err := e.runEncode(ctx, cmd); err != nil {
		return "", fmt.Errorf("muxing audio: %w", err)
	}
	return out, nil
}

// verify re-probes the output and checks resolution, fps and duration.
func (e *Engine) verify(ctx context.Context, req Request, finalPath string) (*ffmpeg.MediaInfo, error) {
	info, err := e.prober.ProbeMedia(ctx, finalPath)
	if err != nil {
		return nil, fmt.Errorf("probing output: %w", err)
	}

	if info.Width != e.cfg.TargetWidth || info.Height != e.cfg.TargetHeight {
		return nil, fmt.Errorf("output resolution %dx%d does not match target %dx%d",
			info.Width, info.Height, e.cfg.TargetWidth, e.cfg.TargetHeight)
	}
	if math.Abs(info.FPS-float64(e.cfg.TargetFPS)) > 0.1 {
		return nil, fmt.Errorf("output fps %.2f does not match target %d", info.FPS, e.cfg.TargetFPS)
	}

	frameInterval := 1.0 / float64(e.cfg.TargetFPS)
	selected := req.SelectedDurationSec()
	if info.DurationSec < selected-epsilonSec-frameInterval ||
		info.DurationSec > selected+e.cfg.MaxExtendSec+frameInterval {
		return nil, fmt.Errorf("output duration %.3fs outside expected range around %.3fs",
			info.DurationSec, selected)
	}
	return info, nil
}

// upload publishes the artifact into the blob store and builds the
// ComposedVideo record.
func (e *Engine) upload(req Request, finalPath string, info *ffmpeg.MediaInfo) (*models.ComposedVideo, error) {
	videoID := models.NewULID()
	key := storage.ComposedKey(videoID)

	if err := e.store.Publish(finalPath, key); err != nil {
		return nil, fmt.Errorf("uploading artifact: %w", err)
	}
	size, err := e.store.Size(key)
	if err != nil {
		return nil, fmt.Errorf("stating artifact: %w", err)
	}

	clipIDs := make([]models.ULID, len(req.Clips))
	for i, c := range req.Clips {
		clipIDs[i] = c.ID
	}

	return &models.ComposedVideo{
		BaseModel:        models.BaseModel{ID: videoID},
		SongID:           req.SongID,
		CompositionJobID: req.JobID,
		BlobKey:          key,
		ClipIDs:          clipIDs,
		Width:            info.Width,
		Height:           info.Height,
		FPS:              e.cfg.TargetFPS,
		DurationSec:      info.DurationSec,
		ByteSize:         size,
	}, nil
}

// runEncode runs one encoder subprocess under the per-subprocess timeout.
func (e *Engine) runEncode(ctx context.Context, cmd *ffmpeg.Command) error {
	encodeCtx, cancel := context.WithTimeout(ctx, e.cfg.EncodeTimeout)
	defer cancel()

	e.logger.Debug("running encoder", slog.String("command", cmd.String()))
	return cmd.Run(encodeCtx)
}
