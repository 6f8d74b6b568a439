package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/beatreel/beatreel/internal/beatalign"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/service"
)

// ClipHandler handles clip planning and generation API endpoints.
type ClipHandler struct {
	clipService *service.ClipService
}

// NewClipHandler creates a new clip handler.
func NewClipHandler(clipService *service.ClipService) *ClipHandler {
	return &ClipHandler{
		clipService: clipService,
	}
}

// Register registers the clip routes with the API.
func (h *ClipHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getBeatAlignedBoundaries",
		Method:      "GET",
		Path:        "/api/v1/songs/{id}/beat-aligned-boundaries",
		Summary:     "Get beat-aligned boundaries",
		Description: "Computes beat-aligned clip boundaries from the stored analysis without persisting a plan",
		Tags:        []string{"Clips"},
	}, h.Boundaries)

	huma.Register(api, huma.Operation{
		OperationID: "planClips",
		Method:      "POST",
		Path:        "/api/v1/songs/{id}/clips/plan",
		Summary:     "Plan clips",
		Description: "Replaces the song's clip plan; completed clips whose boundaries survive are kept",
		Tags:        []string{"Clips"},
	}, h.Plan)

	huma.Register(api, huma.Operation{
		OperationID: "listClips",
		Method:      "GET",
		Path:        "/api/v1/songs/{id}/clips",
		Summary:     "List clips",
		Description: "Returns the song's clips in plan order",
		Tags:        []string{"Clips"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "generateClips",
		Method:      "POST",
		Path:        "/api/v1/songs/{id}/clips/generate",
		Summary:     "Generate clips",
		Description: "Enqueues a batch generation job covering every pending clip",
		Tags:        []string{"Clips"},
	}, h.Generate)

	huma.Register(api, huma.Operation{
		OperationID: "retryClip",
		Method:      "POST",
		Path:        "/api/v1/songs/{id}/clips/{clip_id}/retry",
		Summary:     "Retry clip",
		Description: "Resets a failed or canceled clip to queued and enqueues a regeneration job",
		Tags:        []string{"Clips"},
	}, h.Retry)

	huma.Register(api, huma.Operation{
		OperationID: "getClipStatus",
		Method:      "GET",
		Path:        "/api/v1/songs/{id}/clips/status",
		Summary:     "Get clip status",
		Description: "Aggregates per-status clip counts and the current composed video URL",
		Tags:        []string{"Clips"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "getClipJob",
		Method:      "GET",
		Path:        "/api/v1/songs/{id}/clips/job",
		Summary:     "Get active generation job",
		Description: "Returns the pending or running batch generation job, if any",
		Tags:        []string{"Clips"},
	}, h.ActiveJob)
}

// BoundarySegmentResponse is one beat-aligned boundary in API responses.
type BoundarySegmentResponse struct {
	Index         int     `json:"index"`
	StartSec      float64 `json:"start_sec"`
	EndSec        float64 `json:"end_sec"`
	DurationSec   float64 `json:"duration_sec"`
	StartBeat     int     `json:"start_beat"`
	EndBeat       int     `json:"end_beat"`
	StartFrame    int     `json:"start_frame"`
	EndFrame      int     `json:"end_frame"`
	BeatsInClip   int     `json:"beats_in_clip"`
	StartErrorSec float64 `json:"start_error_sec"`
	EndErrorSec   float64 `json:"end_error_sec"`
}

// BoundariesResponse is the boundary computation result.
type BoundariesResponse struct {
	Segments             []BoundarySegmentResponse `json:"segments"`
	MaxAlignmentErrorSec float64                   `json:"max_alignment_error_sec"`
	AvgAlignmentErrorSec float64                   `json:"avg_alignment_error_sec"`
	Status               string                    `json:"status"`
}

// BoundariesFromPlan converts a beatalign plan to a response.
func BoundariesFromPlan(plan beatalign.Plan) BoundariesResponse {
	resp := BoundariesResponse{
		Segments:             make([]BoundarySegmentResponse, 0, len(plan.Segments)),
		MaxAlignmentErrorSec: plan.MaxAlignmentErrorSec,
		AvgAlignmentErrorSec: plan.AvgAlignmentErrorSec,
		Status:               plan.Status,
	}
	for _, seg := range plan.Segments {
		resp.Segments = append(resp.Segments, BoundarySegmentResponse{
			Index:         seg.Index,
			StartSec:      seg.StartSec,
			EndSec:        seg.EndSec,
			DurationSec:   seg.DurationSec(),
			StartBeat:     seg.StartBeat,
			EndBeat:       seg.EndBeat,
			StartFrame:    seg.StartFrame,
			EndFrame:      seg.EndFrame,
			BeatsInClip:   seg.BeatsInClip,
			StartErrorSec: seg.StartErrorSec,
			EndErrorSec:   seg.EndErrorSec,
		})
	}
	return resp
}

// GetBoundariesInput is the input for computing beat-aligned boundaries.
type GetBoundariesInput struct {
	ID  string `path:"id" doc:"Song ID (ULID)"`
	FPS int    `query:"fps" default:"24" minimum:"1" maximum:"120" doc:"Target frame rate for endpoint snapping"`
}

// GetBoundariesOutput is the output for computing beat-aligned boundaries.
type GetBoundariesOutput struct {
	Body BoundariesResponse
}

// Boundaries computes clip boundaries for the song's effective window.
// Pure read-through: nothing is persisted.
func (h *ClipHandler) Boundaries(ctx context.Context, input *GetBoundariesInput) (*GetBoundariesOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	plan, err := h.clipService.Boundaries(ctx, id, input.FPS)
	if err != nil {
		return nil, serviceError(err, "failed to compute boundaries")
	}

	return &GetBoundariesOutput{Body: BoundariesFromPlan(plan)}, nil
}

// ClipPlanResponse represents a persisted clip plan in API responses.
type ClipPlanResponse struct {
	ID                   string               `json:"id"`
	SongID               string               `json:"song_id"`
	TargetFPS            int                  `json:"target_fps"`
	Entries              []models.PlannedClip `json:"entries"`
	MaxAlignmentErrorSec float64              `json:"max_alignment_error_sec"`
	AvgAlignmentErrorSec float64              `json:"avg_alignment_error_sec"`
	Status               string               `json:"status"`
	CreatedAt            time.Time            `json:"created_at"`
}

// ClipPlanFromModel converts a clip plan model to a response.
func ClipPlanFromModel(p *models.ClipPlan) ClipPlanResponse {
	return ClipPlanResponse{
		ID:                   p.ID.String(),
		SongID:               p.SongID.String(),
		TargetFPS:            p.TargetFPS,
		Entries:              p.Entries,
		MaxAlignmentErrorSec: p.MaxAlignmentErrorSec,
		AvgAlignmentErrorSec: p.AvgAlignmentErrorSec,
		Status:               p.Status,
		CreatedAt:            p.CreatedAt,
	}
}

// PlanClipsInput is the input for replacing the clip plan.
type PlanClipsInput struct {
	ID         string  `path:"id" doc:"Song ID (ULID)"`
	ClipCount  int     `query:"clip_count" default:"0" minimum:"0" doc:"Desired clip count; 0 lets the beat grid decide"`
	MaxClipSec float64 `query:"max_clip_sec" default:"0" minimum:"0" doc:"Maximum clip duration override in seconds"`
}

// PlanClipsOutput is the output for replacing the clip plan.
type PlanClipsOutput struct {
	Body struct {
		Plan  ClipPlanResponse `json:"plan"`
		Clips []ClipResponse   `json:"clips"`
	}
}

// Plan replaces the song's clip plan and returns the reconciled clips.
func (h *ClipHandler) Plan(ctx context.Context, input *PlanClipsInput) (*PlanClipsOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	plan, clips, err := h.clipService.Plan(ctx, id, input.ClipCount, input.MaxClipSec)
	if err != nil {
		return nil, serviceError(err, "failed to plan clips")
	}

	resp := &PlanClipsOutput{}
	resp.Body.Plan = ClipPlanFromModel(plan)
	resp.Body.Clips = make([]ClipResponse, 0, len(clips))
	for _, c := range clips {
		resp.Body.Clips = append(resp.Body.Clips, ClipFromModel(c))
	}
	return resp, nil
}

// ListClipsInput is the input for listing clips.
type ListClipsInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// ListClipsOutput is the output for listing clips.
type ListClipsOutput struct {
	Body struct {
		Clips []ClipResponse `json:"clips"`
	}
}

// List returns the song's clips in plan order.
func (h *ClipHandler) List(ctx context.Context, input *ListClipsInput) (*ListClipsOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	clips, err := h.clipService.Clips(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to list clips")
	}

	resp := &ListClipsOutput{}
	resp.Body.Clips = make([]ClipResponse, 0, len(clips))
	for _, c := range clips {
		resp.Body.Clips = append(resp.Body.Clips, ClipFromModel(c))
	}
	return resp, nil
}

// GenerateClipsInput is the input for enqueueing batch generation.
type GenerateClipsInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// GenerateClipsOutput is the output for enqueueing batch generation.
type GenerateClipsOutput struct {
	Body struct {
		Job     JobResponse `json:"job"`
		Created bool        `json:"created"`
	}
}

// Generate enqueues a batch generation job. Returns the existing job
// with created=false when one is already pending or running.
func (h *ClipHandler) Generate(ctx context.Context, input *GenerateClipsInput) (*GenerateClipsOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	job, created, err := h.clipService.RequestGeneration(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to enqueue generation")
	}

	resp := &GenerateClipsOutput{}
	resp.Body.Job = JobFromModel(job)
	resp.Body.Created = created
	return resp, nil
}

// RetryClipInput is the input for retrying a clip.
type RetryClipInput struct {
	ID     string `path:"id" doc:"Song ID (ULID)"`
	ClipID string `path:"clip_id" doc:"Clip ID (ULID)"`
}

// RetryClipOutput is the output for retrying a clip.
type RetryClipOutput struct {
	Body struct {
		Clip ClipResponse `json:"clip"`
		Job  JobResponse  `json:"job"`
	}
}

// Retry resets a failed or canceled clip and enqueues regeneration.
func (h *ClipHandler) Retry(ctx context.Context, input *RetryClipInput) (*RetryClipOutput, error) {
	songID, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}
	clipID, err := parseULID(input.ClipID)
	if err != nil {
		return nil, err
	}

	clip, job, err := h.clipService.RetryClip(ctx, songID, clipID)
	if err != nil {
		return nil, serviceError(err, "failed to retry clip")
	}

	resp := &RetryClipOutput{}
	resp.Body.Clip = ClipFromModel(clip)
	resp.Body.Job = JobFromModel(job)
	return resp, nil
}

// ClipStatusInput is the input for the aggregate status endpoint.
type ClipStatusInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// ClipStatusOutput is the output for the aggregate status endpoint.
type ClipStatusOutput struct {
	Body service.GenerationStatus
}

// Status aggregates clip counts and the composed video URL, if any.
func (h *ClipHandler) Status(ctx context.Context, input *ClipStatusInput) (*ClipStatusOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	status, err := h.clipService.Status(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to get clip status")
	}

	return &ClipStatusOutput{Body: *status}, nil
}

// ClipJobInput is the input for the active generation job endpoint.
type ClipJobInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// ClipJobOutput is the output for the active generation job endpoint.
type ClipJobOutput struct {
	Body struct {
		Job *JobResponse `json:"job"`
	}
}

// ActiveJob returns the pending or running batch generation job, or a
// null job when none exists.
func (h *ClipHandler) ActiveJob(ctx context.Context, input *ClipJobInput) (*ClipJobOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	job, err := h.clipService.ActiveBatchJob(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to get generation job")
	}

	resp := &ClipJobOutput{}
	if job != nil {
		jr := JobFromModel(job)
		resp.Body.Job = &jr
	}
	return resp, nil
}
