package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/beatreel/beatreel/internal/service"
)

// CompositionHandler handles composition API endpoints.
type CompositionHandler struct {
	compositionService *service.CompositionService
}

// NewCompositionHandler creates a new composition handler.
func NewCompositionHandler(compositionService *service.CompositionService) *CompositionHandler {
	return &CompositionHandler{
		compositionService: compositionService,
	}
}

// Register registers the composition routes with the API.
func (h *CompositionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "composeClips",
		Method:      "POST",
		Path:        "/api/v1/songs/{id}/clips/compose/async",
		Summary:     "Compose clips",
		Description: "Enqueues composition of the song's completed clips into the final video",
		Tags:        []string{"Composition"},
	}, h.Compose)

	huma.Register(api, huma.Operation{
		OperationID: "getActiveComposition",
		Method:      "GET",
		Path:        "/api/v1/songs/{id}/composition",
		Summary:     "Get active composition",
		Description: "Returns the non-terminal composition job for a song, if any",
		Tags:        []string{"Composition"},
	}, h.Active)

	huma.Register(api, huma.Operation{
		OperationID: "getComposedVideo",
		Method:      "GET",
		Path:        "/api/v1/songs/{id}/video",
		Summary:     "Get composed video",
		Description: "Returns the most recent composed video artifact with a short-lived download URL",
		Tags:        []string{"Composition"},
	}, h.LatestVideo)
}

// ComposeInput is the input for enqueueing a composition.
type ComposeInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// ComposeOutput is the output for enqueueing a composition.
type ComposeOutput struct {
	Body struct {
		Composition CompositionResponse `json:"composition"`
		Job         JobResponse         `json:"job"`
	}
}

// Compose enqueues composition of the completed clips. Requires every
// planned clip in completed status and no other active composition.
func (h *CompositionHandler) Compose(ctx context.Context, input *ComposeInput) (*ComposeOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	compJob, job, err := h.compositionService.RequestComposition(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to enqueue composition")
	}

	resp := &ComposeOutput{}
	resp.Body.Composition = CompositionFromModel(compJob)
	resp.Body.Job = JobFromModel(job)
	return resp, nil
}

// ActiveCompositionInput is the input for the active composition endpoint.
type ActiveCompositionInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// ActiveCompositionOutput is the output for the active composition endpoint.
type ActiveCompositionOutput struct {
	Body struct {
		Composition *CompositionResponse `json:"composition"`
	}
}

// Active returns the non-terminal composition for a song, or a null
// composition when none is in flight.
func (h *CompositionHandler) Active(ctx context.Context, input *ActiveCompositionInput) (*ActiveCompositionOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	compJob, err := h.compositionService.ActiveComposition(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to get composition")
	}

	resp := &ActiveCompositionOutput{}
	if compJob != nil {
		cr := CompositionFromModel(compJob)
		resp.Body.Composition = &cr
	}
	return resp, nil
}

// LatestVideoInput is the input for the composed video endpoint.
type LatestVideoInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// LatestVideoOutput is the output for the composed video endpoint.
type LatestVideoOutput struct {
	Body ComposedVideoResponse
}

// LatestVideo returns the most recent composed video for a song.
func (h *CompositionHandler) LatestVideo(ctx context.Context, input *LatestVideoInput) (*LatestVideoOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	video, url, err := h.compositionService.LatestVideo(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to get composed video")
	}
	if video == nil {
		return nil, huma.Error404NotFound("no composed video exists for this song")
	}

	return &LatestVideoOutput{Body: ComposedVideoFromModel(video, url)}, nil
}
