package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/service"
)

// AnalysisHandler handles audio analysis API endpoints.
type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// Register registers the analysis routes with the API.
func (h *AnalysisHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "analyzeSong",
		Method:      "POST",
		Path:        "/api/v1/songs/{id}/analyze",
		Summary:     "Analyze song",
		Description: "Enqueues an audio analysis job and returns it",
		Tags:        []string{"Analysis"},
	}, h.Analyze)

	huma.Register(api, huma.Operation{
		OperationID: "getAnalysis",
		Method:      "GET",
		Path:        "/api/v1/songs/{id}/analysis",
		Summary:     "Get analysis",
		Description: "Returns the latest completed analysis for a song",
		Tags:        []string{"Analysis"},
	}, h.GetLatest)
}

// AnalyzeSongInput is the input for enqueuing an analysis.
type AnalyzeSongInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// AnalyzeSongOutput is the output for enqueuing an analysis.
type AnalyzeSongOutput struct {
	Body JobResponse
}

// Analyze enqueues an analysis job for a song. When an analysis job is
// already pending or running, the existing job is returned.
func (h *AnalysisHandler) Analyze(ctx context.Context, input *AnalyzeSongInput) (*AnalyzeSongOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	job, err := h.analysisService.RequestAnalysis(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to enqueue analysis")
	}

	return &AnalyzeSongOutput{
		Body: JobFromModel(job),
	}, nil
}

// AnalysisResponse represents a song analysis in API responses.
type AnalysisResponse struct {
	ID        string             `json:"id"`
	SongID    string             `json:"song_id"`
	Version   int                `json:"version"`
	BPM       *float64           `json:"bpm,omitempty"`
	BeatTimes []float64          `json:"beat_times"`
	Sections  []models.Section   `json:"sections"`
	Mood      *models.MoodVector `json:"mood,omitempty"`
	MoodTags  []string           `json:"mood_tags,omitempty"`
	Genre     *string            `json:"genre,omitempty"`
	Waveform  []float64          `json:"waveform"`
	CreatedAt time.Time          `json:"created_at"`
}

// AnalysisFromModel converts an analysis model to a response.
func AnalysisFromModel(a *models.SongAnalysis) AnalysisResponse {
	return AnalysisResponse{
		ID:        a.ID.String(),
		SongID:    a.SongID.String(),
		Version:   a.Version,
		BPM:       a.BPM,
		BeatTimes: a.BeatTimes,
		Sections:  a.Sections,
		Mood:      a.Mood,
		MoodTags:  a.MoodTags,
		Genre:     a.Genre,
		Waveform:  a.Waveform,
		CreatedAt: a.CreatedAt,
	}
}

// GetAnalysisInput is the input for getting the latest analysis.
type GetAnalysisInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// GetAnalysisOutput is the output for getting the latest analysis.
type GetAnalysisOutput struct {
	Body AnalysisResponse
}

// GetLatest returns the highest-version analysis for a song.
func (h *AnalysisHandler) GetLatest(ctx context.Context, input *GetAnalysisInput) (*GetAnalysisOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	analysis, err := h.analysisService.GetLatest(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to get analysis")
	}

	return &GetAnalysisOutput{
		Body: AnalysisFromModel(analysis),
	}, nil
}
