package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/scheduler"
	"github.com/beatreel/beatreel/internal/service"
)

// JobHandler handles job management API endpoints. Job rows are the
// durable progress record: clients that reload reconstruct in-flight
// state from these endpoints.
type JobHandler struct {
	jobService *service.JobService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
	}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns jobs, optionally filtered by song or restricted to running jobs",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a job's status, progress, error and result",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Description: "Requests cooperative cancellation; workers honor it at the next checkpoint",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "getJobHistory",
		Method:      "GET",
		Path:        "/api/v1/jobs/history",
		Summary:     "Get job history",
		Description: "Returns completed job execution records with pagination",
		Tags:        []string{"Jobs"},
	}, h.History)

	huma.Register(api, huma.Operation{
		OperationID: "getJobStats",
		Method:      "GET",
		Path:        "/api/v1/jobs/stats",
		Summary:     "Get job statistics",
		Description: "Returns job counts by status and type plus runner status",
		Tags:        []string{"Jobs"},
	}, h.Stats)
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	SongID  string `query:"song_id" doc:"Filter jobs by song ID"`
	Running bool   `query:"running" doc:"Only return running jobs"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// List returns jobs, newest first.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	var (
		jobs []*models.Job
		err  error
	)
	switch {
	case input.SongID != "":
		var songID models.ULID
		songID, err = parseULID(input.SongID)
		if err != nil {
			return nil, err
		}
		jobs, err = h.jobService.GetBySongID(ctx, songID)
	case input.Running:
		jobs, err = h.jobService.GetRunning(ctx)
	default:
		jobs, err = h.jobService.GetAll(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}

	resp := &ListJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(j))
	}
	return resp, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	job, err := h.jobService.GetByID(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to get job")
	}

	return &GetJobOutput{Body: JobFromModel(job)}, nil
}

// CancelJobInput is the input for canceling a job.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// CancelJobOutput is the output for canceling a job.
type CancelJobOutput struct {
	Body JobResponse
}

// Cancel requests cancellation of a pending or running job.
func (h *JobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	job, err := h.jobService.Cancel(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to cancel job")
	}

	return &CancelJobOutput{Body: JobFromModel(job)}, nil
}

// JobHistoryInput is the input for the job history endpoint.
type JobHistoryInput struct {
	Type   string `query:"type" doc:"Filter by job type"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"200" doc:"Limit for pagination"`
}

// JobHistoryOutput is the output for the job history endpoint.
type JobHistoryOutput struct {
	Body struct {
		History    []JobHistoryResponse `json:"history"`
		Pagination PaginationMeta       `json:"pagination"`
	}
}

// History returns job execution records, newest first.
func (h *JobHandler) History(ctx context.Context, input *JobHistoryInput) (*JobHistoryOutput, error) {
	var jobType *models.JobType
	if input.Type != "" {
		t := models.JobType(input.Type)
		jobType = &t
	}

	records, total, err := h.jobService.GetHistory(ctx, jobType, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job history", err)
	}

	resp := &JobHistoryOutput{}
	resp.Body.History = make([]JobHistoryResponse, 0, len(records))
	for _, r := range records {
		resp.Body.History = append(resp.Body.History, JobHistoryFromModel(r))
	}
	resp.Body.Pagination = NewPaginationMeta(input.Offset, input.Limit, total)
	return resp, nil
}

// JobStatsInput is the input for the job stats endpoint.
type JobStatsInput struct{}

// JobStatsOutput is the output for the job stats endpoint.
type JobStatsOutput struct {
	Body struct {
		Stats  *service.JobStats       `json:"stats"`
		Runner *scheduler.RunnerStatus `json:"runner,omitempty"`
	}
}

// Stats returns aggregate job counts and the runner status.
func (h *JobHandler) Stats(ctx context.Context, input *JobStatsInput) (*JobStatsOutput, error) {
	stats, err := h.jobService.GetStats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job stats", err)
	}

	resp := &JobStatsOutput{}
	resp.Body.Stats = stats
	if runner, err := h.jobService.GetRunnerStatus(); err == nil {
		resp.Body.Runner = runner
	}
	return resp, nil
}
