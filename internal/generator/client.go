// Package generator is the client for the external video generation
// service. It hides the provider's submit/poll protocol behind a small
// interface and enforces a wall-clock cap per generation.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beatreel/beatreel/internal/config"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/observability"
	"github.com/beatreel/beatreel/pkg/httpclient"
)

// Status is the provider-side generation state.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	// StatusTimedOut is synthesized locally when a generation exceeds
	// the wall-clock cap. The coordinator treats it as retriable on the
	// first two attempts and fatal thereafter.
	StatusTimedOut Status = "timed_out"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// ErrJobNotFound indicates the provider no longer knows the job id.
var ErrJobNotFound = errors.New("generation job not found")

// SubmitRequest describes one clip generation.
type SubmitRequest struct {
	Prompt            string `json:"prompt"`
	Frames            int    `json:"frames"`
	FPS               int    `json:"fps"`
	Seed              int64  `json:"seed,omitempty"`
	ReferenceImageURL string `json:"reference_image_url,omitempty"`
}

// PollResult is the provider state for one generation job.
type PollResult struct {
	Status    Status `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client is the generation provider interface.
type Client interface {
	// Submit starts a generation and returns the provider job id.
	// Submissions are idempotent per (clip, attempt): resubmitting the
	// same pair returns the existing job.
	Submit(ctx context.Context, clipID models.ULID, attempt int, req SubmitRequest) (string, error)
	// Poll returns the current state of a generation job.
	Poll(ctx context.Context, externalJobID string) (PollResult, error)
}

// idempotencyNamespace salts the deterministic submission keys.
var idempotencyNamespace = uuid.MustParse("9f2c41aa-4b7e-4f0d-8a3e-6f1d2b9c5e70")

// IdempotencyKey derives the deterministic submission key for a clip
// attempt. The same pair always yields the same key, so a crashed worker
// resubmitting cannot start a second generation.
func IdempotencyKey(clipID models.ULID, attempt int) string {
	return uuid.NewSHA1(idempotencyNamespace, fmt.Appendf(nil, "%s:%d", clipID, attempt)).String()
}

// HTTPClient talks to the provider's JSON API.
type HTTPClient struct {
	baseURL  string
	apiToken string
	client   *httpclient.Client
	logger   *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a provider client from configuration.
func NewHTTPClient(cfg config.GeneratorConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}

	hcCfg := httpclient.DefaultConfig()
	hcCfg.Logger = logger
	return &HTTPClient{
		baseURL:  strings.TrimSuffix(cfg.URL, "/"),
		apiToken: cfg.APIToken,
		client:   httpclient.DefaultFactory.CreateClientWithConfig("generator", hcCfg),
		logger:   observability.WithComponent(logger, "generator-client"),
	}
}

type submitPayload struct {
	SubmitRequest
	IdempotencyKey string `json:"idempotency_key"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit starts a generation job.
func (c *HTTPClient) Submit(ctx context.Context, clipID models.ULID, attempt int, req SubmitRequest) (string, error) {
	payload := submitPayload{
		SubmitRequest:  req,
		IdempotencyKey: IdempotencyKey(clipID, attempt),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submitting generation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("generation submit returned status %d", resp.StatusCode)
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding submit response: %w", err)
	}
	if result.JobID == "" {
		return "", fmt.Errorf("generation submit returned no job id")
	}

	c.logger.Debug("generation submitted",
		slog.String("clip_id", clipID.String()),
		slog.Int("attempt", attempt),
		slog.String("external_job_id", result.JobID))

	return result.JobID, nil
}

// Poll returns the provider state for a job.
func (c *HTTPClient) Poll(ctx context.Context, externalJobID string) (PollResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/generations/"+externalJobID, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("building poll request: %w", err)
	}
	if c.apiToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return PollResult{}, fmt.Errorf("polling generation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return PollResult{}, ErrJobNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return PollResult{}, fmt.Errorf("generation poll returned status %d", resp.StatusCode)
	}

	var result PollResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return PollResult{}, fmt.Errorf("decoding poll response: %w", err)
	}
	return result, nil
}

// Await polls a job until it reaches a terminal status or the wall-clock
// cap elapses. The checkpoint callback runs before every poll; returning
// an error stops the wait (used for cooperative cancellation).
func Await(ctx context.Context, client Client, externalJobID string, pollInterval, timeout time.Duration, checkpoint func() error) (PollResult, error) {
	if pollInterval <= 0 {
		pollInterval = 4 * time.Second
	}
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if checkpoint != nil {
			if err := checkpoint(); err != nil {
				return PollResult{}, err
			}
		}

		result, err := client.Poll(ctx, externalJobID)
		if err != nil {
			return PollResult{}, err
		}
		if result.Status.Terminal() {
			return result, nil
		}

		if time.Now().After(deadline) {
			return PollResult{Status: StatusTimedOut, Error: "generation exceeded wall-clock limit"}, nil
		}

		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
