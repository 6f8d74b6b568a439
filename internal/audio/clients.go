package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/beatreel/beatreel/internal/config"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/observability"
	"github.com/beatreel/beatreel/pkg/httpclient"
)

// StructureRequest is the payload sent to the external structure service.
type StructureRequest struct {
	DurationSec   float64   `json:"duration_sec"`
	BPM           float64   `json:"bpm,omitempty"`
	OnsetEnvelope []float64 `json:"onset_envelope"`
	FrameSec      float64   `json:"frame_sec"`
}

// StructureResponse is the structure service result.
type StructureResponse struct {
	Sections []models.Section `json:"sections"`
}

// StructureClient calls an external section inference service.
type StructureClient struct {
	endpoint config.ServiceEndpoint
	client   *httpclient.Client
	logger   *slog.Logger
}

// NewStructureClient creates a structure client, or nil when the
// endpoint is not configured.
func NewStructureClient(endpoint config.ServiceEndpoint, logger *slog.Logger) *StructureClient {
	if !endpoint.Configured() {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := httpclient.DefaultConfig()
	if endpoint.Timeout > 0 {
		cfg.Timeout = endpoint.Timeout
	}

	return &StructureClient{
		endpoint: endpoint,
		client:   httpclient.DefaultFactory.CreateClientWithConfig("structure", cfg),
		logger:   observability.WithComponent(logger, "structure-client"),
	}
}

// InferSections posts the onset envelope and returns the inferred
// sections. Any failure is returned to the caller, which falls back to
// the internal segmenter.
func (c *StructureClient) InferSections(ctx context.Context, req StructureRequest) ([]models.Section, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding structure request: %w", err)
	}

	url := strings.TrimSuffix(c.endpoint.URL, "/") + "/v1/structure"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building structure request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.endpoint.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.endpoint.APIToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling structure service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("structure service returned status %d", resp.StatusCode)
	}

	var result StructureResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding structure response: %w", err)
	}
	if len(result.Sections) == 0 {
		return nil, fmt.Errorf("structure service returned no sections")
	}
	return result.Sections, nil
}

// TranscribedWord is one word with its timing from the lyrics service.
type TranscribedWord struct {
	Word     string  `json:"word"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// LyricsResponse is the transcription result.
type LyricsResponse struct {
	Words []TranscribedWord `json:"words"`
}

// LyricsClient calls an external transcription service with word-level
// timings.
type LyricsClient struct {
	endpoint config.ServiceEndpoint
	client   *httpclient.Client
	logger   *slog.Logger
}

// NewLyricsClient creates a lyrics client, or nil when the endpoint is
// not configured.
func NewLyricsClient(endpoint config.ServiceEndpoint, logger *slog.Logger) *LyricsClient {
	if !endpoint.Configured() {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := httpclient.DefaultConfig()
	if endpoint.Timeout > 0 {
		cfg.Timeout = endpoint.Timeout
	}

	return &LyricsClient{
		endpoint: endpoint,
		client:   httpclient.DefaultFactory.CreateClientWithConfig("lyrics", cfg),
		logger:   observability.WithComponent(logger, "lyrics-client"),
	}
}

// Transcribe uploads the audio file and returns word-level timings.
func (c *LyricsClient) Transcribe(ctx context.Context, audioPath string) ([]TranscribedWord, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("opening audio for transcription: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("building transcription request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading audio for transcription: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("building transcription request: %w", err)
	}

	url := strings.TrimSuffix(c.endpoint.URL, "/") + "/v1/transcribe"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("building transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if c.endpoint.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.endpoint.APIToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling lyrics service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lyrics service returned status %d", resp.StatusCode)
	}

	var result LyricsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding lyrics response: %w", err)
	}
	return result.Words, nil
}

// AlignLyrics attaches each word to the section containing its midpoint.
func AlignLyrics(sections []models.Section, words []TranscribedWord) {
	if len(sections) == 0 || len(words) == 0 {
		return
	}

	perSection := make([][]string, len(sections))
	for _, w := range words {
		mid := (w.StartSec + w.EndSec) / 2
		for i := range sections {
			if mid >= sections[i].StartSec && mid < sections[i].EndSec {
				perSection[i] = append(perSection[i], w.Word)
				break
			}
		}
	}

	for i := range sections {
		sections[i].Lyrics = strings.Join(perSection[i], " ")
	}
}
