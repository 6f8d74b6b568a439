package handlers

import (
	"context"
	"fmt"
	"mime/multipart"

	"github.com/danielgtaylor/huma/v2"

	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/service"
)

// SongHandler handles song API endpoints: upload, creative inputs and
// deletion.
type SongHandler struct {
	songService    *service.SongService
	maxUploadBytes int64
}

// NewSongHandler creates a new song handler.
func NewSongHandler(songService *service.SongService, maxUploadBytes int64) *SongHandler {
	return &SongHandler{
		songService:    songService,
		maxUploadBytes: maxUploadBytes,
	}
}

// Register registers the song routes with the API.
func (h *SongHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:  "uploadSong",
		Method:       "POST",
		Path:         "/api/v1/songs",
		Summary:      "Upload song",
		Description:  "Uploads an audio track (multipart field 'audio') with an optional character reference image (field 'character')",
		Tags:         []string{"Songs"},
		MaxBodyBytes: h.maxUploadBytes,
		RequestBody:  &huma.RequestBody{Content: map[string]*huma.MediaType{"multipart/form-data": {}}},
	}, h.Upload)

	huma.Register(api, huma.Operation{
		OperationID: "listSongs",
		Method:      "GET",
		Path:        "/api/v1/songs",
		Summary:     "List songs",
		Description: "Returns songs with pagination, newest first",
		Tags:        []string{"Songs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSong",
		Method:      "GET",
		Path:        "/api/v1/songs/{id}",
		Summary:     "Get song",
		Description: "Returns a song by ID",
		Tags:        []string{"Songs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "deleteSong",
		Method:      "DELETE",
		Path:        "/api/v1/songs/{id}",
		Summary:     "Delete song",
		Description: "Deletes a song and all dependent records and blobs",
		Tags:        []string{"Songs"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "setVideoType",
		Method:      "PATCH",
		Path:        "/api/v1/songs/{id}/video-type",
		Summary:     "Set video type",
		Description: "Sets the video type once, before any analysis exists",
		Tags:        []string{"Songs"},
	}, h.SetVideoType)

	huma.Register(api, huma.Operation{
		OperationID: "setAudioSelection",
		Method:      "PATCH",
		Path:        "/api/v1/songs/{id}/audio-selection",
		Summary:     "Set audio selection",
		Description: "Sets the [start, end] audio window used for planning and composition",
		Tags:        []string{"Songs"},
	}, h.SetAudioSelection)
}

// UploadSongInput is the multipart input for uploading a song.
type UploadSongInput struct {
	RawBody multipart.Form
}

// UploadSongOutput is the output for uploading a song.
type UploadSongOutput struct {
	Body SongResponse
}

// Upload stores the audio upload and creates the song record.
func (h *SongHandler) Upload(ctx context.Context, input *UploadSongInput) (*UploadSongOutput, error) {
	audioFiles := input.RawBody.File["audio"]
	if len(audioFiles) == 0 {
		return nil, huma.Error400BadRequest("multipart field 'audio' is required")
	}

	audio, err := audioFiles[0].Open()
	if err != nil {
		return nil, huma.Error400BadRequest("opening audio upload", err)
	}
	defer audio.Close()

	in := service.UploadInput{
		Filename: audioFiles[0].Filename,
		Audio:    audio,
	}

	if characterFiles := input.RawBody.File["character"]; len(characterFiles) > 0 {
		character, err := characterFiles[0].Open()
		if err != nil {
			return nil, huma.Error400BadRequest("opening character image upload", err)
		}
		defer character.Close()
		in.Character = character
	}

	song, err := h.songService.Upload(ctx, in)
	if err != nil {
		return nil, serviceError(err, "failed to upload song")
	}

	return &UploadSongOutput{
		Body: SongFromModel(song, h.songService.SourceURL(song)),
	}, nil
}

// ListSongsInput is the input for listing songs.
type ListSongsInput struct {
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"200" doc:"Limit for pagination"`
}

// ListSongsOutput is the output for listing songs.
type ListSongsOutput struct {
	Body struct {
		Songs      []SongResponse `json:"songs"`
		Pagination PaginationMeta `json:"pagination"`
	}
}

// List returns songs with pagination.
func (h *SongHandler) List(ctx context.Context, input *ListSongsInput) (*ListSongsOutput, error) {
	songs, total, err := h.songService.List(ctx, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list songs", err)
	}

	resp := &ListSongsOutput{}
	resp.Body.Songs = make([]SongResponse, 0, len(songs))
	for _, s := range songs {
		resp.Body.Songs = append(resp.Body.Songs, SongFromModel(s, h.songService.SourceURL(s)))
	}
	resp.Body.Pagination = NewPaginationMeta(input.Offset, input.Limit, total)

	return resp, nil
}

// GetSongInput is the input for getting a song.
type GetSongInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// GetSongOutput is the output for getting a song.
type GetSongOutput struct {
	Body SongResponse
}

// GetByID returns a song by ID.
func (h *SongHandler) GetByID(ctx context.Context, input *GetSongInput) (*GetSongOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	song, err := h.songService.GetByID(ctx, id)
	if err != nil {
		return nil, serviceError(err, fmt.Sprintf("failed to get song %s", input.ID))
	}

	return &GetSongOutput{
		Body: SongFromModel(song, h.songService.SourceURL(song)),
	}, nil
}

// DeleteSongInput is the input for deleting a song.
type DeleteSongInput struct {
	ID string `path:"id" doc:"Song ID (ULID)"`
}

// DeleteSongOutput is the output for deleting a song.
type DeleteSongOutput struct{}

// Delete deletes a song and everything it owns.
func (h *SongHandler) Delete(ctx context.Context, input *DeleteSongInput) (*DeleteSongOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	if err := h.songService.Delete(ctx, id); err != nil {
		return nil, serviceError(err, "failed to delete song")
	}

	return &DeleteSongOutput{}, nil
}

// SetVideoTypeInput is the input for setting the video type.
type SetVideoTypeInput struct {
	ID   string `path:"id" doc:"Song ID (ULID)"`
	Body struct {
		VideoType string `json:"video_type" enum:"full_length,short_form" doc:"Desired output class"`
	}
}

// SetVideoTypeOutput is the output for setting the video type.
type SetVideoTypeOutput struct {
	Body SongResponse
}

// SetVideoType sets the video type. Returns 409 once any analysis exists.
func (h *SongHandler) SetVideoType(ctx context.Context, input *SetVideoTypeInput) (*SetVideoTypeOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	song, err := h.songService.SetVideoType(ctx, id, models.VideoType(input.Body.VideoType))
	if err != nil {
		return nil, serviceError(err, "failed to set video type")
	}

	return &SetVideoTypeOutput{
		Body: SongFromModel(song, h.songService.SourceURL(song)),
	}, nil
}

// SetAudioSelectionInput is the input for setting the audio selection.
type SetAudioSelectionInput struct {
	ID   string `path:"id" doc:"Song ID (ULID)"`
	Body struct {
		StartSec float64 `json:"start_sec" minimum:"0" doc:"Window start in seconds"`
		EndSec   float64 `json:"end_sec" doc:"Window end in seconds"`
	}
}

// SetAudioSelectionOutput is the output for setting the audio selection.
type SetAudioSelectionOutput struct {
	Body SongResponse
}

// SetAudioSelection sets the [start, end] selection window. For
// short-form songs the window must span 1-30 seconds.
func (h *SongHandler) SetAudioSelection(ctx context.Context, input *SetAudioSelectionInput) (*SetAudioSelectionOutput, error) {
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	song, err := h.songService.SetAudioSelection(ctx, id, input.Body.StartSec, input.Body.EndSec)
	if err != nil {
		return nil, serviceError(err, "failed to set audio selection")
	}

	return &SetAudioSelectionOutput{
		Body: SongFromModel(song, h.songService.SourceURL(song)),
	}, nil
}
