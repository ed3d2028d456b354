// Package handlers provides the HTTP API handlers for reelgen.
package handlers

import (
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/provider"
	"github.com/reelgen/reelgen/internal/wizard"
)

// VideoResponse is the API projection of a video record.
type VideoResponse struct {
	ID                   models.ULID        `json:"id"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	Topic                string             `json:"topic"`
	Genre                string             `json:"genre,omitempty"`
	Status               models.VideoStatus `json:"status"`
	Stage                wizard.Stage       `json:"stage"`
	ErrorMessage         string             `json:"error_message,omitempty"`
	ScriptRaw            string             `json:"script_raw,omitempty"`
	ScriptPlain          string             `json:"script_plain,omitempty"`
	RequiresRegeneration bool               `json:"requires_regeneration,omitempty"`
	Scenes               models.SceneList   `json:"scenes,omitempty"`
	StoryboardVersion    int                `json:"storyboard_version"`
	DirtyScenes          models.IntSet      `json:"dirty_scenes,omitempty"`
	ImageURLs            models.StringList  `json:"image_urls,omitempty"`
	ImageUploadProgress  int                `json:"image_upload_progress"`
	AudioURL             string             `json:"audio_url,omitempty"`
	CaptionsURL          string             `json:"captions_url,omitempty"`
	VideoURL             string             `json:"video_url,omitempty"`
	AudioDuration        float64            `json:"audio_duration,omitempty"`
	RenderProgress       int                `json:"render_progress"`
	RenderAttempts       int                `json:"render_attempts"`
}

// VideoFromModel converts a video model to a response.
func VideoFromModel(v *models.Video) VideoResponse {
	return VideoResponse{
		ID:                   v.ID,
		CreatedAt:            v.CreatedAt,
		UpdatedAt:            v.UpdatedAt,
		Topic:                v.Topic,
		Genre:                v.Genre,
		Status:               v.Status,
		Stage:                wizard.StageOf(v.Status),
		ErrorMessage:         v.ErrorMessage,
		ScriptRaw:            v.ScriptRaw,
		ScriptPlain:          v.ScriptPlain,
		RequiresRegeneration: v.RequiresRegeneration,
		Scenes:               v.Scenes,
		StoryboardVersion:    v.StoryboardVersion,
		DirtyScenes:          v.DirtyScenes,
		ImageURLs:            v.ImageURLs,
		ImageUploadProgress:  v.ImageUploadProgress,
		AudioURL:             v.AudioURL,
		CaptionsURL:          v.CaptionsURL,
		VideoURL:             v.VideoURL,
		AudioDuration:        v.AudioDuration,
		RenderProgress:       v.RenderProgress,
		RenderAttempts:       v.RenderAttempts,
	}
}

// ProgressResponse is the wizard projection of a record.
type ProgressResponse struct {
	Stage    wizard.Stage `json:"stage"`
	Percent  int          `json:"percent"`
	Detail   string       `json:"detail,omitempty"`
	Terminal bool         `json:"terminal"`
	Error    string       `json:"error,omitempty"`
}

// ProgressFromReport converts a wizard report to a response.
func ProgressFromReport(r wizard.ProgressReport) ProgressResponse {
	return ProgressResponse{
		Stage:    r.Stage,
		Percent:  r.Percent,
		Detail:   r.Detail,
		Terminal: r.Terminal,
		Error:    r.Error,
	}
}

// mapError converts pipeline error kinds to HTTP errors. Kinds that only
// occur mid-stage (timeouts, provider failures) reach the client through
// the stored record, not through this mapping.
func mapError(err error) error {
	switch provider.KindOf(err) {
	case provider.KindNotFound:
		return huma.Error404NotFound(err.Error())
	case provider.KindInvalidStatus:
		return huma.Error409Conflict(err.Error())
	case provider.KindContentPolicy:
		return huma.Error422UnprocessableEntity(err.Error())
	case provider.KindBadOutput:
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
