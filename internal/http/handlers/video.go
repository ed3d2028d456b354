package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/reelgen/reelgen/internal/engine"
	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/service"
	"github.com/reelgen/reelgen/internal/wizard"
)

// defaultStageTimeout bounds a background stage run kicked off by an
// async endpoint. Generous: an asset run covers every scene image plus
// voiceover, a render covers the full transcode.
const defaultStageTimeout = 30 * time.Minute

// VideoHandler handles video API endpoints.
type VideoHandler struct {
	videoService *service.VideoService
	logger       *slog.Logger
	stageTimeout time.Duration

	// dispatch runs a background stage. Tests replace it to run inline.
	dispatch func(fn func())
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(videoService *service.VideoService) *VideoHandler {
	return &VideoHandler{
		videoService: videoService,
		logger:       slog.Default(),
		stageTimeout: defaultStageTimeout,
		dispatch:     func(fn func()) { go fn() },
	}
}

// WithLogger sets a custom logger.
func (h *VideoHandler) WithLogger(logger *slog.Logger) *VideoHandler {
	h.logger = logger
	return h
}

// Register registers the video routes with the API.
func (h *VideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createVideo",
		Method:        http.MethodPost,
		Path:          "/api/v1/videos",
		Summary:       "Create video",
		Description:   "Creates a new video record from a topic",
		Tags:          []string{"Videos"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listVideos",
		Method:      http.MethodGet,
		Path:        "/api/v1/videos",
		Summary:     "List videos",
		Description: "Returns videos newest first, optionally filtered by status",
		Tags:        []string{"Videos"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getVideo",
		Method:      http.MethodGet,
		Path:        "/api/v1/videos/{id}",
		Summary:     "Get video",
		Description: "Returns a video by ID",
		Tags:        []string{"Videos"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "deleteVideo",
		Method:      http.MethodDelete,
		Path:        "/api/v1/videos/{id}",
		Summary:     "Delete video",
		Description: "Deletes a video record",
		Tags:        []string{"Videos"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "getVideoProgress",
		Method:      http.MethodGet,
		Path:        "/api/v1/videos/{id}/progress",
		Summary:     "Get progress",
		Description: "Returns the wizard progress projection for a video",
		Tags:        []string{"Videos"},
	}, h.GetProgress)

	huma.Register(api, huma.Operation{
		OperationID:   "generateScript",
		Method:        http.MethodPost,
		Path:          "/api/v1/videos/{id}/script",
		Summary:       "Generate script",
		Description:   "Starts script generation in the background",
		Tags:          []string{"Pipeline"},
		DefaultStatus: http.StatusAccepted,
	}, h.GenerateScript)

	huma.Register(api, huma.Operation{
		OperationID: "updateScript",
		Method:      http.MethodPut,
		Path:        "/api/v1/videos/{id}/script",
		Summary:     "Update script",
		Description: "Stores a manual script edit",
		Tags:        []string{"Pipeline"},
	}, h.UpdateScript)

	huma.Register(api, huma.Operation{
		OperationID: "approveScript",
		Method:      http.MethodPost,
		Path:        "/api/v1/videos/{id}/script/approve",
		Summary:     "Approve script",
		Description: "Accepts the script for storyboarding",
		Tags:        []string{"Pipeline"},
	}, h.ApproveScript)

	huma.Register(api, huma.Operation{
		OperationID:   "generateStoryboard",
		Method:        http.MethodPost,
		Path:          "/api/v1/videos/{id}/storyboard",
		Summary:       "Generate storyboard",
		Description:   "Starts storyboard generation in the background",
		Tags:          []string{"Pipeline"},
		DefaultStatus: http.StatusAccepted,
	}, h.GenerateStoryboard)

	huma.Register(api, huma.Operation{
		OperationID: "updateScene",
		Method:      http.MethodPut,
		Path:        "/api/v1/videos/{id}/scenes/{index}",
		Summary:     "Update scene",
		Description: "Edits one storyboard scene; a prompt change marks the scene for image recomputation",
		Tags:        []string{"Pipeline"},
	}, h.UpdateScene)

	huma.Register(api, huma.Operation{
		OperationID:   "generateAssets",
		Method:        http.MethodPost,
		Path:          "/api/v1/videos/{id}/assets",
		Summary:       "Generate assets",
		Description:   "Starts image, voiceover and caption generation in the background",
		Tags:          []string{"Pipeline"},
		DefaultStatus: http.StatusAccepted,
	}, h.GenerateAssets)

	huma.Register(api, huma.Operation{
		OperationID:   "renderVideo",
		Method:        http.MethodPost,
		Path:          "/api/v1/videos/{id}/render",
		Summary:       "Render video",
		Description:   "Starts the final render in the background",
		Tags:          []string{"Pipeline"},
		DefaultStatus: http.StatusAccepted,
	}, h.Render)

	huma.Register(api, huma.Operation{
		OperationID: "cancelRender",
		Method:      http.MethodPost,
		Path:        "/api/v1/videos/{id}/render/cancel",
		Summary:     "Cancel render",
		Description: "Aborts an in-flight render",
		Tags:        []string{"Pipeline"},
	}, h.CancelRender)

	huma.Register(api, huma.Operation{
		OperationID:   "retryStage",
		Method:        http.MethodPost,
		Path:          "/api/v1/videos/{id}/retry",
		Summary:       "Retry failed stage",
		Description:   "Re-runs the stage a failed video is stuck in",
		Tags:          []string{"Pipeline"},
		DefaultStatus: http.StatusAccepted,
	}, h.Retry)
}

// CreateVideoInput is the input for creating a video.
type CreateVideoInput struct {
	Body struct {
		Topic string `json:"topic" minLength:"1" maxLength:"500" doc:"Subject the script is generated from"`
		Genre string `json:"genre,omitempty" maxLength:"100" doc:"Tone steering (educational, horror, ...)"`
	}
}

// CreateVideoOutput is the output for creating a video.
type CreateVideoOutput struct {
	Body VideoResponse
}

// Create creates a new video record.
func (h *VideoHandler) Create(ctx context.Context, input *CreateVideoInput) (*CreateVideoOutput, error) {
	v, err := h.videoService.CreateVideo(ctx, input.Body.Topic, input.Body.Genre)
	if err != nil {
		return nil, mapError(err)
	}
	return &CreateVideoOutput{Body: VideoFromModel(v)}, nil
}

// ListVideosInput is the input for listing videos.
type ListVideosInput struct {
	Status string `query:"status" doc:"Filter by status (optional)"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Page size"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Page offset"`
}

// ListVideosOutput is the output for listing videos.
type ListVideosOutput struct {
	Body struct {
		Videos []VideoResponse `json:"videos"`
	}
}

// List returns videos newest first.
func (h *VideoHandler) List(ctx context.Context, input *ListVideosInput) (*ListVideosOutput, error) {
	videos, err := h.videoService.ListVideos(ctx, input.Status, input.Limit, input.Offset)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &ListVideosOutput{}
	resp.Body.Videos = make([]VideoResponse, 0, len(videos))
	for _, v := range videos {
		resp.Body.Videos = append(resp.Body.Videos, VideoFromModel(v))
	}
	return resp, nil
}

// VideoIDInput identifies a video by path parameter.
type VideoIDInput struct {
	ID string `path:"id" doc:"Video ID (ULID)"`
}

// GetVideoOutput is the output for getting a video.
type GetVideoOutput struct {
	Body VideoResponse
}

// GetByID returns a video by ID.
func (h *VideoHandler) GetByID(ctx context.Context, input *VideoIDInput) (*GetVideoOutput, error) {
	v, err := h.videoService.GetVideo(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &GetVideoOutput{Body: VideoFromModel(v)}, nil
}

// DeleteVideoOutput is the output for deleting a video.
type DeleteVideoOutput struct{}

// Delete removes a video record.
func (h *VideoHandler) Delete(ctx context.Context, input *VideoIDInput) (*DeleteVideoOutput, error) {
	if err := h.videoService.DeleteVideo(ctx, input.ID); err != nil {
		return nil, mapError(err)
	}
	return &DeleteVideoOutput{}, nil
}

// GetProgressOutput is the output for the progress projection.
type GetProgressOutput struct {
	Body ProgressResponse
}

// GetProgress returns the wizard projection for a video.
func (h *VideoHandler) GetProgress(ctx context.Context, input *VideoIDInput) (*GetProgressOutput, error) {
	report, err := h.videoService.GetProgress(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &GetProgressOutput{Body: ProgressFromReport(report)}, nil
}

// StageAcceptedOutput acknowledges a background stage start.
type StageAcceptedOutput struct {
	Body struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
}

// startStage checks the transition synchronously so invalid requests get
// a 409 instead of a silent failure, then runs the stage detached from
// the request. Outcome lands in the record; clients poll progress.
func (h *VideoHandler) startStage(ctx context.Context, id string, target models.VideoStatus, run func(context.Context) error) (*StageAcceptedOutput, error) {
	v, err := h.videoService.GetVideo(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	// A record already in the target status is a resume, not a new
	// transition; the engine sorts out what is left to do.
	if v.Status != target {
		if err := wizard.Check(v.Status, target); err != nil {
			return nil, mapError(err)
		}
	}

	h.dispatch(func() {
		runCtx, cancel := context.WithTimeout(context.Background(), h.stageTimeout)
		defer cancel()
		if err := run(runCtx); err != nil {
			h.logger.Error("background stage failed",
				slog.String("video_id", id),
				slog.String("target", string(target)),
				slog.String("error", err.Error()),
			)
		}
	})

	out := &StageAcceptedOutput{}
	out.Body.ID = v.ID.String()
	out.Body.Status = string(target)
	out.Body.Message = fmt.Sprintf("video %s accepted for %s", v.ID, target)
	return out, nil
}

// GenerateScript starts script generation.
func (h *VideoHandler) GenerateScript(ctx context.Context, input *VideoIDInput) (*StageAcceptedOutput, error) {
	return h.startStage(ctx, input.ID, models.StatusScriptGenerating, func(runCtx context.Context) error {
		return h.videoService.GenerateScript(runCtx, input.ID)
	})
}

// UpdateScriptInput is the input for a manual script edit.
type UpdateScriptInput struct {
	ID   string `path:"id" doc:"Video ID (ULID)"`
	Body struct {
		Script     string `json:"script" minLength:"1" doc:"Full labeled script text (HOOK/BODY/CTA)"`
		Regenerate bool   `json:"regenerate,omitempty" doc:"Regenerate the storyboard immediately instead of flagging it"`
	}
}

// UpdateScriptOutput is the output for a manual script edit.
type UpdateScriptOutput struct {
	Body VideoResponse
}

// UpdateScript stores a manual script edit.
func (h *VideoHandler) UpdateScript(ctx context.Context, input *UpdateScriptInput) (*UpdateScriptOutput, error) {
	v, err := h.videoService.UpdateScript(ctx, input.ID, input.Body.Script, input.Body.Regenerate)
	if err != nil {
		return nil, mapError(err)
	}
	return &UpdateScriptOutput{Body: VideoFromModel(v)}, nil
}

// ApproveScriptOutput is the output for approving a script.
type ApproveScriptOutput struct {
	Body VideoResponse
}

// ApproveScript accepts the script for storyboarding.
func (h *VideoHandler) ApproveScript(ctx context.Context, input *VideoIDInput) (*ApproveScriptOutput, error) {
	v, err := h.videoService.ApproveScript(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &ApproveScriptOutput{Body: VideoFromModel(v)}, nil
}

// GenerateStoryboard starts storyboard generation.
func (h *VideoHandler) GenerateStoryboard(ctx context.Context, input *VideoIDInput) (*StageAcceptedOutput, error) {
	return h.startStage(ctx, input.ID, models.StatusStoryboardGenerating, func(runCtx context.Context) error {
		return h.videoService.GenerateStoryboard(runCtx, input.ID)
	})
}

// UpdateSceneInput is the input for editing one scene.
type UpdateSceneInput struct {
	ID    string `path:"id" doc:"Video ID (ULID)"`
	Index int    `path:"index" minimum:"0" doc:"Scene index (0-based)"`
	Body  struct {
		Title       *string  `json:"title,omitempty"`
		Description *string  `json:"description,omitempty"`
		ImagePrompt *string  `json:"image_prompt,omitempty" doc:"Changing the prompt marks the scene image for recomputation"`
		Duration    *float64 `json:"duration_seconds,omitempty" minimum:"0"`
	}
}

// UpdateSceneOutput is the output for editing one scene.
type UpdateSceneOutput struct {
	Body VideoResponse
}

// UpdateScene edits one storyboard scene.
func (h *VideoHandler) UpdateScene(ctx context.Context, input *UpdateSceneInput) (*UpdateSceneOutput, error) {
	v, err := h.videoService.UpdateScene(ctx, input.ID, input.Index, engine.ScenePatch{
		Title:       input.Body.Title,
		Description: input.Body.Description,
		ImagePrompt: input.Body.ImagePrompt,
		Duration:    input.Body.Duration,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &UpdateSceneOutput{Body: VideoFromModel(v)}, nil
}

// GenerateAssets starts asset generation.
func (h *VideoHandler) GenerateAssets(ctx context.Context, input *VideoIDInput) (*StageAcceptedOutput, error) {
	return h.startStage(ctx, input.ID, models.StatusAssetsGenerating, func(runCtx context.Context) error {
		return h.videoService.GenerateAssets(runCtx, input.ID)
	})
}

// RenderVideoInput is the input for starting a render.
type RenderVideoInput struct {
	ID    string `path:"id" doc:"Video ID (ULID)"`
	Force bool   `query:"force" doc:"Re-render a completed video"`
}

// Render starts the final render.
func (h *VideoHandler) Render(ctx context.Context, input *RenderVideoInput) (*StageAcceptedOutput, error) {
	v, err := h.videoService.GetVideo(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	if v.Status == models.StatusCompleted && !input.Force {
		return nil, huma.Error409Conflict(fmt.Sprintf("video %s is already rendered; pass force=true to re-render", v.ID))
	}
	return h.startStage(ctx, input.ID, models.StatusRendering, func(runCtx context.Context) error {
		return h.videoService.Render(runCtx, input.ID, input.Force)
	})
}

// CancelRenderOutput is the output for cancelling a render.
type CancelRenderOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// CancelRender aborts an in-flight render.
func (h *VideoHandler) CancelRender(ctx context.Context, input *VideoIDInput) (*CancelRenderOutput, error) {
	if err := h.videoService.CancelRender(ctx, input.ID); err != nil {
		return nil, mapError(err)
	}
	out := &CancelRenderOutput{}
	out.Body.Message = fmt.Sprintf("render of video %s cancelled", input.ID)
	return out, nil
}

// Retry re-runs the stage a failed video is stuck in.
func (h *VideoHandler) Retry(ctx context.Context, input *VideoIDInput) (*StageAcceptedOutput, error) {
	v, err := h.videoService.GetVideo(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	if !v.Status.IsFailure() && v.Status != models.StatusAssetsPartial {
		return nil, huma.Error409Conflict(fmt.Sprintf("video %s is %s, nothing to retry", v.ID, v.Status))
	}

	h.dispatch(func() {
		runCtx, cancel := context.WithTimeout(context.Background(), h.stageTimeout)
		defer cancel()
		if err := h.videoService.RetryStage(runCtx, input.ID); err != nil {
			h.logger.Error("background retry failed",
				slog.String("video_id", input.ID),
				slog.String("error", err.Error()),
			)
		}
	})

	out := &StageAcceptedOutput{}
	out.Body.ID = v.ID.String()
	out.Body.Status = string(v.Status)
	out.Body.Message = fmt.Sprintf("video %s accepted for retry from %s", v.ID, v.Status)
	return out, nil
}
