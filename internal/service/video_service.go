// Package service exposes the video pipeline as coarse operations for
// the HTTP surface and CLI. It owns no business rules: status gating
// lives in the wizard, generation in the engines; this layer parses
// identifiers, dispatches, and keeps handlers out of the repository.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/reelgen/reelgen/internal/engine"
	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/provider"
	"github.com/reelgen/reelgen/internal/repository"
	"github.com/reelgen/reelgen/internal/wizard"
)

// VideoService provides high-level video pipeline operations.
type VideoService struct {
	repo   repository.VideoRepository
	engine *engine.Engine
	logger *slog.Logger
}

// NewVideoService creates a new VideoService.
func NewVideoService(repo repository.VideoRepository, eng *engine.Engine) *VideoService {
	return &VideoService{
		repo:   repo,
		engine: eng,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *VideoService) WithLogger(logger *slog.Logger) *VideoService {
	s.logger = logger
	return s
}

// parseID turns a path identifier into a ULID. Malformed identifiers
// cannot name a record, so they report as not_found rather than leaking
// parse details.
func parseID(id string) (models.ULID, error) {
	parsed, err := models.ParseULID(strings.TrimSpace(id))
	if err != nil {
		return models.ULID{}, provider.Newf(provider.KindNotFound, "service.parse_id", "no video %q", id)
	}
	return parsed, nil
}

// CreateVideo creates a new video record from a topic and optional genre.
func (s *VideoService) CreateVideo(ctx context.Context, topic, genre string) (*models.Video, error) {
	v := &models.Video{
		Topic: strings.TrimSpace(topic),
		Genre: strings.TrimSpace(genre),
	}
	if v.Topic == "" {
		return nil, provider.Newf(provider.KindBadOutput, "video.create", "topic is required")
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "video created",
		slog.String("video_id", v.ID.String()),
		slog.String("genre", v.Genre),
	)
	return v, nil
}

// GetVideo retrieves a video by its string identifier.
func (s *VideoService) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	vid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	v, err := s.repo.GetByID(ctx, vid)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, provider.Newf(provider.KindNotFound, "video.get", "video %s not found", id)
	}
	return v, nil
}

// ListVideos retrieves videos newest first, optionally filtered by status.
func (s *VideoService) ListVideos(ctx context.Context, status string, limit, offset int) ([]*models.Video, error) {
	return s.repo.List(ctx, repository.ListOptions{
		Status: models.VideoStatus(status),
		Limit:  limit,
		Offset: offset,
	})
}

// DeleteVideo removes a video record. Stored media objects are kept;
// object keys are per-video so they are simply never referenced again.
func (s *VideoService) DeleteVideo(ctx context.Context, id string) error {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, v.ID)
}

// GetProgress returns the wizard projection for a video.
func (s *VideoService) GetProgress(ctx context.Context, id string) (wizard.ProgressReport, error) {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return wizard.ProgressReport{}, err
	}
	return wizard.Progress(v), nil
}

// GenerateScript runs the script stage.
func (s *VideoService) GenerateScript(ctx context.Context, id string) error {
	vid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.engine.GenerateScript(ctx, vid)
}

// UpdateScript stores a manual script edit.
func (s *VideoService) UpdateScript(ctx context.Context, id, text string, regenerate bool) (*models.Video, error) {
	vid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.engine.UpdateScript(ctx, vid, text, regenerate)
}

// ApproveScript accepts the script for storyboarding.
func (s *VideoService) ApproveScript(ctx context.Context, id string) (*models.Video, error) {
	vid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.engine.ApproveScript(ctx, vid)
}

// GenerateStoryboard runs the storyboard stage.
func (s *VideoService) GenerateStoryboard(ctx context.Context, id string) error {
	vid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.engine.GenerateStoryboard(ctx, vid)
}

// UpdateScene edits one storyboard scene.
func (s *VideoService) UpdateScene(ctx context.Context, id string, index int, patch engine.ScenePatch) (*models.Video, error) {
	vid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.engine.UpdateScene(ctx, vid, index, patch)
}

// GenerateAssets runs the asset stage.
func (s *VideoService) GenerateAssets(ctx context.Context, id string) error {
	vid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.engine.GenerateAssets(ctx, vid)
}

// Render runs the render stage.
func (s *VideoService) Render(ctx context.Context, id string, force bool) error {
	vid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.engine.Render(ctx, vid, force)
}

// CancelRender aborts an in-flight render.
func (s *VideoService) CancelRender(ctx context.Context, id string) error {
	vid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.engine.CancelRender(ctx, vid)
}

// RetryStage re-runs the stage a failed video is stuck in.
func (s *VideoService) RetryStage(ctx context.Context, id string) error {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return err
	}

	switch v.Status {
	case models.StatusScriptFailed:
		return s.engine.GenerateScript(ctx, v.ID)
	case models.StatusStoryboardFailed:
		return s.engine.GenerateStoryboard(ctx, v.ID)
	case models.StatusAssetsFailed, models.StatusAssetsPartial:
		return s.engine.GenerateAssets(ctx, v.ID)
	case models.StatusRenderFailed:
		return s.engine.Render(ctx, v.ID, false)
	}
	return provider.Newf(provider.KindInvalidStatus, "video.retry",
		"video %s is %s, nothing to retry", v.ID, v.Status)
}
