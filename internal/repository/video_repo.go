package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/reelgen/reelgen/internal/models"
	"gorm.io/gorm"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *videoRepo {
	return &videoRepo{db: db}
}

// Create creates a new video record.
func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

// GetByID retrieves a video by ID.
func (r *videoRepo) GetByID(ctx context.Context, id models.ULID) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by ID: %w", err)
	}
	return &video, nil
}

// List retrieves videos newest first, filtered by options.
func (r *videoRepo) List(ctx context.Context, opts ListOptions) ([]*models.Video, error) {
	var videos []*models.Video

	query := r.db.WithContext(ctx).Order("created_at DESC")
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	if err := query.Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("listing videos: %w", err)
	}
	return videos, nil
}

// Update persists the whole video record.
func (r *videoRepo) Update(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		return fmt.Errorf("updating video: %w", err)
	}
	return nil
}

// UpdateStatus patches only status and error message.
// Uses UpdateColumns to avoid triggering hooks on a stale in-memory record.
func (r *videoRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.VideoStatus, errorMessage string) error {
	result := r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"status":        status,
			"error_message": errorMessage,
			"updated_at":    time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("updating video status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("updating video status: no video with id %s", id)
	}
	return nil
}

// ListStale retrieves videos stuck in one of the given statuses whose last
// update is older than the cutoff.
func (r *videoRepo) ListStale(ctx context.Context, statuses []models.VideoStatus, olderThan time.Time) ([]*models.Video, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	var videos []*models.Video
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, olderThan).
		Order("updated_at ASC").
		Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("listing stale videos: %w", err)
	}
	return videos, nil
}

// Delete deletes a video by ID.
func (r *videoRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Video{}).Error; err != nil {
		return fmt.Errorf("deleting video: %w", err)
	}
	return nil
}

// Ensure videoRepo implements VideoRepository at compile time.
var _ VideoRepository = (*videoRepo)(nil)
