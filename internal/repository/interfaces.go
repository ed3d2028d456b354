// Package repository defines data access interfaces for reelgen entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/reelgen/reelgen/internal/models"
)

// ListOptions filters and pages video listings.
type ListOptions struct {
	// Status limits results to a single lifecycle status when non-empty.
	Status models.VideoStatus
	// Limit caps the number of results (0 = no cap).
	Limit int
	// Offset skips results for pagination.
	Offset int
}

// VideoRepository defines operations for video record persistence.
//
// Reads return (nil, nil) when no record exists; callers translate that
// into their own not-found handling. Writes persist the whole record so a
// pipeline stage's accumulated changes land atomically.
type VideoRepository interface {
	// Create creates a new video record.
	Create(ctx context.Context, video *models.Video) error
	// GetByID retrieves a video by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Video, error)
	// List retrieves videos newest first, filtered by options.
	List(ctx context.Context, opts ListOptions) ([]*models.Video, error)
	// Update persists the whole video record.
	Update(ctx context.Context, video *models.Video) error
	// UpdateStatus patches only status and error message. Used for
	// best-effort failure writes where the full record may be stale.
	UpdateStatus(ctx context.Context, id models.ULID, status models.VideoStatus, errorMessage string) error
	// ListStale retrieves videos stuck in one of the given statuses whose
	// last update is older than the cutoff.
	ListStale(ctx context.Context, statuses []models.VideoStatus, olderThan time.Time) ([]*models.Video, error)
	// Delete deletes a video by ID.
	Delete(ctx context.Context, id models.ULID) error
}
