package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/reelgen/reelgen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupVideoTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Video{})
	require.NoError(t, err)

	return db
}

func TestVideoRepo_Create(t *testing.T) {
	db := setupVideoTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	video := &models.Video{
		Topic: "the deepest point in the ocean",
		Genre: "educational",
	}

	err := repo.Create(ctx, video)
	require.NoError(t, err)
	assert.False(t, video.ID.IsZero())
	assert.Equal(t, models.StatusCreated, video.Status)

	found, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, video.Topic, found.Topic)
	assert.Equal(t, video.Genre, found.Genre)
}

func TestVideoRepo_Create_RequiresTopic(t *testing.T) {
	db := setupVideoTestDB(t)
	repo := NewVideoRepository(db)

	err := repo.Create(context.Background(), &models.Video{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTopicRequired)
}

func TestVideoRepo_GetByID_NotFound(t *testing.T) {
	db := setupVideoTestDB(t)
	repo := NewVideoRepository(db)

	found, err := repo.GetByID(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestVideoRepo_Update_RoundTripsAssets(t *testing.T) {
	db := setupVideoTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	video := &models.Video{Topic: "bioluminescence"}
	require.NoError(t, repo.Create(ctx, video))

	video.MarkStoryboardGenerated(models.SceneList{
		{Index: 0, Title: "Opening", Description: "The dark ocean glows.", ImagePrompt: "glowing plankton at night"},
		{Index: 1, Title: "Why", Description: "Chemistry makes light.", ImagePrompt: "diagram of luciferin reaction"},
	})
	video.MarkAssetsGenerating()
	video.SetImageURL(0, "https://store.example/object/public/renders-images/videos/x/images/scene-1.jpg")
	video.MarkSceneDirty(1)
	video.AudioURL = "https://store.example/object/public/renders-audio/videos/x/audio.mp3"
	video.AudioDuration = 14.5
	require.NoError(t, repo.Update(ctx, video))

	found, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.NotNil(t, found)

	// JSON-serialized columns survive the round trip.
	require.Len(t, found.Scenes, 2)
	assert.Equal(t, "The dark ocean glows.", found.Scenes[0].Description)
	require.Len(t, found.ImageURLs, 2)
	assert.NotEmpty(t, found.ImageURLs[0])
	assert.Empty(t, found.ImageURLs[1])
	assert.True(t, found.DirtyScenes.Contains(1))
	assert.False(t, found.DirtyScenes.Contains(0))
	assert.Equal(t, 50, found.ImageUploadProgress)
	assert.Equal(t, 1, found.StoryboardVersion)
	assert.InDelta(t, 14.5, found.AudioDuration, 0.001)
}

func TestVideoRepo_UpdateStatus(t *testing.T) {
	db := setupVideoTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	video := &models.Video{Topic: "volcano facts"}
	require.NoError(t, repo.Create(ctx, video))

	err := repo.UpdateStatus(ctx, video.ID, models.StatusScriptFailed, "timeout: llm call exceeded 90s")
	require.NoError(t, err)

	found, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScriptFailed, found.Status)
	assert.Equal(t, "timeout: llm call exceeded 90s", found.ErrorMessage)

	// Other fields are untouched by the narrow patch.
	assert.Equal(t, "volcano facts", found.Topic)
}

func TestVideoRepo_UpdateStatus_MissingRecord(t *testing.T) {
	db := setupVideoTestDB(t)
	repo := NewVideoRepository(db)

	err := repo.UpdateStatus(context.Background(), models.NewULID(), models.StatusScriptFailed, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no video with id")
}

func TestVideoRepo_List(t *testing.T) {
	db := setupVideoTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	for _, topic := range []string{"first", "second", "third"} {
		require.NoError(t, repo.Create(ctx, &models.Video{Topic: topic}))
		time.Sleep(2 * time.Millisecond) // distinct created_at ordering
	}
	failed := &models.Video{Topic: "fourth"}
	require.NoError(t, repo.Create(ctx, failed))
	require.NoError(t, repo.UpdateStatus(ctx, failed.ID, models.StatusScriptFailed, "boom"))

	t.Run("newest first", func(t *testing.T) {
		videos, err := repo.List(ctx, ListOptions{})
		require.NoError(t, err)
		require.Len(t, videos, 4)
		assert.Equal(t, "fourth", videos[0].Topic)
	})

	t.Run("status filter", func(t *testing.T) {
		videos, err := repo.List(ctx, ListOptions{Status: models.StatusScriptFailed})
		require.NoError(t, err)
		require.Len(t, videos, 1)
		assert.Equal(t, "fourth", videos[0].Topic)
	})

	t.Run("limit and offset", func(t *testing.T) {
		videos, err := repo.List(ctx, ListOptions{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, videos, 2)
	})
}

func TestVideoRepo_ListStale(t *testing.T) {
	db := setupVideoTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	stuck := &models.Video{Topic: "stuck render"}
	require.NoError(t, repo.Create(ctx, stuck))
	require.NoError(t, db.Model(&models.Video{}).Where("id = ?", stuck.ID).
		UpdateColumns(map[string]interface{}{
			"status":     models.StatusRendering,
			"updated_at": time.Now().Add(-time.Hour),
		}).Error)

	fresh := &models.Video{Topic: "fresh render"}
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, db.Model(&models.Video{}).Where("id = ?", fresh.ID).
		UpdateColumn("status", models.StatusRendering).Error)

	statuses := []models.VideoStatus{
		models.StatusScriptGenerating,
		models.StatusStoryboardGenerating,
		models.StatusAssetsGenerating,
		models.StatusRendering,
	}
	stale, err := repo.ListStale(ctx, statuses, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, stuck.ID, stale[0].ID)

	none, err := repo.ListStale(ctx, nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestVideoRepo_Delete(t *testing.T) {
	db := setupVideoTestDB(t)
	repo := NewVideoRepository(db)
	ctx := context.Background()

	video := &models.Video{Topic: "to be removed"}
	require.NoError(t, repo.Create(ctx, video))

	require.NoError(t, repo.Delete(ctx, video.ID))

	found, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
