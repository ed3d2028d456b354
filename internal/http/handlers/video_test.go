package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reelgen/reelgen/internal/engine"
	"github.com/reelgen/reelgen/internal/models"
	imagemock "github.com/reelgen/reelgen/internal/provider/image/mock"
	llmmock "github.com/reelgen/reelgen/internal/provider/llm/mock"
	ttsmock "github.com/reelgen/reelgen/internal/provider/tts/mock"
	"github.com/reelgen/reelgen/internal/repository"
	"github.com/reelgen/reelgen/internal/service"
	"github.com/reelgen/reelgen/internal/wizard"
)

const handlerTestScript = "HOOK: A cold open.\n\nBODY: Something happens in the middle.\n\nCTA: Subscribe."

func newTestHandler(t *testing.T) (*VideoHandler, *llmmock.Client) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Video{}))

	repo := repository.NewVideoRepository(db)
	llm := &llmmock.Client{}
	eng := engine.New(repo, engine.Deps{
		LLM:   llm,
		Image: &imagemock.Client{},
		TTS:   &ttsmock.Client{},
	}, engine.Config{WorkDir: t.TempDir()})

	handler := NewVideoHandler(service.NewVideoService(repo, eng))
	// Run background stages inline so tests observe their outcome.
	handler.dispatch = func(fn func()) { fn() }
	return handler, llm
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func createVideo(t *testing.T, h *VideoHandler, topic string) VideoResponse {
	t.Helper()
	input := &CreateVideoInput{}
	input.Body.Topic = topic
	resp, err := h.Create(context.Background(), input)
	require.NoError(t, err)
	return resp.Body
}

func TestVideoHandler_CreateAndGet(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	created := createVideo(t, h, "the oldest tree on earth")
	assert.Equal(t, models.StatusCreated, created.Status)
	assert.Equal(t, wizard.StageCreated, created.Stage)

	resp, err := h.GetByID(ctx, &VideoIDInput{ID: created.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, created.ID, resp.Body.ID)
	assert.Equal(t, "the oldest tree on earth", resp.Body.Topic)
}

func TestVideoHandler_Create_MissingTopic(t *testing.T) {
	h, _ := newTestHandler(t)

	input := &CreateVideoInput{}
	input.Body.Topic = "   "
	_, err := h.Create(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestVideoHandler_GetByID_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	_, err := h.GetByID(context.Background(), &VideoIDInput{ID: models.NewULID().String()})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestVideoHandler_List(t *testing.T) {
	h, llm := newTestHandler(t)
	ctx := context.Background()
	llm.ScriptResponse = handlerTestScript

	a := createVideo(t, h, "first topic")
	createVideo(t, h, "second topic")
	_, err := h.GenerateScript(ctx, &VideoIDInput{ID: a.ID.String()})
	require.NoError(t, err)

	all, err := h.List(ctx, &ListVideosInput{Limit: 50})
	require.NoError(t, err)
	assert.Len(t, all.Body.Videos, 2)

	filtered, err := h.List(ctx, &ListVideosInput{Status: string(models.StatusScriptGenerated), Limit: 50})
	require.NoError(t, err)
	require.Len(t, filtered.Body.Videos, 1)
	assert.Equal(t, a.ID, filtered.Body.Videos[0].ID)
}

func TestVideoHandler_Delete(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	v := createVideo(t, h, "short lived")
	_, err := h.Delete(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)

	_, err = h.GetByID(ctx, &VideoIDInput{ID: v.ID.String()})
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestVideoHandler_GenerateScript(t *testing.T) {
	h, llm := newTestHandler(t)
	ctx := context.Background()
	llm.ScriptResponse = handlerTestScript

	v := createVideo(t, h, "script me")
	resp, err := h.GenerateScript(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusScriptGenerating), resp.Body.Status)

	got, err := h.GetByID(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, models.StatusScriptGenerated, got.Body.Status)
	assert.Contains(t, got.Body.ScriptRaw, "HOOK:")
}

func TestVideoHandler_GenerateStoryboard_WrongStage(t *testing.T) {
	h, _ := newTestHandler(t)

	v := createVideo(t, h, "no script yet")
	_, err := h.GenerateStoryboard(context.Background(), &VideoIDInput{ID: v.ID.String()})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, statusOf(t, err))
}

func TestVideoHandler_UpdateAndApproveScript(t *testing.T) {
	h, llm := newTestHandler(t)
	ctx := context.Background()
	llm.ScriptResponse = handlerTestScript

	v := createVideo(t, h, "edit me")
	_, err := h.GenerateScript(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)

	edit := &UpdateScriptInput{ID: v.ID.String()}
	edit.Body.Script = "HOOK: Rewritten.\n\nBODY: By hand.\n\nCTA: Like and share."
	updated, err := h.UpdateScript(ctx, edit)
	require.NoError(t, err)
	assert.Contains(t, updated.Body.ScriptRaw, "Rewritten")

	approved, err := h.ApproveScript(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, models.StatusScriptApproved, approved.Body.Status)
}

func TestVideoHandler_UpdateScript_WrongStage(t *testing.T) {
	h, _ := newTestHandler(t)

	v := createVideo(t, h, "nothing to edit")
	input := &UpdateScriptInput{ID: v.ID.String()}
	input.Body.Script = "HOOK: x.\n\nBODY: y.\n\nCTA: z."
	_, err := h.UpdateScript(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, statusOf(t, err))
}

func TestVideoHandler_UpdateScene(t *testing.T) {
	h, llm := newTestHandler(t)
	ctx := context.Background()
	llm.ScriptResponse = handlerTestScript
	llm.StoryboardResponse = `[
		{"index": 0, "title": "Open", "description": "A wide shot.", "image_prompt": "wide landscape", "duration_seconds": 4},
		{"index": 1, "title": "Close", "description": "A detail.", "image_prompt": "macro detail", "duration_seconds": 5},
		{"index": 2, "title": "Build", "description": "The middle.", "image_prompt": "city street", "duration_seconds": 5},
		{"index": 3, "title": "Turn", "description": "The twist.", "image_prompt": "storm clouds", "duration_seconds": 5},
		{"index": 4, "title": "End", "description": "The close.", "image_prompt": "sunset pier", "duration_seconds": 4}
	]`

	v := createVideo(t, h, "scenes")
	_, err := h.GenerateScript(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	_, err = h.ApproveScript(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	_, err = h.GenerateStoryboard(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)

	prompt := "macro detail, golden hour"
	edit := &UpdateSceneInput{ID: v.ID.String(), Index: 1}
	edit.Body.ImagePrompt = &prompt
	updated, err := h.UpdateScene(ctx, edit)
	require.NoError(t, err)
	assert.True(t, updated.Body.DirtyScenes.Contains(1))

	edit.Index = 9
	_, err = h.UpdateScene(ctx, edit)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestVideoHandler_Progress(t *testing.T) {
	h, llm := newTestHandler(t)
	ctx := context.Background()
	llm.ScriptResponse = handlerTestScript

	v := createVideo(t, h, "progress")
	resp, err := h.GetProgress(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, wizard.StageCreated, resp.Body.Stage)
	assert.Zero(t, resp.Body.Percent)

	_, err = h.GenerateScript(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	resp, err = h.GetProgress(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, wizard.StageScript, resp.Body.Stage)
	assert.Greater(t, resp.Body.Percent, 0)
}

func TestVideoHandler_Render_NotReady(t *testing.T) {
	h, _ := newTestHandler(t)

	v := createVideo(t, h, "not ready")
	_, err := h.Render(context.Background(), &RenderVideoInput{ID: v.ID.String()})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, statusOf(t, err))
}

func TestVideoHandler_Retry(t *testing.T) {
	h, llm := newTestHandler(t)
	ctx := context.Background()

	v := createVideo(t, h, "retry")

	// Nothing to retry from a healthy record.
	_, err := h.Retry(ctx, &VideoIDInput{ID: v.ID.String()})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, statusOf(t, err))

	// Fail the script stage, then retry succeeds.
	llm.ScriptResults = []llmmock.Result{{Text: ""}}
	_, err = h.GenerateScript(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err) // accepted; failure lands in the record
	got, err := h.GetByID(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	require.Equal(t, models.StatusScriptFailed, got.Body.Status)

	llm.ScriptResponse = handlerTestScript
	_, err = h.Retry(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	got, err = h.GetByID(ctx, &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, models.StatusScriptGenerated, got.Body.Status)
}

func TestVideoHandler_CancelRender_Idle(t *testing.T) {
	h, _ := newTestHandler(t)

	v := createVideo(t, h, "nothing running")
	resp, err := h.CancelRender(context.Background(), &VideoIDInput{ID: v.ID.String()})
	require.NoError(t, err)
	assert.Contains(t, resp.Body.Message, "cancelled")
}
