package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reelgen/reelgen/internal/ffmpeg"
	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/provider"
	imageprov "github.com/reelgen/reelgen/internal/provider/image"
	imagemock "github.com/reelgen/reelgen/internal/provider/image/mock"
	llmmock "github.com/reelgen/reelgen/internal/provider/llm/mock"
	ttsmock "github.com/reelgen/reelgen/internal/provider/tts/mock"
	"github.com/reelgen/reelgen/internal/repository"
	"github.com/reelgen/reelgen/internal/runner"
)

const testScriptRaw = "HOOK: Did you know parts of the ocean glow at night?\n\n" +
	"BODY: Tiny plankton called dinoflagellates emit light when the water around them moves.\n\n" +
	"CTA: Follow for more ocean science."

// fakeStore is an in-memory ObjectStore keyed by public URL.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   []string
	uploadErr error
	availErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Upload(_ context.Context, bucket, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return s.uploadErr
	}
	url := s.PublicURL(bucket, key)
	s.objects[url] = append([]byte(nil), data...)
	s.uploads = append(s.uploads, url)
	return nil
}

func (s *fakeStore) PublicURL(bucket, key string) string {
	return "https://store.test/" + bucket + "/" + key
}

func (s *fakeStore) WaitForAvailability(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availErr
}

func (s *fakeStore) Download(_ context.Context, rawURL string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[rawURL]
	if !ok {
		return nil, provider.Newf(provider.KindNotFound, "fakestore.download", "no object at %s", rawURL)
	}
	return data, nil
}

func (s *fakeStore) has(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[url]
	return ok
}

// fakeRenderer records render specs and writes a non-empty output file.
// The first failures calls return err before succeeding.
type fakeRenderer struct {
	mu       sync.Mutex
	specs    []ffmpeg.RenderSpec
	failures int
	err      error
}

func (r *fakeRenderer) Render(_ context.Context, spec ffmpeg.RenderSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	if len(r.specs) <= r.failures {
		if r.err != nil {
			return r.err
		}
		return provider.TranscoderFailed("fake.render", errors.New("boom"))
	}
	return os.WriteFile(spec.OutputPath, []byte("mp4-bytes"), 0o640)
}

func (r *fakeRenderer) calls() []ffmpeg.RenderSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ffmpeg.RenderSpec(nil), r.specs...)
}

// fakeProber returns a fixed duration.
type fakeProber struct {
	duration float64
	err      error
}

func (p *fakeProber) Duration(_ context.Context, _ string) (float64, error) {
	return p.duration, p.err
}

type testEnv struct {
	engine   *Engine
	repo     repository.VideoRepository
	llm      *llmmock.Client
	image    *imagemock.Client
	tts      *ttsmock.Client
	store    *fakeStore
	renderer *fakeRenderer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Video{}))

	env := &testEnv{
		repo:     repository.NewVideoRepository(db),
		llm:      &llmmock.Client{},
		image:    &imagemock.Client{GenerateResponse: imageprov.Placeholder(0, "fixture")},
		tts:      &ttsmock.Client{Response: []byte("mp3-bytes")},
		store:    newFakeStore(),
		renderer: &fakeRenderer{},
	}
	env.engine = New(env.repo, Deps{
		LLM:      env.llm,
		Image:    env.image,
		TTS:      env.tts,
		Store:    env.store,
		Renderer: env.renderer,
		Prober:   &fakeProber{duration: 21.5},
	}, Config{
		Retry:   runner.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 2},
		WorkDir: t.TempDir(),
	})
	return env
}

func (env *testEnv) createVideo(t *testing.T) *models.Video {
	t.Helper()
	v := &models.Video{Topic: "why parts of the ocean glow", Genre: "educational"}
	require.NoError(t, env.repo.Create(context.Background(), v))
	return v
}

func testScenes(n int) models.SceneList {
	scenes := make(models.SceneList, n)
	for i := range scenes {
		scenes[i] = models.Scene{
			Index:       i,
			Title:       fmt.Sprintf("Scene %d", i+1),
			Description: fmt.Sprintf("Beat %d of the story.", i+1),
			ImagePrompt: fmt.Sprintf("glowing plankton, shot %d", i+1),
			Duration:    5,
		}
	}
	return scenes
}

// seedStoryboard advances a fresh record to storyboard_generated.
func (env *testEnv) seedStoryboard(t *testing.T, sceneCount int) *models.Video {
	t.Helper()
	ctx := context.Background()
	v := env.createVideo(t)
	v.MarkScriptGenerating()
	v.MarkScriptGenerated(testScriptRaw, strings.ReplaceAll(testScriptRaw, "HOOK: ", ""))
	v.ScriptPlain = "Did you know parts of the ocean glow at night? " +
		"Tiny plankton called dinoflagellates emit light when the water around them moves. " +
		"Follow for more ocean science."
	v.MarkScriptApproved()
	v.MarkStoryboardGenerated(testScenes(sceneCount))
	require.NoError(t, env.repo.Update(ctx, v))
	return v
}

// seedAssets additionally runs a full asset pass.
func (env *testEnv) seedAssets(t *testing.T, sceneCount int) *models.Video {
	t.Helper()
	v := env.seedStoryboard(t, sceneCount)
	require.NoError(t, env.engine.GenerateAssets(context.Background(), v.ID))
	v, err := env.repo.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusAssetsGenerated, v.Status)
	return v
}

func (env *testEnv) reload(t *testing.T, id models.ULID) *models.Video {
	t.Helper()
	v, err := env.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, v)
	return v
}

func TestGenerateScript_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.createVideo(t)
	env.llm.ScriptResponse = testScriptRaw

	require.NoError(t, env.engine.GenerateScript(ctx, v.ID))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusScriptGenerated, got.Status)
	assert.Contains(t, got.ScriptRaw, "HOOK:")
	assert.Contains(t, got.ScriptRaw, "CTA:")
	assert.NotContains(t, got.ScriptPlain, "HOOK:")
	assert.NotContains(t, got.ScriptPlain, "CTA:")
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.ScriptDoneAt)
	require.Len(t, env.llm.ScriptCalls, 1)
	assert.Equal(t, v.Topic, env.llm.ScriptCalls[0].Topic)
}

func TestGenerateScript_EmptyTopic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.createVideo(t)
	v.Topic = "   "
	require.NoError(t, env.repo.Update(ctx, v))

	err := env.engine.GenerateScript(ctx, v.ID)
	require.Error(t, err)

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusScriptFailed, got.Status)
	assert.Equal(t, "empty_input", got.ErrorMessage)
	assert.Empty(t, env.llm.ScriptCalls, "provider must not be called for empty input")
}

func TestGenerateScript_MissingSectionFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.createVideo(t)
	env.llm.ScriptResponse = "HOOK: an opener with no body or call to action"

	err := env.engine.GenerateScript(ctx, v.ID)
	require.Error(t, err)
	assert.Equal(t, provider.KindBadOutput, provider.KindOf(err))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusScriptFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestGenerateScript_InvalidStatusRejected(t *testing.T) {
	env := newTestEnv(t)
	v := env.seedAssets(t, 5)

	err := env.engine.GenerateScript(context.Background(), v.ID)
	require.Error(t, err)
	assert.Equal(t, provider.KindInvalidStatus, provider.KindOf(err))
}

func TestGenerateScript_NotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.GenerateScript(context.Background(), models.NewULID())
	require.Error(t, err)
	assert.Equal(t, provider.KindNotFound, provider.KindOf(err))
}

func TestUpdateScript_FlagsStoryboardForRegeneration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedStoryboard(t, 5)

	edited := "HOOK: A fresh opener.\n\nBODY: The ocean still glows, but now we say it differently.\n\nCTA: Subscribe."
	got, err := env.engine.UpdateScript(ctx, v.ID, edited, false)
	require.NoError(t, err)

	assert.Equal(t, models.StatusScriptGenerated, got.Status)
	assert.True(t, got.RequiresRegeneration, "existing storyboard must be flagged, not discarded")
	assert.Len(t, got.Scenes, 5)
	assert.Empty(t, got.AudioURL, "changed narration invalidates the voiceover")
}

func TestUpdateScript_RegenerateDiscardsDownstream(t *testing.T) {
	env := newTestEnv(t)
	v := env.seedStoryboard(t, 5)

	got, err := env.engine.UpdateScript(context.Background(), v.ID,
		"HOOK: New.\n\nBODY: New body.\n\nCTA: New cta.", true)
	require.NoError(t, err)
	assert.Empty(t, got.Scenes)
	assert.False(t, got.RequiresRegeneration)
}

func TestApproveScript(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.createVideo(t)
	env.llm.ScriptResponse = testScriptRaw
	require.NoError(t, env.engine.GenerateScript(ctx, v.ID))

	got, err := env.engine.ApproveScript(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScriptApproved, got.Status)

	// Approving twice is an invalid transition.
	_, err = env.engine.ApproveScript(ctx, v.ID)
	require.Error(t, err)
	assert.Equal(t, provider.KindInvalidStatus, provider.KindOf(err))
}

func storyboardJSON(n int) string {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b,
			`{"index":%d,"title":"Scene %d","description":"Beat %d.","image_prompt":"plankton shot %d","duration_seconds":5}`,
			i, i+1, i+1, i+1)
	}
	b.WriteString("]")
	return b.String()
}

func TestGenerateStoryboard_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.createVideo(t)
	env.llm.ScriptResponse = testScriptRaw
	require.NoError(t, env.engine.GenerateScript(ctx, v.ID))
	_, err := env.engine.ApproveScript(ctx, v.ID)
	require.NoError(t, err)

	// Models love fences and prose around the array; parsing tolerates both.
	env.llm.StoryboardResponse = "Here is the storyboard:\n```json\n" + storyboardJSON(6) + "\n```"
	require.NoError(t, env.engine.GenerateStoryboard(ctx, v.ID))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusStoryboardGenerated, got.Status)
	require.Len(t, got.Scenes, 6)
	assert.Equal(t, 1, got.StoryboardVersion)
	assert.Empty(t, got.DirtyScenes)
	for i, s := range got.Scenes {
		assert.Equal(t, i, s.Index)
		assert.NotEmpty(t, s.Description)
		assert.NotEmpty(t, s.ImagePrompt)
		assert.Positive(t, s.Duration)
	}
}

func TestGenerateStoryboard_EmptySceneListFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedStoryboard(t, 5)
	env.llm.StoryboardResponse = "[]"

	err := env.engine.GenerateStoryboard(ctx, v.ID)
	require.Error(t, err)
	assert.Equal(t, provider.KindBadOutput, provider.KindOf(err))
	assert.Equal(t, models.StatusStoryboardFailed, env.reload(t, v.ID).Status)
}

func TestGenerateStoryboard_SceneCountOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, n := range []int{2, 9} {
		v := env.seedStoryboard(t, 5)
		env.llm.StoryboardResponse = storyboardJSON(n)

		err := env.engine.GenerateStoryboard(ctx, v.ID)
		require.Error(t, err, "%d scenes", n)
		assert.Equal(t, provider.KindBadOutput, provider.KindOf(err))
		assert.Equal(t, models.StatusStoryboardFailed, env.reload(t, v.ID).Status)
	}
}

func TestGenerateStoryboard_RegenerateBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedStoryboard(t, 5)

	// Stale slots from an earlier asset run must not survive a regenerate.
	v.ImageURLs = models.StringList{"videos/x/scene-1.jpg", "", "", "", ""}
	require.NoError(t, env.repo.Update(ctx, v))

	env.llm.StoryboardResponse = storyboardJSON(7)
	require.NoError(t, env.engine.GenerateStoryboard(ctx, v.ID))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusStoryboardGenerated, got.Status)
	assert.Equal(t, 2, got.StoryboardVersion)
	assert.Len(t, got.Scenes, 7)
	assert.Empty(t, got.ImageURLs, "regeneration resets image slots")
}

func TestGenerateStoryboard_NotAllowedAfterAssets(t *testing.T) {
	env := newTestEnv(t)
	v := env.seedAssets(t, 5)

	env.llm.StoryboardResponse = storyboardJSON(6)
	err := env.engine.GenerateStoryboard(context.Background(), v.ID)
	require.Error(t, err)
	assert.Equal(t, provider.KindInvalidStatus, provider.KindOf(err))
	assert.Equal(t, models.StatusAssetsGenerated, env.reload(t, v.ID).Status)
}

func TestUpdateScene_PromptEditMarksDirty(t *testing.T) {
	env := newTestEnv(t)
	v := env.seedAssets(t, 5)

	prompt := "a calmer shot of the shoreline"
	got, err := env.engine.UpdateScene(context.Background(), v.ID, 3, ScenePatch{ImagePrompt: &prompt})
	require.NoError(t, err)

	assert.True(t, got.DirtyScenes.Contains(3))
	assert.Empty(t, got.ImageURLs[3], "edited scene's slot is emptied")
	assert.NotEmpty(t, got.ImageURLs[2], "other scenes keep their images")
	assert.Equal(t, prompt, got.Scenes[3].ImagePrompt)
}

func TestUpdateScene_BadIndex(t *testing.T) {
	env := newTestEnv(t)
	v := env.seedStoryboard(t, 5)

	prompt := "anything"
	_, err := env.engine.UpdateScene(context.Background(), v.ID, 9, ScenePatch{ImagePrompt: &prompt})
	require.Error(t, err)
	assert.Equal(t, provider.KindNotFound, provider.KindOf(err))
}

func TestGenerateAssets_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedStoryboard(t, 5)

	require.NoError(t, env.engine.GenerateAssets(ctx, v.ID))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusAssetsGenerated, got.Status)
	require.Len(t, got.ImageURLs, 5)
	for i, url := range got.ImageURLs {
		assert.Contains(t, url, fmt.Sprintf("scene-%d.jpg", i+1))
		assert.True(t, env.store.has(url))
	}
	assert.Equal(t, 100, got.ImageUploadProgress)
	assert.Contains(t, got.AudioURL, "audio.mp3")
	assert.Contains(t, got.CaptionsURL, "captions.srt")
	assert.InDelta(t, 21.5, got.AudioDuration, 0.01)
	assert.Empty(t, got.DirtyScenes)
	assert.Empty(t, got.ErrorMessage)

	srt, err := env.store.Download(ctx, got.CaptionsURL)
	require.NoError(t, err)
	assert.Contains(t, string(srt), " --> ")
}

func TestGenerateAssets_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	v := env.createVideo(t)

	err := env.engine.GenerateAssets(context.Background(), v.ID)
	require.Error(t, err)
	assert.Equal(t, provider.KindInvalidStatus, provider.KindOf(err))
}

func TestGenerateAssets_CompleteRunIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	v := env.seedAssets(t, 4)
	before := len(env.image.GenerateCalls)

	require.NoError(t, env.engine.GenerateAssets(context.Background(), v.ID))
	assert.Len(t, env.image.GenerateCalls, before, "complete asset set must not regenerate")
	assert.Equal(t, models.StatusAssetsGenerated, env.reload(t, v.ID).Status)
}

func TestGenerateAssets_SoftenedPromptRecovers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedStoryboard(t, 3)

	// Scene 2's original prompt is rejected; the softened re-ask differs
	// (wholesome suffix) and succeeds on the primary model.
	good := imageprov.Placeholder(0, "fixture")
	env.image.GenerateFunc = func(_ context.Context, prompt string) ([]byte, error) {
		if strings.Contains(prompt, "shot 2") && !strings.Contains(prompt, "cinematic") {
			return nil, provider.ContentPolicy("test.image", errors.New("safety system rejected the prompt"))
		}
		return good, nil
	}

	require.NoError(t, env.engine.GenerateAssets(ctx, v.ID))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusAssetsGenerated, got.Status)
	assert.False(t, got.Scenes[1].PlaceholderUsed)
	assert.NotEmpty(t, got.ImageURLs[1])
	assert.Empty(t, env.image.FallbackCalls, "fallback model not needed when softening recovers")
}

func TestGenerateAssets_PlaceholderFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedStoryboard(t, 3)

	// Scene 3 fails on original, softened and fallback; the run degrades
	// that scene to a placeholder and stays render-ready.
	policyErr := provider.ContentPolicy("test.image", errors.New("safety system rejected the prompt"))
	good := imageprov.Placeholder(0, "fixture")
	env.image.GenerateFunc = func(_ context.Context, prompt string) ([]byte, error) {
		if strings.Contains(prompt, "shot 3") {
			return nil, policyErr
		}
		return good, nil
	}
	env.image.FallbackErr = policyErr

	require.NoError(t, env.engine.GenerateAssets(ctx, v.ID))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusAssetsGenerated, got.Status)
	assert.True(t, got.Scenes[2].PlaceholderUsed)
	assert.Equal(t, string(provider.KindContentPolicy), got.Scenes[2].Reason)
	assert.NotEmpty(t, got.ImageURLs[2], "placeholder still fills the slot")
	assert.Contains(t, got.ErrorMessage, "scenes 3")
}

func TestGenerateAssets_AllPlaceholdersFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedStoryboard(t, 3)

	policyErr := provider.ContentPolicy("test.image", errors.New("safety system rejected the prompt"))
	env.image.GenerateResponse = nil
	env.image.GenerateErr = policyErr
	env.image.FallbackErr = policyErr

	err := env.engine.GenerateAssets(ctx, v.ID)
	require.Error(t, err)
	assert.Equal(t, provider.KindContentPolicy, provider.KindOf(err))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusAssetsFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "edit prompts")
	for _, s := range got.Scenes {
		assert.True(t, s.PlaceholderUsed)
	}
}

func TestGenerateAssets_AudioFailureIsPartial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedStoryboard(t, 3)
	env.tts.Err = provider.Auth("test.tts", errors.New("invalid api key"))

	require.NoError(t, env.engine.GenerateAssets(ctx, v.ID))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusAssetsPartial, got.Status)
	assert.Contains(t, got.ErrorMessage, "voiceover failed")
	assert.Equal(t, 100, got.ImageUploadProgress, "images complete despite the audio failure")

	// Fixing the credential and re-running fills only the missing leg.
	env.tts.Err = nil
	calls := len(env.image.GenerateCalls)
	require.NoError(t, env.engine.GenerateAssets(ctx, v.ID))

	got = env.reload(t, v.ID)
	assert.Equal(t, models.StatusAssetsGenerated, got.Status)
	assert.NotEmpty(t, got.AudioURL)
	assert.Len(t, env.image.GenerateCalls, calls, "stored images are not regenerated")
}

func TestGenerateAssets_DirtySceneRecompute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedAssets(t, 5)

	prompt := "sunrise over a calm bay"
	_, err := env.engine.UpdateScene(ctx, v.ID, 3, ScenePatch{ImagePrompt: &prompt})
	require.NoError(t, err)

	env.image.GenerateCalls = nil
	require.NoError(t, env.engine.GenerateAssets(ctx, v.ID))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusAssetsGenerated, got.Status)
	assert.Empty(t, got.DirtyScenes)
	assert.NotEmpty(t, got.ImageURLs[3])
	require.Len(t, env.image.GenerateCalls, 1, "only the edited scene regenerates")
	assert.Contains(t, env.image.GenerateCalls[0], "sunrise over a calm bay")
}

func TestRender_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedAssets(t, 4)

	require.NoError(t, env.engine.Render(ctx, v.ID, false))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.RenderProgress)
	assert.Contains(t, got.VideoURL, "final.mp4")
	assert.True(t, env.store.has(got.VideoURL))
	assert.Empty(t, got.ErrorMessage)

	specs := env.renderer.calls()
	require.Len(t, specs, 1)
	assert.Len(t, specs[0].Scenes, 4)
	assert.NotEmpty(t, specs[0].SubtitlePath, "captions present means subtitles burn in")
	for _, sc := range specs[0].Scenes {
		assert.GreaterOrEqual(t, sc.Seconds, minSceneSeconds)
	}
}

func TestRender_CompletedWithoutForceIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedAssets(t, 3)
	require.NoError(t, env.engine.Render(ctx, v.ID, false))
	url := env.reload(t, v.ID).VideoURL

	require.NoError(t, env.engine.Render(ctx, v.ID, false))
	assert.Len(t, env.renderer.calls(), 1, "completed video must not re-render without force")
	assert.Equal(t, url, env.reload(t, v.ID).VideoURL)

	require.NoError(t, env.engine.Render(ctx, v.ID, true))
	assert.Len(t, env.renderer.calls(), 2)
}

func TestRender_SubtitleFailureRetriesWithout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedAssets(t, 3)
	env.renderer.failures = 1

	require.NoError(t, env.engine.Render(ctx, v.ID, false))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Contains(t, got.ErrorMessage, "without captions")

	specs := env.renderer.calls()
	require.Len(t, specs, 2)
	assert.NotEmpty(t, specs[0].SubtitlePath)
	assert.Empty(t, specs[1].SubtitlePath, "retry drops the subtitles filter only")
}

func TestRender_NoCaptionsSkipsSubtitles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedAssets(t, 3)
	v.CaptionsURL = ""
	require.NoError(t, env.repo.Update(ctx, v))

	require.NoError(t, env.engine.Render(ctx, v.ID, false))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage, "no degradation notice when captions never existed")
	specs := env.renderer.calls()
	require.Len(t, specs, 1)
	assert.Empty(t, specs[0].SubtitlePath)
}

func TestRender_TranscoderFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedAssets(t, 3)
	env.renderer.failures = 2 // main pass and the subtitle-less retry

	err := env.engine.Render(ctx, v.ID, false)
	require.Error(t, err)
	assert.Equal(t, provider.KindTranscoderFailed, provider.KindOf(err))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusRenderFailed, got.Status)
	assert.Equal(t, 0, got.RenderProgress)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.Empty(t, got.VideoURL)
	for _, url := range env.store.uploads {
		assert.NotContains(t, url, "final.mp4", "no partial final object is left behind")
	}
}

func TestRender_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	v := env.seedStoryboard(t, 3)

	err := env.engine.Render(context.Background(), v.ID, false)
	require.Error(t, err)
	assert.Equal(t, provider.KindInvalidStatus, provider.KindOf(err))
}

func TestCancelRender_StuckRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedAssets(t, 3)
	v.MarkRendering()
	require.NoError(t, env.repo.Update(ctx, v))

	// No render in flight in this process: the stuck record is parked.
	require.NoError(t, env.engine.CancelRender(ctx, v.ID))

	got := env.reload(t, v.ID)
	assert.Equal(t, models.StatusRenderFailed, got.Status)
	assert.Equal(t, "cancelled_by_user", got.ErrorMessage)
}

func TestCancelRender_IdleIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	v := env.seedAssets(t, 3)

	require.NoError(t, env.engine.CancelRender(context.Background(), v.ID))
	assert.Equal(t, models.StatusAssetsGenerated, env.reload(t, v.ID).Status)
}

func TestRenderTable_SingleFlight(t *testing.T) {
	table := newRenderTable()
	cancelled := false

	require.True(t, table.acquire("vid-1", func() { cancelled = true }))
	assert.False(t, table.acquire("vid-1", func() {}), "second acquire for the same video fails")
	require.True(t, table.acquire("vid-2", func() {}))

	assert.True(t, table.cancel("vid-1"))
	assert.True(t, cancelled)

	table.release("vid-1")
	assert.False(t, table.cancel("vid-1"), "released entry cannot be cancelled")
	assert.True(t, table.acquire("vid-1", func() {}))
}

func TestSceneSeconds(t *testing.T) {
	scenes := models.SceneList{
		{Duration: 5}, {Duration: 5}, {Duration: 10},
	}

	secs := sceneSeconds(scenes, 40)
	require.Len(t, secs, 3)
	assert.InDelta(t, 10, secs[0], 0.01)
	assert.InDelta(t, 10, secs[1], 0.01)
	assert.InDelta(t, 20, secs[2], 0.01)

	// A tiny narration floors every scene.
	secs = sceneSeconds(scenes, 1)
	for _, s := range secs {
		assert.GreaterOrEqual(t, s, minSceneSeconds)
	}

	// Missing storyboard durations fall back to equal weighting.
	secs = sceneSeconds(models.SceneList{{}, {}}, 8)
	assert.InDelta(t, 4, secs[0], 0.01)
	assert.InDelta(t, 4, secs[1], 0.01)
}
