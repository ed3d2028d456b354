package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/reelgen/reelgen/internal/captions"
	"github.com/reelgen/reelgen/internal/ffmpeg"
	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/provider"
	"github.com/reelgen/reelgen/internal/storage"
	"github.com/reelgen/reelgen/internal/wizard"
)

// minSceneSeconds floors a scene's on-screen time after the voiceover
// duration is distributed across scenes.
const minSceneSeconds = 1.5

// outputName is the transcoder target inside the workspace.
const outputName = "final_video.mp4"

// renderTable tracks in-flight renders per video. It is advisory and
// per-process; the stored status stays the source of truth, so a stale
// entry after a crash never blocks a fresh process.
type renderTable struct {
	mu      sync.Mutex
	entries map[string]*renderEntry
}

type renderEntry struct {
	startedAt time.Time
	cancel    context.CancelFunc
}

func newRenderTable() *renderTable {
	return &renderTable{entries: make(map[string]*renderEntry)}
}

// acquire registers a render for id. It fails when one is already in
// flight in this process.
func (t *renderTable) acquire(id string, cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return false
	}
	t.entries[id] = &renderEntry{startedAt: time.Now(), cancel: cancel}
	return true
}

func (t *renderTable) release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// cancel aborts the in-flight render for id, reporting whether one was
// running in this process.
func (t *renderTable) cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if ok {
		entry.cancel()
	}
	return ok
}

// Render produces the final MP4 for a video: every scene image, the
// voiceover and the optional captions are pulled into a scratch
// workspace, the transcoder assembles them, and the result is uploaded
// and published on the record. A completed video returns immediately
// unless force is set.
func (e *Engine) Render(ctx context.Context, id models.ULID, force bool) error {
	const op = "render.run"

	v, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if v.Status == models.StatusCompleted && !force {
		e.logger.InfoContext(ctx, "video already rendered",
			slog.String("video_id", v.ID.String()),
			slog.String("url", v.VideoURL),
		)
		return nil
	}
	// A crashed render leaves the record in rendering; resuming from
	// there skips the table, every other entry goes through it.
	if v.Status != models.StatusRendering {
		if err := wizard.Check(v.Status, models.StatusRendering); err != nil {
			return err
		}
	}
	if !v.HasAllImages() {
		return provider.Newf(provider.KindInvalidStatus, op,
			"video %s is missing scene images", v.ID)
	}
	if v.AudioURL == "" {
		return provider.Newf(provider.KindInvalidStatus, op,
			"video %s has no voiceover", v.ID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !e.renders.acquire(v.ID.String(), cancel) {
		return provider.Newf(provider.KindInvalidStatus, op,
			"render already in progress for video %s", v.ID)
	}
	defer e.renders.release(v.ID.String())

	v.MarkRendering()
	if err := e.persist(ctx, v); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "rendering video",
		slog.String("video_id", v.ID.String()),
		slog.Int("scenes", len(v.Scenes)),
		slog.Int("attempt", v.RenderAttempts),
		slog.Bool("captions", v.CaptionsURL != ""),
	)

	url, notice, err := e.renderVideo(ctx, v)

	// The terminal write runs detached: a cancelled run still parks the
	// record, and MarkRenderFailed resets the progress counter, which the
	// narrow failure patch would leave behind.
	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer wcancel()

	if err != nil {
		cancelled := provider.KindOf(err) == provider.KindCancelled || errors.Is(err, context.Canceled)
		if cancelled {
			v.MarkRenderFailed(errors.New("cancelled_by_user"))
		} else {
			v.MarkRenderFailed(err)
		}
		if perr := e.persist(wctx, v); perr != nil {
			e.fail(ctx, v.ID, models.StatusRenderFailed, err)
		}
		if cancelled {
			return provider.Cancelled(op, err)
		}
		return fmt.Errorf("rendering video %s: %w", v.ID, err)
	}

	v.MarkCompleted(url, notice)
	if err := e.persist(wctx, v); err != nil {
		e.fail(ctx, v.ID, models.StatusRenderFailed, err)
		return err
	}

	e.logger.InfoContext(ctx, "render finished",
		slog.String("video_id", v.ID.String()),
		slog.String("url", url),
	)
	return nil
}

// CancelRender aborts an in-flight render for id. Without one in this
// process, a record stuck in rendering (say, after a crash) is parked in
// render_failed directly; any other state makes the cancel a no-op.
func (e *Engine) CancelRender(ctx context.Context, id models.ULID) error {
	if e.renders.cancel(id.String()) {
		e.logger.InfoContext(ctx, "render cancelled", slog.String("video_id", id.String()))
		return nil
	}

	v, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if v.Status != models.StatusRendering {
		return nil
	}
	v.MarkRenderFailed(errors.New("cancelled_by_user"))
	return e.persist(ctx, v)
}

// renderVideo runs the transcoder pass inside a scratch workspace and
// returns the published URL plus an optional degradation notice. The
// workspace is removed on every exit path.
func (e *Engine) renderVideo(ctx context.Context, v *models.Video) (string, string, error) {
	const op = "render.run"
	vid := v.ID.String()

	ws, err := storage.NewWorkspace(e.cfg.WorkDir, vid)
	if err != nil {
		return "", "", fmt.Errorf("creating render workspace: %w", err)
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			e.logger.Warn("cleaning render workspace",
				slog.String("video_id", vid),
				slog.String("error", err.Error()),
			)
		}
	}()
	e.setRenderProgress(ctx, v, 10)

	imagePaths, err := e.stageImages(ctx, v, ws)
	if err != nil {
		return "", "", err
	}
	e.setRenderProgress(ctx, v, 20)

	audioPath, err := e.stageAsset(ctx, ws, v.AudioURL, "audio.mp3")
	if err != nil {
		return "", "", fmt.Errorf("fetching voiceover: %w", err)
	}
	e.setRenderProgress(ctx, v, 30)

	subtitlePath, err := e.stageCaptions(ctx, v, ws)
	if err != nil {
		return "", "", err
	}
	e.setRenderProgress(ctx, v, 40)

	duration, err := e.deps.Prober.Duration(ctx, audioPath)
	if err != nil {
		return "", "", fmt.Errorf("probing voiceover: %w", err)
	}
	v.AudioDuration = duration
	e.setRenderProgress(ctx, v, 50)

	outputPath, err := ws.ResolvePath(outputName)
	if err != nil {
		return "", "", fmt.Errorf("resolving render output: %w", err)
	}

	spec := ffmpeg.RenderSpec{
		AudioPath:    audioPath,
		SubtitlePath: subtitlePath,
		OutputPath:   outputPath,
		Width:        e.cfg.Width,
		Height:       e.cfg.Height,
		FPS:          e.cfg.FPS,
	}
	seconds := sceneSeconds(v.Scenes, duration)
	for i, path := range imagePaths {
		spec.Scenes = append(spec.Scenes, ffmpeg.SceneInput{ImagePath: path, Seconds: seconds[i]})
	}

	var notice string
	if err := e.deps.Renderer.Render(ctx, spec); err != nil {
		if !spec.HasSubtitles() || ctx.Err() != nil {
			return "", "", err
		}
		// The subtitles filter is the fragile part of the graph (fontconfig,
		// path quoting); one retry without it trades captions for a video.
		e.logger.WarnContext(ctx, "render failed with subtitles, retrying without",
			slog.String("video_id", vid),
			slog.String("error", err.Error()),
		)
		if err := e.deps.Renderer.Render(ctx, spec.WithoutSubtitles()); err != nil {
			return "", "", err
		}
		notice = "subtitle burn-in failed; video rendered without captions"
	}
	e.setRenderProgress(ctx, v, 80)

	output, err := ws.ReadFile(outputName)
	if err != nil {
		return "", "", provider.TranscoderFailed(op, fmt.Errorf("reading render output: %w", err))
	}
	if len(output) == 0 {
		return "", "", provider.TranscoderFailed(op, errors.New("transcoder produced an empty file"))
	}

	key := storage.VideoKey(vid)
	if err := e.deps.Store.Upload(ctx, e.cfg.Buckets.Videos, key, output, "video/mp4"); err != nil {
		return "", "", fmt.Errorf("uploading final video: %w", err)
	}
	e.setRenderProgress(ctx, v, 90)

	url := e.deps.Store.PublicURL(e.cfg.Buckets.Videos, key)
	if err := e.deps.Store.WaitForAvailability(ctx, url); err != nil {
		return "", "", fmt.Errorf("awaiting final video: %w", err)
	}
	return url, notice, nil
}

// stageImages downloads every scene image into the workspace in scene
// order and returns their local paths.
func (e *Engine) stageImages(ctx context.Context, v *models.Video, ws *storage.Workspace) ([]string, error) {
	paths := make([]string, len(v.Scenes))
	for i := range v.Scenes {
		path, err := e.stageAsset(ctx, ws, v.ImageURLs[i], fmt.Sprintf("scene_%d.jpg", i+1))
		if err != nil {
			return nil, fmt.Errorf("fetching scene %d image: %w", i+1, err)
		}
		paths[i] = path
	}
	return paths, nil
}

// stageAsset downloads one stored object into the workspace, rejecting
// empty bodies, and returns the local path.
func (e *Engine) stageAsset(ctx context.Context, ws *storage.Workspace, url, name string) (string, error) {
	data, err := e.deps.Store.Download(ctx, url)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", provider.Newf(provider.KindObjectNotVisible, "render.stage", "%s is empty", name)
	}
	if err := ws.AtomicWrite(name, data); err != nil {
		return "", err
	}
	return ws.ResolvePath(name)
}

// stageCaptions downloads the subtitle track when one exists, converting
// WebVTT to SRT on the way. A missing track is not an error; the video
// simply renders without burned-in captions.
func (e *Engine) stageCaptions(ctx context.Context, v *models.Video, ws *storage.Workspace) (string, error) {
	if v.CaptionsURL == "" {
		return "", nil
	}
	data, err := e.deps.Store.Download(ctx, v.CaptionsURL)
	if err != nil {
		return "", fmt.Errorf("fetching captions: %w", err)
	}
	text := string(data)
	if strings.HasPrefix(strings.TrimSpace(text), "WEBVTT") {
		text = captions.FromVTT(text)
	}
	if err := ws.AtomicWrite("captions.srt", []byte(text)); err != nil {
		return "", fmt.Errorf("staging captions: %w", err)
	}
	return ws.ResolvePath("captions.srt")
}

// setRenderProgress records a render checkpoint. Progress writes are
// best-effort; losing one costs a poller a stale percentage, not the
// render.
func (e *Engine) setRenderProgress(ctx context.Context, v *models.Video, pct int) {
	v.RenderProgress = pct
	if err := e.repo.Update(ctx, v); err != nil {
		e.logger.WarnContext(ctx, "recording render progress",
			slog.String("video_id", v.ID.String()),
			slog.Int("progress", pct),
			slog.String("error", err.Error()),
		)
	}
}

// sceneSeconds distributes the voiceover duration across scenes in
// proportion to their storyboard durations, flooring each at
// minSceneSeconds. Stored durations steer pacing but the audio length
// wins overall; the -shortest output flag bounds any floored overshoot.
func sceneSeconds(scenes models.SceneList, total float64) []float64 {
	seconds := make([]float64, len(scenes))
	if len(scenes) == 0 {
		return seconds
	}

	weights := make([]float64, len(scenes))
	var sum float64
	for i, s := range scenes {
		w := s.Duration
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		sum += w
	}
	if total <= 0 {
		total = sum
	}

	for i := range scenes {
		sec := total * weights[i] / sum
		if sec < minSceneSeconds {
			sec = minSceneSeconds
		}
		seconds[i] = sec
	}
	return seconds
}
