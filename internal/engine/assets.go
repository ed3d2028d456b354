package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/reelgen/reelgen/internal/captions"
	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/provider"
	"github.com/reelgen/reelgen/internal/provider/image"
	"github.com/reelgen/reelgen/internal/runner"
	"github.com/reelgen/reelgen/internal/safety"
	"github.com/reelgen/reelgen/internal/storage"
	"github.com/reelgen/reelgen/internal/wizard"
)

// GenerateAssets produces the render inputs: one image per scene, the
// voiceover, and the SRT captions. The run is resumable; only empty
// image slots and prompt-edited scenes are regenerated, and stored audio
// and captions are kept. Individual image failures degrade to
// placeholders instead of aborting the run, so a single pass always
// drives the record to one of assets_generated, assets_partial or
// assets_failed.
func (e *Engine) GenerateAssets(ctx context.Context, id models.ULID) error {
	const op = "assets.generate"

	v, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if v.Status == models.StatusAssetsGenerated && v.HasAllAssets() {
		e.logger.InfoContext(ctx, "assets already complete", slog.String("video_id", v.ID.String()))
		return nil
	}
	// A crashed run leaves the record in assets_generating; resuming from
	// there skips the table, every other entry goes through it.
	if v.Status != models.StatusAssetsGenerating {
		if err := wizard.Check(v.Status, models.StatusAssetsGenerating); err != nil {
			return err
		}
	}
	if len(v.Scenes) == 0 {
		return provider.Newf(provider.KindInvalidStatus, op, "video %s has no storyboard", v.ID)
	}

	v.MarkAssetsGenerating()
	if err := e.persist(ctx, v); err != nil {
		return err
	}

	run := &assetRun{e: e, v: v}
	work := run.pendingScenes()

	e.logger.InfoContext(ctx, "generating assets",
		slog.String("video_id", v.ID.String()),
		slog.Int("scenes", len(v.Scenes)),
		slog.Int("pending", len(work)),
	)

	imageErrs := runner.BoundedParallel(ctx, e.cfg.ImageConcurrency, len(work), func(ctx context.Context, i int) error {
		return run.generateSceneImage(ctx, work[i])
	})

	audioErr := run.ensureAudio(ctx)
	captionsErr := run.ensureCaptions(ctx)

	return run.finish(ctx, imageErrs, audioErr, captionsErr)
}

// assetRun carries the shared state of one asset pass. Scene goroutines
// publish their results through patchScene, which serializes record
// writes under mu.
type assetRun struct {
	e *Engine

	mu       sync.Mutex
	v        *models.Video
	degraded []string
}

// pendingScenes lists the indices needing an image: empty slots, plus
// scenes whose prompt changed since their image was stored.
func (r *assetRun) pendingScenes() []int {
	var work []int
	for i := range r.v.Scenes {
		if r.v.ImageURLs[i] == "" || r.v.DirtyScenes.Contains(i) {
			work = append(work, i)
		}
	}
	return work
}

// generateSceneImage produces, stores and publishes one scene image.
// Provider failures degrade to a placeholder instead of failing the run;
// only storage failures and cancellation leave the slot empty for a
// later attempt.
func (r *assetRun) generateSceneImage(ctx context.Context, idx int) error {
	r.mu.Lock()
	scene := r.v.Scenes[idx]
	r.mu.Unlock()

	data, placeholder, reason, err := r.sceneImage(ctx, idx, scene)
	if err != nil {
		return err
	}

	if !placeholder {
		normalized, err := image.Normalize(data)
		if err != nil {
			r.e.logger.WarnContext(ctx, "scene image unusable, substituting placeholder",
				slog.String("video_id", r.v.ID.String()),
				slog.Int("scene", idx+1),
				slog.String("error", err.Error()),
			)
			data = image.Placeholder(idx, scene.Title)
			placeholder = true
			reason = string(provider.KindBadOutput)
		} else {
			data = normalized
		}
	}

	key := storage.ImageKey(r.v.ID.String(), idx)
	if err := r.e.deps.Store.Upload(ctx, r.e.cfg.Buckets.Images, key, data, "image/jpeg"); err != nil {
		return fmt.Errorf("uploading scene %d image: %w", idx+1, err)
	}
	url := r.e.deps.Store.PublicURL(r.e.cfg.Buckets.Images, key)
	if err := r.e.deps.Store.WaitForAvailability(ctx, url); err != nil {
		if provider.KindOf(err) != provider.KindObjectNotVisible {
			return fmt.Errorf("awaiting scene %d image: %w", idx+1, err)
		}
		r.noteDegraded(fmt.Sprintf("scene %d image not yet publicly visible", idx+1))
	}
	return r.patchScene(ctx, idx, url, placeholder, reason)
}

// sceneImage runs the provider chain for one scene: the sanitized
// primary call under the retry schedule, one softened re-ask after a
// content policy rejection, one fallback-model call, then the
// placeholder. A non-nil error means cancellation; every provider
// failure otherwise resolves to image bytes and a reason.
func (r *assetRun) sceneImage(ctx context.Context, idx int, scene models.Scene) ([]byte, bool, string, error) {
	op := fmt.Sprintf("assets.image.scene_%d", idx+1)
	vid := r.v.ID.String()

	data, err := r.callImage(ctx, op, true, safety.SanitizePrompt(scene.ImagePrompt), r.e.deps.Image.Generate)
	if err == nil {
		return data, false, "", nil
	}
	if ctx.Err() != nil {
		return nil, false, "", err
	}

	prompt := scene.ImagePrompt
	if safety.IsContentPolicyViolation(err) {
		if softened := safety.SoftenPrompt(prompt); softened != prompt {
			prompt = softened
			r.e.logger.InfoContext(ctx, "retrying scene image with softened prompt",
				slog.String("video_id", vid),
				slog.Int("scene", idx+1),
			)
			if data, serr := r.callImage(ctx, op, false, safety.SanitizePrompt(softened), r.e.deps.Image.Generate); serr == nil {
				return data, false, "", nil
			}
			if ctx.Err() != nil {
				return nil, false, "", err
			}
		}
	}

	r.e.logger.InfoContext(ctx, "trying fallback image model",
		slog.String("video_id", vid),
		slog.Int("scene", idx+1),
	)
	if data, ferr := r.callImage(ctx, op, false, safety.SanitizePrompt(prompt), r.e.deps.Image.GenerateFallback); ferr == nil {
		return data, false, "", nil
	}
	if ctx.Err() != nil {
		return nil, false, "", err
	}

	// Reason reflects the primary failure; the fallback failing too is
	// incidental.
	reason := string(provider.KindOf(err))
	r.e.logger.WarnContext(ctx, "scene image fell back to placeholder",
		slog.String("video_id", vid),
		slog.Int("scene", idx+1),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	return image.Placeholder(idx, scene.Title), true, reason, nil
}

// callImage runs one image generation under the per-attempt deadline,
// with the retry schedule when withRetry is set.
func (r *assetRun) callImage(ctx context.Context, op string, withRetry bool, prompt string, gen func(context.Context, string) ([]byte, error)) ([]byte, error) {
	var data []byte
	call := func(ctx context.Context) error {
		return runner.WithTimeout(ctx, r.e.cfg.ImageTimeout, op, func(ctx context.Context) error {
			var err error
			data, err = gen(ctx, prompt)
			return err
		})
	}

	var err error
	if withRetry {
		err = runner.Retry(ctx, r.e.logger, r.e.cfg.Retry, op, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// patchScene publishes one finished scene: the URL, placeholder flags
// and refreshed progress land in a single record write.
func (r *assetRun) patchScene(ctx context.Context, idx int, url string, placeholder bool, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	scene := &r.v.Scenes[idx]
	scene.PlaceholderUsed = placeholder
	scene.Reason = reason
	r.v.SetImageURL(idx, url)
	if err := r.e.repo.Update(ctx, r.v); err != nil {
		return fmt.Errorf("persisting scene %d image: %w", idx+1, err)
	}

	r.e.logger.InfoContext(ctx, "scene image stored",
		slog.String("video_id", r.v.ID.String()),
		slog.Int("scene", idx+1),
		slog.Bool("placeholder", placeholder),
		slog.Int("progress", r.v.ImageUploadProgress),
	)
	return nil
}

func (r *assetRun) noteDegraded(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = append(r.degraded, msg)
}

// ensureAudio synthesizes and stores the voiceover unless a previous run
// already produced it. The duration is probed before upload so caption
// timing survives a store round-trip failure; when the probe itself
// fails the uploaded audio is still kept and the run lands in
// assets_partial.
func (r *assetRun) ensureAudio(ctx context.Context) error {
	const op = "assets.audio"
	v := r.v

	if v.AudioURL != "" {
		return nil
	}
	text := strings.TrimSpace(v.ScriptPlain)
	if text == "" {
		return provider.Newf(provider.KindBadOutput, op, "narration is empty")
	}

	r.e.logger.InfoContext(ctx, "synthesizing voiceover", slog.String("video_id", v.ID.String()))

	var audio []byte
	err := runner.Retry(ctx, r.e.logger, r.e.cfg.Retry, op, func(ctx context.Context) error {
		return runner.WithTimeout(ctx, r.e.cfg.TTSTimeout, op, func(ctx context.Context) error {
			var callErr error
			audio, callErr = r.e.deps.TTS.Synthesize(ctx, text)
			return callErr
		})
	})
	if err != nil {
		return fmt.Errorf("synthesizing voiceover: %w", err)
	}
	if len(audio) == 0 {
		return provider.Newf(provider.KindBadOutput, op, "provider returned empty audio")
	}

	duration, probeErr := r.e.probeAudioBytes(ctx, audio)
	if probeErr == nil {
		v.AudioDuration = duration
	}

	key := storage.AudioKey(v.ID.String())
	if err := r.e.deps.Store.Upload(ctx, r.e.cfg.Buckets.Audio, key, audio, "audio/mpeg"); err != nil {
		return fmt.Errorf("uploading voiceover: %w", err)
	}
	url := r.e.deps.Store.PublicURL(r.e.cfg.Buckets.Audio, key)
	if err := r.e.deps.Store.WaitForAvailability(ctx, url); err != nil {
		if provider.KindOf(err) != provider.KindObjectNotVisible {
			return fmt.Errorf("awaiting voiceover: %w", err)
		}
		r.noteDegraded("voiceover not yet publicly visible")
	}
	v.AudioURL = url

	if probeErr != nil {
		return fmt.Errorf("probing voiceover duration: %w", probeErr)
	}
	return nil
}

// ensureCaptions builds and stores the SRT track. Timing comes from the
// probed voiceover duration; when a previous run stored audio without
// one, the stored file is probed again.
func (r *assetRun) ensureCaptions(ctx context.Context) error {
	const op = "assets.captions"
	v := r.v

	if v.CaptionsURL != "" {
		return nil
	}
	if v.AudioURL == "" {
		return provider.Newf(provider.KindBadOutput, op, "captions need a voiceover")
	}
	if v.AudioDuration <= 0 {
		audio, err := r.e.deps.Store.Download(ctx, v.AudioURL)
		if err != nil {
			return fmt.Errorf("fetching voiceover for captions: %w", err)
		}
		duration, err := r.e.probeAudioBytes(ctx, audio)
		if err != nil {
			return fmt.Errorf("probing voiceover duration: %w", err)
		}
		v.AudioDuration = duration
	}

	srt, err := captions.BuildSRT(v.ScriptPlain, v.AudioDuration)
	if err != nil {
		return fmt.Errorf("building captions: %w", err)
	}

	key := storage.CaptionsKey(v.ID.String())
	if err := r.e.deps.Store.Upload(ctx, r.e.cfg.Buckets.Captions, key, []byte(srt), "application/x-subrip"); err != nil {
		return fmt.Errorf("uploading captions: %w", err)
	}
	url := r.e.deps.Store.PublicURL(r.e.cfg.Buckets.Captions, key)
	if err := r.e.deps.Store.WaitForAvailability(ctx, url); err != nil {
		if provider.KindOf(err) != provider.KindObjectNotVisible {
			return fmt.Errorf("awaiting captions: %w", err)
		}
		r.noteDegraded("captions not yet publicly visible")
	}
	v.CaptionsURL = url

	r.e.logger.InfoContext(ctx, "captions stored",
		slog.String("video_id", v.ID.String()),
		slog.Float64("duration", v.AudioDuration),
	)
	return nil
}

// finish consumes the dirty markers, derives the terminal status and
// writes the record. The write runs detached from the stage context so a
// cancelled run still parks the record somewhere actionable.
func (r *assetRun) finish(ctx context.Context, imageErrs []error, audioErr, captionsErr error) error {
	const op = "assets.generate"
	v := r.v

	// Edits queued before or during this run were either regenerated or
	// failed above; empty slots alone mark the remaining work.
	v.DirtyScenes = nil

	var missing []int
	for i := range v.Scenes {
		if v.ImageURLs[i] == "" {
			missing = append(missing, i+1)
		}
	}

	var runErr error
	switch {
	case len(missing) > 0:
		cause := runner.FirstError(imageErrs)
		if cause == nil {
			cause = provider.Newf(provider.KindBadOutput, op, "scene images incomplete")
		}
		v.MarkAssetsFailed(fmt.Errorf("images failed for scenes %s (%s); retry or edit the prompts",
			joinSceneNumbers(missing), models.FailureMessage(cause)))
		runErr = fmt.Errorf("generating scene images: %w", cause)

	case v.RealImageCount() == 0:
		record := fmt.Errorf("every scene image was rejected; edit prompts for scenes %s and retry",
			joinSceneNumbers(v.PlaceholderSceneNumbers()))
		v.MarkAssetsFailed(record)
		runErr = provider.New(provider.KindContentPolicy, op, record)

	case audioErr != nil:
		v.MarkAssetsPartial("voiceover failed: " + models.FailureMessage(audioErr))

	case captionsErr != nil:
		v.MarkAssetsPartial("captions failed: " + models.FailureMessage(captionsErr))

	case len(r.degraded) > 0:
		v.MarkAssetsPartial(strings.Join(r.degraded, "; "))

	default:
		v.MarkAssetsGenerated(placeholderNotice(v))
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	if err := r.e.persist(wctx, v); err != nil {
		r.e.fail(ctx, v.ID, models.StatusAssetsFailed, err)
		return err
	}

	r.e.logger.InfoContext(ctx, "asset run finished",
		slog.String("video_id", v.ID.String()),
		slog.String("status", string(v.Status)),
		slog.Int("images", len(v.Scenes)-len(missing)),
		slog.Int("placeholders", len(v.PlaceholderSceneNumbers())),
		slog.Int("image_failures", runner.CountErrors(imageErrs)),
	)
	return runErr
}

// probeAudioBytes measures the duration of encoded audio by staging it
// in a temp file; the prober only reads paths.
func (e *Engine) probeAudioBytes(ctx context.Context, data []byte) (float64, error) {
	f, err := os.CreateTemp("", "reelgen-audio-*.mp3")
	if err != nil {
		return 0, fmt.Errorf("staging audio probe: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil {
			e.logger.Warn("removing audio probe file", slog.String("error", err.Error()))
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return 0, fmt.Errorf("staging audio probe: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("staging audio probe: %w", err)
	}
	return e.deps.Prober.Duration(ctx, path)
}

// placeholderNotice builds the banner for a complete asset set that
// substituted placeholder images.
func placeholderNotice(v *models.Video) string {
	nums := v.PlaceholderSceneNumbers()
	if len(nums) == 0 {
		return ""
	}
	return fmt.Sprintf("placeholder images used for scenes %s; edit the prompts and rerun asset generation",
		joinSceneNumbers(nums))
}

// joinSceneNumbers renders 1-based scene numbers as "2, 5, 7".
func joinSceneNumbers(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
