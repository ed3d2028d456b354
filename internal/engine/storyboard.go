package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/provider"
	"github.com/reelgen/reelgen/internal/runner"
	"github.com/reelgen/reelgen/internal/safety"
	"github.com/reelgen/reelgen/internal/wizard"
)

// defaultSceneSeconds fills in an on-screen duration the model omitted.
const defaultSceneSeconds = 5.0

// Accepted storyboard size. Shorter boards don't carry a video, longer
// ones blow the runtime target.
const (
	minScenes = 5
	maxScenes = 8
)

// GenerateStoryboard turns the script into an ordered scene list. Model
// output is validated immediately and unparseable output fails the stage
// as bad_output; a fresh invocation is the retry path, not prompt
// mutation. Callable again from storyboard_generated to regenerate,
// which resets every image slot.
func (e *Engine) GenerateStoryboard(ctx context.Context, id models.ULID) error {
	const op = "storyboard.generate"

	v, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if err := wizard.Check(v.Status, models.StatusStoryboardGenerating); err != nil {
		return err
	}
	if strings.TrimSpace(v.ScriptRaw) == "" {
		return provider.Newf(provider.KindInvalidStatus, op, "video %s has no script", v.ID)
	}

	v.MarkStoryboardGenerating()
	if err := e.persist(ctx, v); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "generating storyboard", slog.String("video_id", v.ID.String()))

	var raw string
	err = runner.Retry(ctx, e.logger, e.cfg.Retry, op, func(ctx context.Context) error {
		return runner.WithTimeout(ctx, e.cfg.LLMTimeout, op, func(ctx context.Context) error {
			var callErr error
			raw, callErr = e.deps.LLM.GenerateStoryboard(ctx, v.ScriptRaw)
			return callErr
		})
	})
	if err != nil {
		e.fail(ctx, v.ID, models.StatusStoryboardFailed, err)
		return fmt.Errorf("generating storyboard: %w", err)
	}

	scenes, err := parseStoryboard(raw)
	if err != nil {
		err = provider.New(provider.KindBadOutput, op, err)
		e.fail(ctx, v.ID, models.StatusStoryboardFailed, err)
		return fmt.Errorf("parsing storyboard: %w", err)
	}

	v.MarkStoryboardGenerated(scenes)
	if err := e.persist(ctx, v); err != nil {
		e.fail(ctx, v.ID, models.StatusStoryboardFailed, err)
		return err
	}

	e.logger.InfoContext(ctx, "storyboard generated",
		slog.String("video_id", v.ID.String()),
		slog.Int("scenes", len(scenes)),
		slog.Int("version", v.StoryboardVersion),
	)
	return nil
}

// sceneDTO is the untyped shape accepted from the model.
type sceneDTO struct {
	Index       *int    `json:"index"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ImagePrompt string  `json:"image_prompt"`
	Duration    float64 `json:"duration_seconds"`
}

// parseStoryboard extracts and validates a scene list from raw model
// output. The model is asked for a bare JSON array, but code fences and
// prose preambles are common, so parsing works on the outermost array.
// Scenes are positional; provider-supplied indices carry no meaning
// beyond the order the array already has.
func parseStoryboard(raw string) (models.SceneList, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "["); i >= 0 {
		if j := strings.LastIndex(s, "]"); j > i {
			s = s[i : j+1]
		}
	}

	var dtos []sceneDTO
	if err := json.Unmarshal([]byte(s), &dtos); err != nil {
		return nil, fmt.Errorf("storyboard JSON: %w", err)
	}
	if len(dtos) == 0 {
		return nil, errors.New("storyboard has no scenes")
	}
	if len(dtos) < minScenes || len(dtos) > maxScenes {
		return nil, fmt.Errorf("storyboard has %d scenes, want %d-%d", len(dtos), minScenes, maxScenes)
	}

	scenes := make(models.SceneList, 0, len(dtos))
	for i, d := range dtos {
		desc := strings.TrimSpace(d.Description)
		prompt := safety.StripMeta(strings.TrimSpace(d.ImagePrompt))
		if desc == "" {
			return nil, fmt.Errorf("scene %d: missing description", i+1)
		}
		if prompt == "" {
			return nil, fmt.Errorf("scene %d: missing image_prompt", i+1)
		}
		if d.Duration < 0 {
			return nil, fmt.Errorf("scene %d: negative duration", i+1)
		}
		dur := d.Duration
		if dur == 0 {
			dur = defaultSceneSeconds
		}
		scenes = append(scenes, models.Scene{
			Index:       i,
			Title:       strings.TrimSpace(d.Title),
			Description: desc,
			ImagePrompt: prompt,
			Duration:    dur,
		})
	}
	return scenes, nil
}

// ScenePatch carries the editable fields of one scene; nil leaves a
// field untouched.
type ScenePatch struct {
	Title       *string
	Description *string
	ImagePrompt *string
	Duration    *float64
}

// UpdateScene edits one scene. A prompt change marks the scene dirty and
// empties its image slot so the next asset run regenerates just that
// image; status is untouched, an edit on a finished asset set simply
// reopens work for the orchestrator.
func (e *Engine) UpdateScene(ctx context.Context, id models.ULID, index int, patch ScenePatch) (*models.Video, error) {
	const op = "storyboard.update_scene"

	v, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wizard.CanEdit(v.Status, "scenes") {
		return nil, provider.Newf(provider.KindInvalidStatus, op,
			"scenes are not editable while %s", v.Status)
	}
	if index < 0 || index >= len(v.Scenes) {
		return nil, provider.Newf(provider.KindNotFound, op,
			"video %s has no scene %d", v.ID, index)
	}

	scene := &v.Scenes[index]
	if patch.Title != nil {
		scene.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		desc := strings.TrimSpace(*patch.Description)
		if desc == "" {
			return nil, provider.Newf(provider.KindBadOutput, op, "scene description is empty")
		}
		scene.Description = desc
	}
	if patch.Duration != nil {
		if *patch.Duration <= 0 {
			return nil, provider.Newf(provider.KindBadOutput, op, "scene duration must be positive")
		}
		scene.Duration = *patch.Duration
	}
	if patch.ImagePrompt != nil {
		prompt := safety.StripMeta(strings.TrimSpace(*patch.ImagePrompt))
		if prompt == "" {
			return nil, provider.Newf(provider.KindBadOutput, op, "scene image prompt is empty")
		}
		scene.ImagePrompt = prompt
		// The old image no longer matches its prompt.
		scene.PlaceholderUsed = false
		scene.Reason = ""
		v.MarkSceneDirty(index)
	}

	if err := e.persist(ctx, v); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "scene updated",
		slog.String("video_id", v.ID.String()),
		slog.Int("scene", index+1),
		slog.Bool("dirty", v.DirtyScenes.Contains(index)),
	)
	return v, nil
}
