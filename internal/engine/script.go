package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/provider"
	"github.com/reelgen/reelgen/internal/runner"
	"github.com/reelgen/reelgen/internal/safety"
	"github.com/reelgen/reelgen/internal/script"
	"github.com/reelgen/reelgen/internal/wizard"
)

// GenerateScript produces the narration script for a video. The record
// moves through script_generating and lands in script_generated, or in
// script_failed with the cause recorded. Callable again from
// script_generated to regenerate.
func (e *Engine) GenerateScript(ctx context.Context, id models.ULID) error {
	const op = "script.generate"

	v, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if err := wizard.Check(v.Status, models.StatusScriptGenerating); err != nil {
		return err
	}
	if strings.TrimSpace(v.Topic) == "" {
		// Fails without ever entering script_generating.
		cause := errors.New("empty_input")
		v.MarkScriptFailed(cause)
		if perr := e.persist(ctx, v); perr != nil {
			return perr
		}
		return provider.New(provider.KindBadOutput, op, cause)
	}

	v.MarkScriptGenerating()
	if err := e.persist(ctx, v); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "generating script",
		slog.String("video_id", v.ID.String()),
		slog.String("topic", script.Preview(v.Topic)),
		slog.String("genre", v.Genre),
	)

	var raw string
	err = runner.Retry(ctx, e.logger, e.cfg.Retry, op, func(ctx context.Context) error {
		return runner.WithTimeout(ctx, e.cfg.LLMTimeout, op, func(ctx context.Context) error {
			var callErr error
			raw, callErr = e.deps.LLM.GenerateScript(ctx, v.Topic, v.Genre)
			return callErr
		})
	})
	if err != nil {
		e.fail(ctx, v.ID, models.StatusScriptFailed, err)
		return fmt.Errorf("generating script: %w", err)
	}

	parsed, err := parseGeneratedScript(raw)
	if err != nil {
		err = provider.New(provider.KindBadOutput, op, err)
		e.fail(ctx, v.ID, models.StatusScriptFailed, err)
		return fmt.Errorf("parsing script: %w", err)
	}

	v.MarkScriptGenerated(parsed.String(), parsed.Plain())
	if err := e.persist(ctx, v); err != nil {
		e.fail(ctx, v.ID, models.StatusScriptFailed, err)
		return err
	}

	e.logger.InfoContext(ctx, "script generated",
		slog.String("video_id", v.ID.String()),
		slog.String("preview", script.Preview(v.ScriptPlain)),
	)
	return nil
}

// parseGeneratedScript turns raw model output into a clamped script. All
// three sections must come back non-empty; a model answer missing one is
// schema-violating output, not a user problem.
func parseGeneratedScript(raw string) (script.Script, error) {
	parsed, err := script.Parse(safety.StripMeta(raw))
	if err != nil {
		return script.Script{}, err
	}
	if parsed.Hook == "" || parsed.Body == "" || parsed.CTA == "" {
		return script.Script{}, errors.New("script is missing a section")
	}
	return parsed.Clamp(), nil
}

// UpdateScript stores a manually edited script. An existing storyboard
// survives the edit flagged for regeneration; with regenerate set it is
// discarded along with every downstream asset. The voiceover and
// captions are invalidated whenever the narration actually changed.
func (e *Engine) UpdateScript(ctx context.Context, id models.ULID, text string, regenerate bool) (*models.Video, error) {
	const op = "script.update"

	v, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wizard.CanEdit(v.Status, "script") {
		return nil, provider.Newf(provider.KindInvalidStatus, op,
			"script is not editable while %s", v.Status)
	}

	// Unlike generated scripts, user text is not clamped and may leave
	// sections empty; the positional parser keeps whatever was written.
	parsed, err := script.Parse(safety.StripMeta(text))
	if err != nil {
		return nil, provider.Newf(provider.KindBadOutput, op, "script text is empty")
	}

	if regenerate {
		wizard.Reset(v, wizard.StageStoryboard)
	}
	v.MarkScriptEdited(parsed.String(), parsed.Plain())
	if err := e.persist(ctx, v); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "script updated",
		slog.String("video_id", v.ID.String()),
		slog.Bool("regenerate", regenerate),
		slog.Bool("requires_regeneration", v.RequiresRegeneration),
	)
	return v, nil
}

// ApproveScript accepts the script for storyboarding.
func (e *Engine) ApproveScript(ctx context.Context, id models.ULID) (*models.Video, error) {
	v, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := wizard.Check(v.Status, models.StatusScriptApproved); err != nil {
		return nil, err
	}

	v.MarkScriptApproved()
	if err := e.persist(ctx, v); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "script approved", slog.String("video_id", v.ID.String()))
	return v, nil
}
