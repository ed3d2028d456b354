// Package wizard enforces the video lifecycle: the status transition
// table, the user-facing progress projection, and the edit rules that
// decide which fields may change in which states.
//
// Engines consult the table before mutating a record; an invalid
// requested transition is rejected without touching the record.
package wizard

import (
	"fmt"

	"github.com/reelgen/reelgen/internal/models"
	"github.com/reelgen/reelgen/internal/provider"
)

// Stage names a pipeline phase. The progress projection reports it and
// Reset clears artifacts from it downstream.
type Stage string

const (
	StageCreated    Stage = "created"
	StageScript     Stage = "script"
	StageStoryboard Stage = "storyboard"
	StageAssets     Stage = "assets"
	StageRender     Stage = "render"
	StageCompleted  Stage = "completed"
)

// transitions is the allowed-transition adjacency. Forward edges are the
// engines reporting stage outcomes; backward edges are retries, explicit
// regeneration, and script edits that reopen the script step.
var transitions = map[models.VideoStatus][]models.VideoStatus{
	models.StatusCreated: {
		models.StatusScriptGenerating,
	},
	models.StatusScriptGenerating: {
		models.StatusScriptGenerated,
		models.StatusScriptFailed,
	},
	models.StatusScriptGenerated: {
		models.StatusScriptApproved,
		models.StatusScriptGenerating, // regenerate
		models.StatusStoryboardGenerating,
	},
	models.StatusScriptFailed: {
		models.StatusScriptGenerating, // retry
		models.StatusScriptGenerated,  // manual script edit
	},
	models.StatusScriptApproved: {
		models.StatusStoryboardGenerating,
		models.StatusAssetsGenerating, // storyboard already on record
		models.StatusScriptGenerated,  // script edit reopens approval
	},
	models.StatusStoryboardGenerating: {
		models.StatusStoryboardGenerated,
		models.StatusStoryboardFailed,
	},
	models.StatusStoryboardGenerated: {
		models.StatusAssetsGenerating,
		models.StatusStoryboardGenerating, // regenerate
		models.StatusScriptGenerated,      // script edit; storyboard kept, flagged
	},
	models.StatusStoryboardFailed: {
		models.StatusStoryboardGenerating, // retry
		models.StatusScriptGenerated,      // script edit
	},
	models.StatusAssetsGenerating: {
		models.StatusAssetsGenerated,
		models.StatusAssetsPartial,
		models.StatusAssetsFailed,
	},
	models.StatusAssetsGenerated: {
		models.StatusRendering,
		models.StatusAssetsGenerating, // regenerate after scene edits
	},
	models.StatusAssetsPartial: {
		models.StatusAssetsGenerating, // re-run to fill the gaps
		models.StatusRendering,        // render what exists
	},
	models.StatusAssetsFailed: {
		models.StatusAssetsGenerating, // retry
	},
	models.StatusRendering: {
		models.StatusCompleted,
		models.StatusRenderFailed,
	},
	models.StatusRenderFailed: {
		models.StatusRendering, // retry
	},
	models.StatusCompleted: {
		models.StatusRendering, // re-render
	},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to models.VideoStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Check returns an invalid_status error when the transition is not
// allowed.
func Check(from, to models.VideoStatus) error {
	if !CanTransition(from, to) {
		return provider.InvalidStatus("wizard.transition",
			fmt.Errorf("cannot transition from %s to %s", from, to))
	}
	return nil
}

// Transitions returns a copy of the transition table.
func Transitions() map[models.VideoStatus][]models.VideoStatus {
	out := make(map[models.VideoStatus][]models.VideoStatus, len(transitions))
	for from, tos := range transitions {
		out[from] = append([]models.VideoStatus(nil), tos...)
	}
	return out
}

// StageOf maps a status onto its pipeline stage.
func StageOf(status models.VideoStatus) Stage {
	switch status {
	case models.StatusCreated:
		return StageCreated
	case models.StatusScriptGenerating, models.StatusScriptGenerated,
		models.StatusScriptFailed, models.StatusScriptApproved:
		return StageScript
	case models.StatusStoryboardGenerating, models.StatusStoryboardGenerated,
		models.StatusStoryboardFailed:
		return StageStoryboard
	case models.StatusAssetsGenerating, models.StatusAssetsGenerated,
		models.StatusAssetsPartial, models.StatusAssetsFailed:
		return StageAssets
	case models.StatusRendering, models.StatusRenderFailed:
		return StageRender
	case models.StatusCompleted:
		return StageCompleted
	}
	return StageCreated
}

// EditableFields returns which record fields a user may change in the
// given status. Busy statuses allow nothing.
func EditableFields(status models.VideoStatus) []string {
	switch status {
	case models.StatusCreated:
		return []string{"topic", "genre"}
	case models.StatusScriptGenerated, models.StatusScriptApproved,
		models.StatusScriptFailed, models.StatusStoryboardFailed:
		return []string{"script"}
	case models.StatusStoryboardGenerated:
		return []string{"script", "scenes"}
	case models.StatusAssetsGenerated, models.StatusAssetsPartial,
		models.StatusAssetsFailed:
		return []string{"scenes"}
	}
	return nil
}

// CanEdit reports whether a field may change in the given status.
func CanEdit(status models.VideoStatus, field string) bool {
	for _, f := range EditableFields(status) {
		if f == field {
			return true
		}
	}
	return false
}

// Reset clears the artifacts a stage produced, plus everything
// downstream, so the stage can run again. It never touches Status; the
// caller owns the transition.
func Reset(v *models.Video, from Stage) {
	switch from {
	case StageScript:
		v.ScriptRaw = ""
		v.ScriptPlain = ""
		v.RequiresRegeneration = false
		fallthrough
	case StageStoryboard:
		v.Scenes = nil
		v.DirtyScenes = nil
		fallthrough
	case StageAssets:
		v.ImageURLs = nil
		v.ImageUploadProgress = 0
		v.DirtyScenes = nil
		v.AudioURL = ""
		v.CaptionsURL = ""
		v.AudioDuration = 0
		fallthrough
	case StageRender:
		v.VideoURL = ""
		v.RenderProgress = 0
	}
}

// ProgressReport is the user-facing projection of a record. Pure: the
// same record always maps to the same report.
type ProgressReport struct {
	Stage    Stage  `json:"stage"`
	Percent  int    `json:"percent"`
	Detail   string `json:"detail,omitempty"`
	Terminal bool   `json:"terminal"`
	Error    string `json:"error,omitempty"`
}

// Status-band base percentages. In-flight stages advance inside their
// band from stored counters; a failed status reports its stage's base so
// a retry resumes monotonic within the stage.
const (
	pctCreated             = 0
	pctScriptGenerating    = 10
	pctScriptGenerated     = 20
	pctScriptApproved      = 25
	pctStoryboardRunning   = 30
	pctStoryboardGenerated = 40
	pctAssetsBase          = 45
	pctAssetsPartial       = 70
	pctAssetsGenerated     = 75
	pctRenderBase          = 75
	pctCompleted           = 100

	assetsBandWidth = pctAssetsPartial - pctAssetsBase
	renderBandWidth = 95 - pctRenderBase
)

// Progress projects a record onto its user-facing progress report.
func Progress(v *models.Video) ProgressReport {
	report := ProgressReport{
		Stage: StageOf(v.Status),
	}
	if v.Status.IsFailure() {
		report.Error = v.ErrorMessage
		report.Terminal = true
	}

	switch v.Status {
	case models.StatusCreated:
		report.Percent = pctCreated
		report.Detail = "awaiting script generation"
	case models.StatusScriptGenerating:
		report.Percent = pctScriptGenerating
		report.Detail = "writing script"
	case models.StatusScriptFailed:
		report.Percent = pctScriptGenerating
	case models.StatusScriptGenerated:
		report.Percent = pctScriptGenerated
		if v.RequiresRegeneration {
			report.Detail = "script edited; storyboard regeneration pending"
		} else {
			report.Detail = "awaiting approval"
		}
	case models.StatusScriptApproved:
		report.Percent = pctScriptApproved
		report.Detail = "script approved"
	case models.StatusStoryboardGenerating:
		report.Percent = pctStoryboardRunning
		report.Detail = "planning scenes"
	case models.StatusStoryboardFailed:
		report.Percent = pctStoryboardRunning
	case models.StatusStoryboardGenerated:
		report.Percent = pctStoryboardGenerated
		report.Detail = fmt.Sprintf("%d scenes planned", len(v.Scenes))
	case models.StatusAssetsGenerating:
		report.Percent = pctAssetsBase + v.ImageUploadProgress*assetsBandWidth/100
		report.Detail = fmt.Sprintf("%d/%d scene images ready", filledSlots(v), len(v.Scenes))
	case models.StatusAssetsFailed:
		report.Percent = pctAssetsBase
	case models.StatusAssetsPartial:
		report.Percent = pctAssetsPartial
		report.Detail = v.ErrorMessage
	case models.StatusAssetsGenerated:
		report.Percent = pctAssetsGenerated
		report.Detail = renderReadyDetail(v)
	case models.StatusRendering:
		report.Percent = pctRenderBase + v.RenderProgress*renderBandWidth/100
		report.Detail = fmt.Sprintf("render %d%%", v.RenderProgress)
	case models.StatusRenderFailed:
		report.Percent = pctRenderBase
	case models.StatusCompleted:
		report.Percent = pctCompleted
		report.Terminal = true
		report.Detail = v.ErrorMessage // degradation notice, if any
	}

	return report
}

func filledSlots(v *models.Video) int {
	filled := 0
	for _, url := range v.ImageURLs {
		if url != "" {
			filled++
		}
	}
	return filled
}

func renderReadyDetail(v *models.Video) string {
	if v.ErrorMessage != "" {
		// Non-fatal banner, e.g. placeholdered scenes.
		return v.ErrorMessage
	}
	return "render ready"
}
