package models

import (
	"gorm.io/gorm"
)

// VideoStatus represents the lifecycle state of a video record.
// Transitions between statuses are enforced by the wizard package; the
// model only stores the value and provides bookkeeping helpers.
type VideoStatus string

const (
	// StatusCreated indicates the record exists but no script has been requested.
	StatusCreated VideoStatus = "created"
	// StatusScriptGenerating indicates a script generation call is in flight.
	StatusScriptGenerating VideoStatus = "script_generating"
	// StatusScriptGenerated indicates a script is stored and awaiting review.
	StatusScriptGenerated VideoStatus = "script_generated"
	// StatusScriptFailed indicates script generation failed.
	StatusScriptFailed VideoStatus = "script_failed"
	// StatusScriptApproved indicates the script was accepted for storyboarding.
	StatusScriptApproved VideoStatus = "script_approved"
	// StatusStoryboardGenerating indicates a storyboard call is in flight.
	StatusStoryboardGenerating VideoStatus = "storyboard_generating"
	// StatusStoryboardGenerated indicates scenes are stored.
	StatusStoryboardGenerated VideoStatus = "storyboard_generated"
	// StatusStoryboardFailed indicates storyboard generation failed.
	StatusStoryboardFailed VideoStatus = "storyboard_failed"
	// StatusAssetsGenerating indicates image/audio/caption generation is in flight.
	StatusAssetsGenerating VideoStatus = "assets_generating"
	// StatusAssetsGenerated indicates every asset exists; the record is
	// render-ready. Placeholder images are allowed as long as at least one
	// scene carries a real image.
	StatusAssetsGenerated VideoStatus = "assets_generated"
	// StatusAssetsPartial indicates images are complete but audio or
	// captions are missing; the user can retrigger the asset run.
	StatusAssetsPartial VideoStatus = "assets_partial"
	// StatusAssetsFailed indicates the asset run could not produce a
	// renderable set (empty image slots or placeholders everywhere).
	StatusAssetsFailed VideoStatus = "assets_failed"
	// StatusRendering indicates a render is in flight.
	StatusRendering VideoStatus = "rendering"
	// StatusRenderFailed indicates the render failed.
	StatusRenderFailed VideoStatus = "render_failed"
	// StatusCompleted indicates the final video is uploaded and available.
	StatusCompleted VideoStatus = "completed"
)

// StatusRenderReady is the accepted alias for StatusAssetsGenerated.
// Reads accept both names; writes always store the canonical value.
const StatusRenderReady = StatusAssetsGenerated

// IsBusy returns true while a pipeline stage is in flight for this status.
func (s VideoStatus) IsBusy() bool {
	switch s {
	case StatusScriptGenerating, StatusStoryboardGenerating, StatusAssetsGenerating, StatusRendering:
		return true
	}
	return false
}

// IsFailure returns true for the failed statuses.
func (s VideoStatus) IsFailure() bool {
	switch s {
	case StatusScriptFailed, StatusStoryboardFailed, StatusAssetsFailed, StatusRenderFailed:
		return true
	}
	return false
}

// StalledFailure returns the failed status a stuck in-flight status decays
// to when its stage never reports back (process crash, lost worker).
func (s VideoStatus) StalledFailure() (VideoStatus, bool) {
	switch s {
	case StatusScriptGenerating:
		return StatusScriptFailed, true
	case StatusStoryboardGenerating:
		return StatusStoryboardFailed, true
	case StatusAssetsGenerating:
		return StatusAssetsFailed, true
	case StatusRendering:
		return StatusRenderFailed, true
	}
	return "", false
}

// Scene is one storyboard entry: a human-readable description paired with
// a provider-facing image prompt. Duration is the scene's display length
// in seconds. PlaceholderUsed and Reason record a fallback outcome when
// image generation for the scene failed irrecoverably.
type Scene struct {
	Index           int     `json:"index"`
	Title           string  `json:"title,omitempty"`
	Description     string  `json:"description"`
	ImagePrompt     string  `json:"image_prompt"`
	Duration        float64 `json:"duration_seconds,omitempty"`
	PlaceholderUsed bool    `json:"placeholder_used,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

// SceneList stores scenes as a JSON array in a text column.
type SceneList []Scene

// TotalDuration returns the sum of scene durations in seconds.
func (l SceneList) TotalDuration() float64 {
	var total float64
	for _, s := range l {
		total += s.Duration
	}
	return total
}

// IntSet stores a set of scene indices as a JSON array in a text column.
type IntSet []int

// Contains reports whether n is in the set.
func (s IntSet) Contains(n int) bool {
	for _, v := range s {
		if v == n {
			return true
		}
	}
	return false
}

// Add returns the set with n included.
func (s IntSet) Add(n int) IntSet {
	if s.Contains(n) {
		return s
	}
	return append(s, n)
}

// Remove returns the set with n excluded.
func (s IntSet) Remove(n int) IntSet {
	out := s[:0]
	for _, v := range s {
		if v != n {
			out = append(out, v)
		}
	}
	return out
}

// StringList stores a list of URLs as a JSON array in a text column.
type StringList []string

// maxErrorMessage bounds the stored failure summary.
const maxErrorMessage = 500

// FailureMessage renders err as a single-line summary bounded for storage.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for i := 0; i < len(msg); i++ {
		if msg[i] == '\n' || msg[i] == '\r' {
			msg = msg[:i]
			break
		}
	}
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	return msg
}

// Video is a short-form video generation job: one record tracks the whole
// pipeline from topic to rendered MP4. Asset URLs point into the object
// store; Scenes/ImageURLs are index-aligned.
type Video struct {
	BaseModel

	// Topic is the subject the script is generated from.
	Topic string `gorm:"not null;size:500" json:"topic"`

	// Genre steers tone and pacing ("educational", "horror", ...).
	Genre string `gorm:"size:100" json:"genre,omitempty"`

	// Status is the current lifecycle state.
	Status VideoStatus `gorm:"not null;default:'created';size:32;index" json:"status"`

	// ErrorMessage holds the last failure summary or a non-fatal banner
	// (for example, which scenes fell back to placeholder images). Cleared
	// when a stage starts.
	ErrorMessage string `gorm:"size:500" json:"error_message,omitempty"`

	// ScriptRaw is the full labeled script text (HOOK/BODY/CTA sections).
	ScriptRaw string `gorm:"type:text" json:"script_raw,omitempty"`

	// ScriptPlain is the narration-only projection of ScriptRaw. It feeds
	// TTS and captions and is persisted so edits and playback agree.
	ScriptPlain string `gorm:"type:text" json:"script_plain,omitempty"`

	// RequiresRegeneration flags that the script changed after a storyboard
	// was produced. The storyboard is kept; proceeding past the script step
	// regenerates it.
	RequiresRegeneration bool `gorm:"default:false" json:"requires_regeneration,omitempty"`

	// Scenes is the storyboard.
	Scenes SceneList `gorm:"type:text;serializer:json" json:"scenes,omitempty"`

	// StoryboardVersion counts storyboard writes: 1 on first generation,
	// incremented on regeneration and scene edits.
	StoryboardVersion int `gorm:"default:0" json:"storyboard_version"`

	// DirtyScenes lists scene indices whose prompt changed since their
	// image was generated. Dirty scenes are recomputed on the next asset
	// run; a scene that was never generated is tracked by its empty
	// ImageURLs slot instead.
	DirtyScenes IntSet `gorm:"type:text;serializer:json" json:"dirty_scenes,omitempty"`

	// ImageURLs holds one public URL per scene, index-aligned with Scenes.
	// An empty slot means the scene image has not been produced yet.
	ImageURLs StringList `gorm:"type:text;serializer:json" json:"image_urls,omitempty"`

	// ImageUploadProgress is the percentage of scenes with a stored image.
	ImageUploadProgress int `gorm:"default:0" json:"image_upload_progress"`

	// AudioURL is the public URL of the voiceover MP3.
	AudioURL string `gorm:"size:1024" json:"audio_url,omitempty"`

	// CaptionsURL is the public URL of the SRT captions.
	CaptionsURL string `gorm:"size:1024" json:"captions_url,omitempty"`

	// VideoURL is the public URL of the rendered MP4.
	VideoURL string `gorm:"size:1024" json:"video_url,omitempty"`

	// AudioDuration is the probed voiceover length in seconds.
	AudioDuration float64 `json:"audio_duration,omitempty"`

	// RenderProgress is the render checkpoint percentage.
	RenderProgress int `gorm:"default:0" json:"render_progress"`

	// RenderAttempts counts render starts, including re-renders.
	RenderAttempts int `gorm:"default:0" json:"render_attempts"`

	// Stage timestamps, set by the owning engine.
	ScriptStartedAt     *Time `json:"script_started_at,omitempty"`
	ScriptDoneAt        *Time `json:"script_done_at,omitempty"`
	StoryboardStartedAt *Time `json:"storyboard_started_at,omitempty"`
	StoryboardDoneAt    *Time `json:"storyboard_done_at,omitempty"`
	AssetsStartedAt     *Time `json:"assets_started_at,omitempty"`
	AssetsDoneAt        *Time `json:"assets_done_at,omitempty"`
	RenderStartedAt     *Time `json:"render_started_at,omitempty"`
	RenderDoneAt        *Time `json:"render_done_at,omitempty"`
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// Validate performs basic validation on the video.
func (v *Video) Validate() error {
	if v.Topic == "" {
		return ErrTopicRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the video and generates its ULID.
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if err := v.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if v.Status == "" {
		v.Status = StatusCreated
	}
	return v.Validate()
}

// BeforeUpdate is a GORM hook that validates the video before update.
func (v *Video) BeforeUpdate(tx *gorm.DB) error {
	return v.Validate()
}

// SceneCount returns the number of storyboard scenes.
func (v *Video) SceneCount() int {
	return len(v.Scenes)
}

// HasAllImages reports whether every scene has a stored image URL and no
// scene is marked dirty.
func (v *Video) HasAllImages() bool {
	if len(v.Scenes) == 0 || len(v.ImageURLs) < len(v.Scenes) {
		return false
	}
	for i := range v.Scenes {
		if v.ImageURLs[i] == "" {
			return false
		}
	}
	return len(v.DirtyScenes) == 0
}

// HasAllAssets reports whether images, audio and captions all exist.
func (v *Video) HasAllAssets() bool {
	return v.HasAllImages() && v.AudioURL != "" && v.CaptionsURL != ""
}

// RealImageCount returns the number of scenes whose stored image is not a
// placeholder.
func (v *Video) RealImageCount() int {
	count := 0
	for i, s := range v.Scenes {
		if s.PlaceholderUsed {
			continue
		}
		if i < len(v.ImageURLs) && v.ImageURLs[i] != "" {
			count++
		}
	}
	return count
}

// PlaceholderSceneNumbers returns the 1-based numbers of scenes that fell
// back to a placeholder image, for user-facing notices.
func (v *Video) PlaceholderSceneNumbers() []int {
	var nums []int
	for _, s := range v.Scenes {
		if s.PlaceholderUsed {
			nums = append(nums, s.Index+1)
		}
	}
	return nums
}

// CanRender reports whether a render may start from the current status.
func (v *Video) CanRender() bool {
	switch v.Status {
	case StatusAssetsGenerated, StatusAssetsPartial, StatusRenderFailed, StatusCompleted:
		return true
	}
	return false
}

// RecomputeImageProgress refreshes ImageUploadProgress from the image
// slot fill state.
func (v *Video) RecomputeImageProgress() {
	total := len(v.Scenes)
	if total == 0 {
		v.ImageUploadProgress = 0
		return
	}
	filled := 0
	for i := 0; i < total && i < len(v.ImageURLs); i++ {
		if v.ImageURLs[i] != "" {
			filled++
		}
	}
	v.ImageUploadProgress = filled * 100 / total
}

// SetImageURL stores url for the given scene index, growing the list as
// needed, clearing the scene's dirty marker and refreshing progress.
func (v *Video) SetImageURL(index int, url string) {
	for len(v.ImageURLs) <= index {
		v.ImageURLs = append(v.ImageURLs, "")
	}
	v.ImageURLs[index] = url
	v.DirtyScenes = v.DirtyScenes.Remove(index)
	v.RecomputeImageProgress()
}

// MarkSceneDirty flags a scene for recomputation on the next asset run
// and empties its image slot.
func (v *Video) MarkSceneDirty(index int) {
	v.DirtyScenes = v.DirtyScenes.Add(index)
	if index >= 0 && index < len(v.ImageURLs) {
		v.ImageURLs[index] = ""
	}
	v.RecomputeImageProgress()
}

// MarkScriptGenerating marks the start of script generation.
func (v *Video) MarkScriptGenerating() {
	now := Now()
	v.Status = StatusScriptGenerating
	v.ErrorMessage = ""
	v.ScriptStartedAt = &now
}

// MarkScriptGenerated stores the generated script.
func (v *Video) MarkScriptGenerated(raw, plain string) {
	now := Now()
	v.Status = StatusScriptGenerated
	v.ScriptRaw = raw
	v.ScriptPlain = plain
	v.ErrorMessage = ""
	v.ScriptDoneAt = &now
}

// MarkScriptEdited stores a manual script edit. An existing storyboard is
// kept and flagged for regeneration rather than discarded; the voiceover
// and captions are invalidated when the narration actually changed.
func (v *Video) MarkScriptEdited(raw, plain string) {
	now := Now()
	v.Status = StatusScriptGenerated
	v.ErrorMessage = ""
	v.ScriptDoneAt = &now
	if plain != v.ScriptPlain {
		v.AudioURL = ""
		v.CaptionsURL = ""
		v.AudioDuration = 0
	}
	v.ScriptRaw = raw
	v.ScriptPlain = plain
	if len(v.Scenes) > 0 {
		v.RequiresRegeneration = true
	}
}

// MarkScriptFailed records a script generation failure.
func (v *Video) MarkScriptFailed(err error) {
	v.Status = StatusScriptFailed
	v.ErrorMessage = FailureMessage(err)
}

// MarkScriptApproved accepts the script for storyboarding.
func (v *Video) MarkScriptApproved() {
	v.Status = StatusScriptApproved
	v.ErrorMessage = ""
}

// MarkStoryboardGenerating marks the start of storyboard generation.
func (v *Video) MarkStoryboardGenerating() {
	now := Now()
	v.Status = StatusStoryboardGenerating
	v.ErrorMessage = ""
	v.StoryboardStartedAt = &now
}

// MarkStoryboardGenerated stores the storyboard and resets asset slots.
// Empty image slots mark the work for the next asset run, so DirtyScenes
// starts empty.
func (v *Video) MarkStoryboardGenerated(scenes SceneList) {
	now := Now()
	v.Status = StatusStoryboardGenerated
	v.Scenes = scenes
	v.StoryboardVersion++
	v.RequiresRegeneration = false
	v.DirtyScenes = nil
	v.ImageURLs = nil
	v.ImageUploadProgress = 0
	v.ErrorMessage = ""
	v.StoryboardDoneAt = &now
}

// MarkStoryboardFailed records a storyboard generation failure.
func (v *Video) MarkStoryboardFailed(err error) {
	v.Status = StatusStoryboardFailed
	v.ErrorMessage = FailureMessage(err)
}

// MarkAssetsGenerating marks the start of an asset run and sizes the
// image slot list to the scene count.
func (v *Video) MarkAssetsGenerating() {
	now := Now()
	v.Status = StatusAssetsGenerating
	v.ErrorMessage = ""
	v.AssetsStartedAt = &now
	for len(v.ImageURLs) < len(v.Scenes) {
		v.ImageURLs = append(v.ImageURLs, "")
	}
}

// MarkAssetsGenerated marks a complete, render-ready asset set. A
// non-fatal banner (for example naming placeholdered scenes) may be
// carried in notice.
func (v *Video) MarkAssetsGenerated(notice string) {
	now := Now()
	v.Status = StatusAssetsGenerated
	v.ErrorMessage = clampMessage(notice)
	v.AssetsDoneAt = &now
}

// MarkAssetsPartial marks an asset set with images complete but audio or
// captions missing.
func (v *Video) MarkAssetsPartial(reason string) {
	now := Now()
	v.Status = StatusAssetsPartial
	v.ErrorMessage = clampMessage(reason)
	v.AssetsDoneAt = &now
}

// MarkAssetsFailed records an asset run failure.
func (v *Video) MarkAssetsFailed(err error) {
	v.Status = StatusAssetsFailed
	v.ErrorMessage = FailureMessage(err)
}

// MarkRendering marks the start of a render and counts the attempt.
func (v *Video) MarkRendering() {
	now := Now()
	v.Status = StatusRendering
	v.ErrorMessage = ""
	v.RenderProgress = 0
	v.RenderAttempts++
	v.RenderStartedAt = &now
}

// MarkRenderFailed records a render failure.
func (v *Video) MarkRenderFailed(err error) {
	v.Status = StatusRenderFailed
	v.ErrorMessage = FailureMessage(err)
	v.RenderProgress = 0
}

// MarkCompleted stores the final video URL. A non-fatal degradation
// notice (for example, subtitles skipped) may be carried in notice.
func (v *Video) MarkCompleted(url, notice string) {
	now := Now()
	v.Status = StatusCompleted
	v.VideoURL = url
	v.ErrorMessage = clampMessage(notice)
	v.RenderProgress = 100
	v.RenderDoneAt = &now
}

// clampMessage bounds a stored banner or reason string.
func clampMessage(s string) string {
	if len(s) > maxErrorMessage {
		return s[:maxErrorMessage]
	}
	return s
}
