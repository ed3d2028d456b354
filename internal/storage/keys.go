package storage

import "fmt"

// Logical buckets the pipeline writes to. All are public-readable;
// EnsureBuckets creates them at service start.
const (
	BucketImages   = "renders-images"
	BucketAudio    = "renders-audio"
	BucketCaptions = "renders-captions"
	BucketVideos   = "renders-videos"
)

// Buckets returns every pipeline bucket.
func Buckets() []string {
	return []string{BucketImages, BucketAudio, BucketCaptions, BucketVideos}
}

// Object keys are stable: re-running a stage overwrites in place.
// sceneIndex is zero-based in code; key numbering is 1-based.

// ImageKey returns the object key for a scene image.
func ImageKey(videoID string, sceneIndex int) string {
	return fmt.Sprintf("videos/%s/images/scene-%d.jpg", videoID, sceneIndex+1)
}

// AudioKey returns the object key for the voiceover track.
func AudioKey(videoID string) string {
	return fmt.Sprintf("videos/%s/audio.mp3", videoID)
}

// CaptionsKey returns the object key for the subtitle file.
func CaptionsKey(videoID string) string {
	return fmt.Sprintf("videos/%s/captions.srt", videoID)
}

// VideoKey returns the object key for the rendered MP4.
func VideoKey(videoID string) string {
	return fmt.Sprintf("videos/%s/final.mp4", videoID)
}
