// Package image defines the image generation client used for scene
// stills, plus the normalization and placeholder helpers shared by all
// implementations. Implementations live in subpackages (openai, mock).
package image

import "context"

// Client generates one still image per call.
//
// Generate uses the primary model; GenerateFallback uses the cheaper
// fallback model and is only called after the primary chain failed.
// Both return raw encoded bytes as produced by the provider; callers
// pass them through Normalize before storage.
type Client interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
	GenerateFallback(ctx context.Context, prompt string) ([]byte, error)
}
