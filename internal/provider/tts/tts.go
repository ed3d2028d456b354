// Package tts defines the text-to-speech client used for voiceover
// synthesis. Implementations live in subpackages (elevenlabs, mock).
package tts

import "context"

// Client synthesizes spoken narration.
//
// Synthesize returns encoded MP3 bytes for the given plain narration
// text. Failures are classified into the provider error taxonomy.
type Client interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
