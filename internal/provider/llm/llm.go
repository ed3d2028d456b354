// Package llm defines the language-model client used for script and
// storyboard generation. Implementations live in subpackages (openai,
// mock) and classify their failures into the provider error taxonomy.
package llm

import "context"

// Client generates narration scripts and storyboard JSON.
//
// GenerateScript returns labeled HOOK/BODY/CTA text for the given topic
// and genre. GenerateStoryboard returns the raw model output for a JSON
// scene list; the storyboard engine owns parsing and validation, so
// implementations stay transport-only and never inspect the payload.
type Client interface {
	GenerateScript(ctx context.Context, topic, genre string) (string, error)
	GenerateStoryboard(ctx context.Context, script string) (string, error)
}
