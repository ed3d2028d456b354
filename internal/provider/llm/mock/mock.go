// Package mock provides a test double for the llm.Client interface.
//
// Zero values for response fields cause methods to return empty strings
// and nil errors. Set the single-shot fields for the common case, or the
// queued Results slices when a test needs different answers per call
// (e.g. a corrective storyboard re-ask).
package mock

import (
	"context"
	"sync"

	"github.com/reelgen/reelgen/internal/provider/llm"
)

// Result is one scripted answer for a queued call.
type Result struct {
	Text string
	Err  error
}

// ScriptCall records a single invocation of GenerateScript.
type ScriptCall struct {
	Topic string
	Genre string
}

// StoryboardCall records a single invocation of GenerateStoryboard.
type StoryboardCall struct {
	Script string
}

// Client is a mock implementation of llm.Client.
type Client struct {
	mu sync.Mutex

	// ScriptResponse and ScriptErr are returned by GenerateScript when
	// ScriptResults is exhausted or empty.
	ScriptResponse string
	ScriptErr      error

	// ScriptResults, if non-empty, are consumed in order by GenerateScript.
	ScriptResults []Result

	// StoryboardResponse and StoryboardErr are returned by
	// GenerateStoryboard when StoryboardResults is exhausted or empty.
	StoryboardResponse string
	StoryboardErr      error

	// StoryboardResults, if non-empty, are consumed in order by
	// GenerateStoryboard.
	StoryboardResults []Result

	// ScriptCalls records every invocation of GenerateScript in order.
	ScriptCalls []ScriptCall

	// StoryboardCalls records every invocation of GenerateStoryboard in order.
	StoryboardCalls []StoryboardCall
}

// GenerateScript records the call and returns the next scripted answer.
func (c *Client) GenerateScript(_ context.Context, topic, genre string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ScriptCalls = append(c.ScriptCalls, ScriptCall{Topic: topic, Genre: genre})
	if len(c.ScriptResults) > 0 {
		r := c.ScriptResults[0]
		c.ScriptResults = c.ScriptResults[1:]
		return r.Text, r.Err
	}
	return c.ScriptResponse, c.ScriptErr
}

// GenerateStoryboard records the call and returns the next scripted answer.
func (c *Client) GenerateStoryboard(_ context.Context, script string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StoryboardCalls = append(c.StoryboardCalls, StoryboardCall{Script: script})
	if len(c.StoryboardResults) > 0 {
		r := c.StoryboardResults[0]
		c.StoryboardResults = c.StoryboardResults[1:]
		return r.Text, r.Err
	}
	return c.StoryboardResponse, c.StoryboardErr
}

// Reset clears all recorded calls and queued results.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ScriptCalls = nil
	c.StoryboardCalls = nil
	c.ScriptResults = nil
	c.StoryboardResults = nil
}

// Ensure Client implements llm.Client at compile time.
var _ llm.Client = (*Client)(nil)
