// Package mock provides a test double for the image.Client interface.
//
// Simple tests set the single-shot response fields. Tests that need
// prompt-dependent behavior (e.g. failing one scene of a parallel batch)
// set GenerateFunc / FallbackFunc, which take precedence.
package mock

import (
	"context"
	"sync"

	"github.com/reelgen/reelgen/internal/provider/image"
)

// Client is a mock implementation of image.Client.
type Client struct {
	mu sync.Mutex

	// GenerateResponse and GenerateErr are returned by Generate when
	// GenerateFunc is nil.
	GenerateResponse []byte
	GenerateErr      error

	// FallbackResponse and FallbackErr are returned by GenerateFallback
	// when FallbackFunc is nil.
	FallbackResponse []byte
	FallbackErr      error

	// GenerateFunc, if set, handles Generate calls.
	GenerateFunc func(ctx context.Context, prompt string) ([]byte, error)

	// FallbackFunc, if set, handles GenerateFallback calls.
	FallbackFunc func(ctx context.Context, prompt string) ([]byte, error)

	// GenerateCalls records the prompt of every Generate call in order.
	GenerateCalls []string

	// FallbackCalls records the prompt of every GenerateFallback call in order.
	FallbackCalls []string
}

// Generate records the call and returns the scripted answer.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	c.mu.Lock()
	c.GenerateCalls = append(c.GenerateCalls, prompt)
	fn := c.GenerateFunc
	data, err := c.GenerateResponse, c.GenerateErr
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	return data, err
}

// GenerateFallback records the call and returns the scripted answer.
func (c *Client) GenerateFallback(ctx context.Context, prompt string) ([]byte, error) {
	c.mu.Lock()
	c.FallbackCalls = append(c.FallbackCalls, prompt)
	fn := c.FallbackFunc
	data, err := c.FallbackResponse, c.FallbackErr
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	return data, err
}

// Reset clears all recorded calls.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GenerateCalls = nil
	c.FallbackCalls = nil
}

// Ensure Client implements image.Client at compile time.
var _ image.Client = (*Client)(nil)
