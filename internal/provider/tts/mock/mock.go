// Package mock provides a test double for the tts.Client interface.
package mock

import (
	"context"
	"sync"

	"github.com/reelgen/reelgen/internal/provider/tts"
)

// Client is a mock implementation of tts.Client.
// Zero values cause Synthesize to return nil bytes and a nil error.
type Client struct {
	mu sync.Mutex

	// Response is the audio returned by Synthesize.
	Response []byte

	// Err, if non-nil, is returned instead of Response.
	Err error

	// Calls records the text of every Synthesize call in order.
	Calls []string
}

// Synthesize records the call and returns Response, Err.
func (c *Client) Synthesize(_ context.Context, text string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, text)
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Response, nil
}

// Reset clears all recorded calls.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

// Ensure Client implements tts.Client at compile time.
var _ tts.Client = (*Client)(nil)
