// Package elevenlabs provides a tts.Client backed by the ElevenLabs
// text-to-speech REST API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reelgen/reelgen/internal/provider"
	"github.com/reelgen/reelgen/internal/provider/tts"
)

// DefaultVoiceID is Rachel, the stock ElevenLabs narration voice.
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// DefaultModel is the ElevenLabs model used when none is configured.
const DefaultModel = "eleven_multilingual_v2"

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultTimeout = 120 * time.Second

	maxErrorBody = 4096
)

// VoiceSettings mirrors the ElevenLabs voice_settings object.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Ensure Client implements the tts.Client interface.
var _ tts.Client = (*Client)(nil)

// Client implements tts.Client using the ElevenLabs REST API.
type Client struct {
	apiKey     string
	voiceID    string
	model      string
	baseURL    string
	settings   VoiceSettings
	httpClient *http.Client
}

// Option is a functional option for Client.
type Option func(*Client)

// WithBaseURL overrides the default ElevenLabs API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithVoiceSettings overrides the default stability/similarity settings.
func WithVoiceSettings(s VoiceSettings) Option {
	return func(c *Client) {
		c.settings = s
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New constructs a new ElevenLabs client. apiKey must be non-empty; an
// empty voiceID selects DefaultVoiceID.
func New(apiKey, voiceID string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}

	c := &Client{
		apiKey:     apiKey,
		voiceID:    voiceID,
		model:      DefaultModel,
		baseURL:    defaultBaseURL,
		settings:   VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// synthesizeRequest is the JSON payload for the text-to-speech endpoint.
type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// Synthesize implements tts.Client.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	const op = "tts.synthesize"

	if strings.TrimSpace(text) == "" {
		return nil, provider.BadOutput(op, errors.New("empty narration"))
	}

	payload, err := json.Marshal(synthesizeRequest{
		Text:          text,
		ModelID:       c.model,
		VoiceSettings: c.settings,
	})
	if err != nil {
		return nil, provider.BadOutput(op, fmt.Errorf("encoding request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, url.PathEscape(c.voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, provider.BadOutput(op, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(op, resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Transient(op, fmt.Errorf("reading audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, provider.BadOutput(op, errors.New("empty audio payload"))
	}
	return audio, nil
}

func classifyStatus(op string, status int, body string) error {
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		m := strings.ToLower(body)
		if strings.Contains(m, "content policy") || strings.Contains(m, "safety") {
			return provider.ContentPolicy(op, fmt.Errorf("status %d: %s", status, body))
		}
	}
	return provider.FromHTTPStatus(op, status, body)
}

func classifyTransport(op string, err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return provider.Timeout(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.Timeout(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return provider.Cancelled(op, err)
	}
	return provider.Transient(op, err)
}
