// Package openai provides an llm.Client backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/reelgen/reelgen/internal/provider"
	"github.com/reelgen/reelgen/internal/provider/llm"
	"github.com/reelgen/reelgen/internal/safety"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o"

const (
	defaultTimeout = 90 * time.Second

	scriptTemperature     = 0.8
	storyboardTemperature = 0.4

	maxScriptTokens     = 1024
	maxStoryboardTokens = 2048
)

const scriptSystemPrompt = `You write narration scripts for short-form vertical videos (30-60 seconds, spoken aloud by a single narrator).

Respond with exactly three labeled sections, each on its own line:

HOOK: one attention-grabbing opening sentence
BODY: the main narration, two to four short sentences
CTA: one closing call to action

Keep each section under 200 characters. Use plain spoken language. Do not use markdown, emoji, hashtags, stage directions or camera notes.`

const storyboardSystemPrompt = `You design storyboards for short-form vertical videos. Given a narration script, respond with a JSON array of 5 to 8 scenes that visually tell its story in order.

Each scene is an object with these fields:
  "index": 0-based position
  "description": one sentence describing what the viewer sees
  "image_prompt": a detailed, self-contained prompt for an image generator (subject, setting, mood, lighting)
  "duration_seconds": suggested on-screen time as a number

Respond with the JSON array only. No prose, no code fences.`

// Ensure Client implements the llm.Client interface.
var _ llm.Client = (*Client)(nil)

// Client implements llm.Client using the OpenAI API.
type Client struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the client.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI chat client.
// If model is empty, DefaultModel (gpt-4o) is used.
func New(apiKey, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai llm: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{timeout: defaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// The retry kernel owns retries; the SDK must not add its own.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{client: oai.NewClient(reqOpts...), model: model}, nil
}

// GenerateScript implements llm.Client.
func (c *Client) GenerateScript(ctx context.Context, topic, genre string) (string, error) {
	user := fmt.Sprintf("Topic: %s\nGenre: %s\n\nWrite the script now.", topic, genre)
	return c.complete(ctx, "llm.generate_script", scriptSystemPrompt, user,
		scriptTemperature, maxScriptTokens)
}

// GenerateStoryboard implements llm.Client.
func (c *Client) GenerateStoryboard(ctx context.Context, script string) (string, error) {
	return c.complete(ctx, "llm.generate_storyboard", storyboardSystemPrompt, script,
		storyboardTemperature, maxStoryboardTokens)
}

func (c *Client) complete(ctx context.Context, op, system, user string, temperature float64, maxTokens int64) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		Temperature:         param.NewOpt(temperature),
		MaxCompletionTokens: param.NewOpt(maxTokens),
	})
	if err != nil {
		return "", classify(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", provider.BadOutput(op, errors.New("no choices in response"))
	}
	content := safety.StripMeta(resp.Choices[0].Message.Content)
	if content == "" {
		return "", provider.BadOutput(op, errors.New("empty completion"))
	}
	return content, nil
}

// classify maps SDK and transport failures into the provider taxonomy.
func classify(op string, err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		msg := apierr.Message
		if msg == "" {
			msg = apierr.Error()
		}
		if apierr.StatusCode == http.StatusBadRequest && isPolicyRejection(apierr.Code, msg) {
			return provider.ContentPolicy(op, errors.New(msg))
		}
		return provider.FromHTTPStatus(op, apierr.StatusCode, msg)
	}
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

func isPolicyRejection(code, message string) bool {
	if strings.Contains(code, "content_policy") || code == "moderation_blocked" {
		return true
	}
	m := strings.ToLower(message)
	return strings.Contains(m, "content policy") || strings.Contains(m, "safety system")
}
