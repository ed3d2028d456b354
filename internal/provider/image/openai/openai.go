// Package openai provides an image.Client backed by the OpenAI Images
// API: dall-e-3 in portrait as the primary model, dall-e-2 as the
// cheaper fallback.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/reelgen/reelgen/internal/provider"
	"github.com/reelgen/reelgen/internal/provider/image"
)

// Default models for the primary and fallback generation paths.
const (
	DefaultModel         = oai.ImageModelDallE3
	DefaultFallbackModel = oai.ImageModelDallE2
)

const (
	defaultTimeout = 60 * time.Second

	// dall-e-3 supports portrait output directly; dall-e-2 only squares.
	primarySize  = oai.ImageGenerateParamsSize1024x1792
	fallbackSize = oai.ImageGenerateParamsSize1024x1024
)

// Ensure Client implements the image.Client interface.
var _ image.Client = (*Client)(nil)

// Client implements image.Client using the OpenAI Images API.
type Client struct {
	client        oai.Client
	model         oai.ImageModel
	fallbackModel oai.ImageModel
}

// config holds optional configuration for the client.
type config struct {
	baseURL       string
	timeout       time.Duration
	model         string
	fallbackModel string
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

// WithModels overrides the primary and fallback model IDs.
func WithModels(primary, fallback string) Option {
	return func(c *config) {
		c.model = primary
		c.fallbackModel = fallback
	}
}

// New constructs a new OpenAI image client.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai image: apiKey must not be empty")
	}

	cfg := &config{timeout: defaultTimeout}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.model == "" {
		cfg.model = DefaultModel
	}
	if cfg.fallbackModel == "" {
		cfg.fallbackModel = DefaultFallbackModel
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

	return &Client{
		client:        oai.NewClient(reqOpts...),
		model:         oai.ImageModel(cfg.model),
		fallbackModel: oai.ImageModel(cfg.fallbackModel),
	}, nil
}

// Generate implements image.Client.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	return c.generate(ctx, "image.generate", c.model, primarySize, prompt)
}

// GenerateFallback implements image.Client.
func (c *Client) GenerateFallback(ctx context.Context, prompt string) ([]byte, error) {
	return c.generate(ctx, "image.generate_fallback", c.fallbackModel, fallbackSize, prompt)
}

func (c *Client) generate(ctx context.Context, op string, model oai.ImageModel, size oai.ImageGenerateParamsSize, prompt string) ([]byte, error) {
	resp, err := c.client.Images.Generate(ctx, oai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          model,
		N:              param.NewOpt(int64(1)),
		ResponseFormat: oai.ImageGenerateParamsResponseFormatB64JSON,
		Size:           size,
	})
	if err != nil {
		return nil, classify(op, err)
	}
	if len(resp.Data) == 0 {
		return nil, provider.BadOutput(op, errors.New("no images in response"))
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, provider.BadOutput(op, fmt.Errorf("decoding b64_json: %w", err))
	}
	if len(data) == 0 {
		return nil, provider.BadOutput(op, errors.New("empty image payload"))
	}
	return data, nil
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
