package groq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	contractx "github.com/superbryn/callcore/agent/contract"
)

// Config holds the Groq connection settings. Groq exposes an OpenAI-compatible
// API, so the OpenAI SDK is pointed at its base URL.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.groq.com/openai/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"llama-3.3-70b-versatile"`
	MaxCompletionToken *int          `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"1024"`
	Temperature        float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
}

// Client is a thin single-prompt completion wrapper around the OpenAI SDK.
type Client struct {
	sdk   *openaisdk.Client
	model string
	conf  Config
}

var _ contractx.Completer = (*Client)(nil)

func MustNew(cfg Config) *Client {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func New(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("groq: missing API key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}

	sdk := openaisdk.NewClient(opts...)
	return &Client{
		sdk:   &sdk,
		model: strings.TrimSpace(cfg.Model),
		conf:  cfg,
	}, nil
}

// Complete runs a one-shot chat completion and returns the raw text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(prompt),
		},
		Temperature: openaisdk.Float(c.conf.Temperature),
	}
	if c.conf.MaxCompletionToken != nil {
		params.MaxCompletionTokens = openaisdk.Int(int64(*c.conf.MaxCompletionToken))
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: groq chat completion: %v", contractx.ErrUpstreamTimeout, err)
		}
		return "", fmt.Errorf("%w: groq chat completion: %v", contractx.ErrUpstreamFailure, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("groq: chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
