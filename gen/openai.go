package gen

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"script2video-pipeline/config"
	"script2video-pipeline/ratelimit"
)

type openAIText struct {
	client  *openai.Client
	model   string
	limiter *ratelimit.RateLimiter
	log     zerolog.Logger
}

func newOpenAIText(cfg config.ServiceConfig, limiter *ratelimit.RateLimiter, log zerolog.Logger) (*openAIText, error) {
	key, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}
	return &openAIText{
		client:  openai.NewClient(key),
		model:   cfg.Model,
		limiter: limiter,
		log:     log.With().Str("backend", "openai").Logger(),
	}, nil
}

func (g *openAIText) Complete(ctx context.Context, system, user string) (string, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	var content string
	err := withBackoff(ctx, g.log, func() error {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
				return fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return fmt.Errorf("openai completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("openai returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}
