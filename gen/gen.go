// Package gen defines the capability interfaces for the external generation
// services and the closed set of backends that implement them. Backends are
// constructed once at startup and injected; nothing is resolved dynamically.
package gen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"script2video-pipeline/config"
	"script2video-pipeline/ratelimit"
)

// ErrRateLimited is returned by backends when the service answered with a
// 429-class response after backoff was exhausted.
var ErrRateLimited = errors.New("rate limited by generation service")

// Backend identifies one concrete service implementation.
type Backend string

const (
	BackendOpenAI Backend = "openai"
	BackendGemini Backend = "gemini"
	BackendVeo    Backend = "veo"
)

// TextGenerator produces a structured completion for a prompt pair. Callers
// parse the result against their expected schema; a violation is a fatal
// error for that call.
type TextGenerator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ImageGenerator produces an image from a prompt and reference images.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, referenceImagePaths []string, aspectRatio string) (*ImageArtifact, error)
}

// VideoGenerator produces a video clip from a prompt and up to two reference
// frames (first frame, or first and last frame).
type VideoGenerator interface {
	Generate(ctx context.Context, prompt string, referenceImagePaths []string) (*VideoArtifact, error)
}

// ImageArtifact is an opaque generated image.
type ImageArtifact struct {
	Data []byte
	Ext  string
}

// VideoArtifact is an opaque generated video clip.
type VideoArtifact struct {
	Data []byte
	Ext  string
}

// NewTextGenerator builds the configured text backend.
func NewTextGenerator(cfg config.ServiceConfig, limiter *ratelimit.RateLimiter, log zerolog.Logger) (TextGenerator, error) {
	switch Backend(cfg.Backend) {
	case BackendOpenAI:
		return newOpenAIText(cfg, limiter, log)
	case BackendGemini:
		return newGeminiText(cfg, limiter, log)
	default:
		return nil, fmt.Errorf("unknown text backend %q", cfg.Backend)
	}
}

// NewImageGenerator builds the configured image backend.
func NewImageGenerator(cfg config.ServiceConfig, limiter *ratelimit.RateLimiter, log zerolog.Logger) (ImageGenerator, error) {
	switch Backend(cfg.Backend) {
	case BackendGemini:
		return newGeminiImage(cfg, limiter, log)
	default:
		return nil, fmt.Errorf("unknown image backend %q", cfg.Backend)
	}
}

// NewVideoGenerator builds the configured video backend.
func NewVideoGenerator(cfg config.ServiceConfig, limiter *ratelimit.RateLimiter, log zerolog.Logger) (VideoGenerator, error) {
	switch Backend(cfg.Backend) {
	case BackendVeo:
		return newVeoVideo(cfg, limiter, log)
	default:
		return nil, fmt.Errorf("unknown video backend %q", cfg.Backend)
	}
}

const backoffAttempts = 3

// overridable in tests
var backoffBase = 5 * time.Second

// withBackoff runs fn, retrying with exponential backoff (5s, 10s, 20s) when
// it reports a rate-limit response. Any other failure propagates immediately.
func withBackoff(ctx context.Context, log zerolog.Logger, fn func() error) error {
	var err error
	for attempt := 0; attempt < backoffAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrRateLimited) {
			return err
		}
		if attempt == backoffAttempts-1 {
			break
		}
		wait := backoffBase * (1 << attempt)
		log.Warn().Dur("wait", wait).Int("attempt", attempt+1).Msg("rate limit hit (429), backing off")
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return err
}
