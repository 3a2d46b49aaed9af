package storyboard

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"script2video-pipeline/gen"
	"script2video-pipeline/store"
)

const (
	writeAttempts = 3
	writeTimeout  = 180 * time.Second
)

const screenwriterSystemPrompt = `You are a screenwriter. Turn the given idea into a complete, production-ready
script: scene headings, action lines and dialogue. Write the script directly, no preamble and no markdown fences.`

// Screenwriter turns an idea into a full script, in front of the main
// script-to-video run.
type Screenwriter struct {
	text gen.TextGenerator
	ws   *store.Workspace
	log  zerolog.Logger

	timeout time.Duration
}

func NewScreenwriter(text gen.TextGenerator, ws *store.Workspace, log zerolog.Logger) *Screenwriter {
	return &Screenwriter{text: text, ws: ws, log: log, timeout: writeTimeout}
}

// Write produces the script for an idea, memoized as script.txt.
func (s *Screenwriter) Write(ctx context.Context, idea, requirement string) (string, error) {
	path := s.ws.ScriptPath()
	if s.ws.Done(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		s.log.Info().Msg("loaded script from existing file")
		return string(data), nil
	}

	user := "Idea:\n" + idea
	if requirement != "" {
		user += "\n\nRequirements:\n" + requirement
	}

	var script string
	var lastErr error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		completion, err := s.text.Complete(attemptCtx, screenwriterSystemPrompt, user)
		cancel()
		if err == nil && strings.TrimSpace(completion) != "" {
			script = strings.TrimSpace(completion)
			break
		}
		if err == nil {
			err = fmt.Errorf("model returned an empty script")
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("script writing failed, retrying")
	}
	if script == "" {
		return "", fmt.Errorf("write script: after %d attempts: %w", writeAttempts, lastErr)
	}

	if err := s.ws.WriteArtifact(path, []byte(script)); err != nil {
		return "", err
	}
	s.log.Info().Msg("wrote script")
	return script, nil
}
