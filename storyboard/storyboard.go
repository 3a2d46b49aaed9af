// Package storyboard turns a script into shot briefs and expands each brief
// into a fully specified shot description.
package storyboard

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"script2video-pipeline/gen"
	"script2video-pipeline/store"
	"script2video-pipeline/types"
)

const (
	designAttempts   = 3
	designTimeout    = 150 * time.Second
	decomposeTimeout = 120 * time.Second
)

const designSystemPrompt = `You are a storyboard artist decomposing a script into an ordered list of shots.

Respond with ONLY valid JSON: an array of shot briefs, each:
{
  "idx": 0,
  "purpose": "what this shot accomplishes in the narrative",
  "visual_idea": "rough visual and camera idea"
}

idx must start at 0 and increase by 1 in narrative order.
Group consecutive shots that share a visual throughline so they can later be assigned to the same camera.`

const decomposeSystemPrompt = `You are a storyboard artist expanding one shot brief into a full shot specification.

Respond with ONLY valid JSON:
{
  "idx": <same idx as the brief>,
  "cam_idx": <camera track this shot belongs to, small integer, consecutive shots sharing a visual throughline share a cam_idx>,
  "visual_desc": "complete visual description of the shot",
  "motion_desc": "what moves and how during the shot",
  "audio_desc": "diegetic sound and dialogue",
  "ff_desc": "complete description of the first frame",
  "lf_desc": "complete description of the last frame",
  "ff_vis_char_idxs": [idxs of characters visible in the first frame],
  "lf_vis_char_idxs": [idxs of characters visible in the last frame],
  "variation_type": "small" | "medium" | "large"
}

variation_type is "small" when the composition barely changes over the shot
(a single first frame can drive video generation), "medium" or "large" when
the motion must be bounded by both a first and a last frame.`

// Artist designs storyboards and decomposes briefs via external-model calls.
type Artist struct {
	text gen.TextGenerator
	ws   *store.Workspace
	log  zerolog.Logger

	// overridable in tests
	designTimeout    time.Duration
	decomposeTimeout time.Duration
}

func NewArtist(text gen.TextGenerator, ws *store.Workspace, log zerolog.Logger) *Artist {
	return &Artist{
		text:             text,
		ws:               ws,
		log:              log,
		designTimeout:    designTimeout,
		decomposeTimeout: decomposeTimeout,
	}
}

// DesignStoryboard produces the ordered shot-brief list for a script. One
// external call with bounded retry and a per-attempt timeout; the result is
// persisted and reused verbatim on resume.
func (a *Artist) DesignStoryboard(ctx context.Context, script string, chars []types.Character, requirement string) ([]types.ShotBriefDescription, error) {
	path := a.ws.StoryboardPath()
	if a.ws.Done(path) {
		var briefs []types.ShotBriefDescription
		if err := a.ws.LoadJSON(path, &briefs); err != nil {
			return nil, err
		}
		a.log.Info().Int("shots", len(briefs)).Msg("loaded storyboard from existing file")
		return briefs, nil
	}

	var sb strings.Builder
	sb.WriteString("Script:\n")
	sb.WriteString(script)
	sb.WriteString("\n\nCharacters:\n")
	for _, c := range chars {
		sb.WriteString(fmt.Sprintf("- %d: %s (%s)\n", c.Idx, c.IdentifierInScene, c.Role))
	}
	if requirement != "" {
		sb.WriteString("\nAdditional requirements:\n")
		sb.WriteString(requirement)
	}

	var briefs []types.ShotBriefDescription
	err := a.completeJSON(ctx, designSystemPrompt, sb.String(), a.designTimeout, &briefs)
	if err != nil {
		return nil, fmt.Errorf("design storyboard: %w", err)
	}
	if len(briefs) == 0 {
		return nil, fmt.Errorf("design storyboard: model returned no shots")
	}
	if err := a.ws.SaveJSON(path, briefs); err != nil {
		return nil, err
	}
	a.log.Info().Int("shots", len(briefs)).Msg("designed storyboard")
	return briefs, nil
}

// Decompose expands every brief into a full shot description. Fully
// independent across briefs, so the fan-out is unbounded; each shot's
// description is individually memoized, and one shot's failure does not
// cancel the in-flight siblings.
func (a *Artist) Decompose(ctx context.Context, briefs []types.ShotBriefDescription, chars []types.Character) ([]types.ShotDescription, error) {
	shots := make([]types.ShotDescription, len(briefs))
	var g errgroup.Group
	for i, brief := range briefs {
		i, brief := i, brief
		g.Go(func() error {
			shot, err := a.decomposeOne(ctx, brief, chars)
			if err != nil {
				return fmt.Errorf("decompose shot %d: %w", brief.Idx, err)
			}
			shots[i] = *shot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return shots, nil
}

func (a *Artist) decomposeOne(ctx context.Context, brief types.ShotBriefDescription, chars []types.Character) (*types.ShotDescription, error) {
	path := a.ws.ShotDescriptionPath(brief.Idx)
	if a.ws.Done(path) {
		var shot types.ShotDescription
		if err := a.ws.LoadJSON(path, &shot); err != nil {
			return nil, err
		}
		a.log.Info().Int("shot", brief.Idx).Msg("loaded shot description from existing file")
		return &shot, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Shot brief %d:\nPurpose: %s\nVisual idea: %s\n\nCharacters:\n", brief.Idx, brief.Purpose, brief.VisualIdea))
	for _, c := range chars {
		sb.WriteString(fmt.Sprintf("- %d: %s: %s\n", c.Idx, c.IdentifierInScene, c.Appearance))
	}

	var shot types.ShotDescription
	if err := a.completeJSON(ctx, decomposeSystemPrompt, sb.String(), a.decomposeTimeout, &shot); err != nil {
		return nil, err
	}
	if shot.Idx != brief.Idx {
		return nil, fmt.Errorf("model returned idx %d for brief %d", shot.Idx, brief.Idx)
	}
	switch shot.VariationType {
	case types.VariationSmall, types.VariationMedium, types.VariationLarge:
	default:
		return nil, fmt.Errorf("model returned invalid variation_type %q", shot.VariationType)
	}
	if err := a.ws.SaveJSON(path, &shot); err != nil {
		return nil, err
	}
	a.log.Info().Int("shot", brief.Idx).Int("cam", shot.CamIdx).Msg("decomposed shot description")
	return &shot, nil
}

// completeJSON runs a model call under a per-attempt timeout with bounded
// retry, then parses the completion into out, a non-nil pointer. Each
// attempt decodes into a fresh value, so a partial decode from a failed
// attempt can never leak stale fields into the result of a later one.
func (a *Artist) completeJSON(ctx context.Context, system, user string, timeout time.Duration, out interface{}) error {
	target := reflect.ValueOf(out).Elem()
	var lastErr error
	for attempt := 1; attempt <= designAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		completion, err := a.text.Complete(attemptCtx, system, user)
		fresh := reflect.New(target.Type())
		if err == nil {
			err = gen.DecodeJSON(completion, fresh.Interface())
		}
		cancel()
		if err == nil {
			target.Set(fresh.Elem())
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn().Err(err).Int("attempt", attempt).Msg("storyboard call failed, retrying")
	}
	return fmt.Errorf("after %d attempts: %w", designAttempts, lastErr)
}
