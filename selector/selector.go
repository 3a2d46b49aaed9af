// Package selector picks which reference images to hand to the image
// generator for a given frame and synthesizes the generation prompt.
package selector

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"script2video-pipeline/gen"
)

// RefImage is one candidate reference image with its caption.
type RefImage struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Output is the persisted decision for one (shot, frame-type) pair. Repeat
// runs reuse it without re-invoking the model.
type Output struct {
	References []RefImage `json:"references"`
	TextPrompt string     `json:"text_prompt"`
}

// Paths returns the chosen reference image paths in selection order.
func (o *Output) Paths() []string {
	paths := make([]string, len(o.References))
	for i, r := range o.References {
		paths[i] = r.Path
	}
	return paths
}

// Prompt builds the full generation prompt: one caption line per chosen
// reference, then the synthesized frame prompt.
func (o *Output) Prompt() string {
	var sb strings.Builder
	for i, r := range o.References {
		sb.WriteString(fmt.Sprintf("Image %d: %s\n", i, r.Description))
	}
	sb.WriteString("\n")
	sb.WriteString(o.TextPrompt)
	return sb.String()
}

const systemPrompt = `You are a reference image curator for an AI image generation pipeline.
Given a pool of candidate reference images (described by captions) and a target frame description,
choose the subset of references the image generator should condition on, and write the generation prompt.

Respond with ONLY valid JSON:
{
  "selected_indices": [0, 2],
  "text_prompt": "the generation prompt describing the target frame"
}

Rules:
- Select only references that contribute to the target frame; fewer is better.
- If a caption says an image must be used as the main reference, you must include it.
- The text_prompt must describe the target frame completely; the generator sees nothing else.`

// Selector chooses reference subsets via a single external-model call.
type Selector struct {
	text gen.TextGenerator
	log  zerolog.Logger
}

func New(text gen.TextGenerator, log zerolog.Logger) *Selector {
	return &Selector{text: text, log: log}
}

type selectorResult struct {
	SelectedIndices []int  `json:"selected_indices"`
	TextPrompt      string `json:"text_prompt"`
}

// Select picks a subset of the pool for the target frame description.
func (s *Selector) Select(ctx context.Context, pool []RefImage, frameDesc string) (*Output, error) {
	var sb strings.Builder
	sb.WriteString("Candidate reference images:\n")
	for i, r := range pool {
		sb.WriteString(fmt.Sprintf("%d: %s\n", i, r.Description))
	}
	sb.WriteString("\nTarget frame description:\n")
	sb.WriteString(frameDesc)

	completion, err := s.text.Complete(ctx, systemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("reference selection: %w", err)
	}

	var result selectorResult
	if err := gen.DecodeJSON(completion, &result); err != nil {
		return nil, fmt.Errorf("reference selection: %w", err)
	}

	out := &Output{TextPrompt: result.TextPrompt}
	for _, idx := range result.SelectedIndices {
		if idx < 0 || idx >= len(pool) {
			return nil, fmt.Errorf("reference selection: index %d out of range (%d candidates)", idx, len(pool))
		}
		out.References = append(out.References, pool[idx])
	}
	if len(out.References) == 0 {
		return nil, fmt.Errorf("reference selection: model selected no references")
	}
	return out, nil
}
