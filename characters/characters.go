// Package characters extracts the cast from a script and keeps every
// character supplied with its three canonical reference portraits.
package characters

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"script2video-pipeline/gen"
	"script2video-pipeline/signals"
	"script2video-pipeline/store"
	"script2video-pipeline/types"
)

// ErrUnknownCharacter indicates a shot references a character that has no
// portrait registry entry. This is an upstream invariant violation and
// aborts the run.
var ErrUnknownCharacter = errors.New("character has no portrait registry entry")

const extractSystemPrompt = `You are a casting director reading a video script.
Extract every distinct character that appears on screen.

Respond with ONLY valid JSON: an array of characters, each:
{
  "idx": 0,
  "identifier_in_scene": "short_snake_case_identifier",
  "appearance": "detailed physical appearance for portrait generation",
  "role": "the character's role in the story"
}

idx must start at 0 and increase by 1 in order of first appearance.
identifier_in_scene must be unique.`

// Extractor pulls the character list out of a script, once per run.
type Extractor struct {
	text gen.TextGenerator
	ws   *store.Workspace
	log  zerolog.Logger
}

func NewExtractor(text gen.TextGenerator, ws *store.Workspace, log zerolog.Logger) *Extractor {
	return &Extractor{text: text, ws: ws, log: log}
}

// Extract returns the script's characters, reusing the persisted list when
// the run is resumed.
func (e *Extractor) Extract(ctx context.Context, script string) ([]types.Character, error) {
	path := e.ws.CharactersPath()
	if e.ws.Done(path) {
		var chars []types.Character
		if err := e.ws.LoadJSON(path, &chars); err != nil {
			return nil, err
		}
		e.log.Info().Int("characters", len(chars)).Msg("loaded characters from existing file")
		return chars, nil
	}

	completion, err := e.text.Complete(ctx, extractSystemPrompt, script)
	if err != nil {
		return nil, fmt.Errorf("extract characters: %w", err)
	}
	var chars []types.Character
	if err := gen.DecodeJSON(completion, &chars); err != nil {
		return nil, fmt.Errorf("extract characters: %w", err)
	}
	if err := e.ws.SaveJSON(path, chars); err != nil {
		return nil, err
	}
	e.log.Info().Int("characters", len(chars)).Msg("extracted characters from script")
	return chars, nil
}

// PortraitGenerator ensures every character has front, side and back
// portraits on disk and in the persisted registry, and serves the finished
// views to frame generation running concurrently. Chains for different
// characters run fully in parallel; within a chain the side and back views
// are derived from the front portrait, so front always completes first.
type PortraitGenerator struct {
	images gen.ImageGenerator
	ws     *store.Workspace
	board  *signals.Board
	log    zerolog.Logger

	// serializes the registry's read-modify-write persistence so two chains
	// finishing close together cannot lose each other's update
	mu       sync.Mutex
	registry types.PortraitRegistry
}

func NewPortraitGenerator(images gen.ImageGenerator, ws *store.Workspace, board *signals.Board, log zerolog.Logger) *PortraitGenerator {
	return &PortraitGenerator{
		images:   images,
		ws:       ws,
		board:    board,
		log:      log,
		registry: make(types.PortraitRegistry),
	}
}

// EnsurePortraits generates the missing portrait chains. The registry file
// is rewritten as each character's chain finishes, so a crash loses at most
// one character's in-flight work, and the character's signal fires only
// after its entry is persisted. A failure in one chain aborts only that
// chain: sibling chains run to completion and stay persisted, the failed
// character's signal is failed so frame tasks waiting on it unblock, and
// the error surfaces at the join.
func (p *PortraitGenerator) EnsurePortraits(ctx context.Context, chars []types.Character, style string) error {
	registryPath := p.ws.PortraitRegistryPath()
	if p.ws.Done(registryPath) {
		p.mu.Lock()
		err := p.ws.LoadJSON(registryPath, &p.registry)
		p.mu.Unlock()
		if err != nil {
			for _, char := range chars {
				p.failSignal(char)
			}
			return err
		}
	}

	var g errgroup.Group
	pending := 0
	for _, char := range chars {
		char := char
		p.mu.Lock()
		_, done := p.registry[char.IdentifierInScene]
		p.mu.Unlock()
		if done {
			if sig := p.board.Character(char.Idx); sig != nil {
				sig.Fire()
			}
			continue
		}
		pending++
		g.Go(func() error {
			entry, err := p.generateChain(ctx, char, style)
			if err != nil {
				p.failSignal(char)
				return fmt.Errorf("portrait chain for character %q: %w", char.IdentifierInScene, err)
			}

			p.mu.Lock()
			p.registry[char.IdentifierInScene] = entry
			err = p.ws.SaveJSON(registryPath, p.registry)
			p.mu.Unlock()
			if err != nil {
				p.failSignal(char)
				return err
			}

			if sig := p.board.Character(char.Idx); sig != nil {
				sig.Fire()
			}
			p.log.Info().Str("character", char.IdentifierInScene).Msg("portrait chain complete")
			return nil
		})
	}

	if pending == 0 {
		p.log.Info().Msg("all characters already have portraits, skipping portrait generation")
		return nil
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.log.Info().Int("characters", len(chars)).Msg("character portrait generation complete")
	return nil
}

func (p *PortraitGenerator) failSignal(char types.Character) {
	if sig := p.board.Character(char.Idx); sig != nil {
		sig.Fail()
	}
}

// Views returns the character's portraits in front, side, back order,
// blocking until the character's chain has completed.
func (p *PortraitGenerator) Views(ctx context.Context, char types.Character) ([]types.PortraitItem, error) {
	sig := p.board.Character(char.Idx)
	if sig == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharacter, char.IdentifierInScene)
	}
	if err := sig.Wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	entry, ok := p.registry[char.IdentifierInScene]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharacter, char.IdentifierInScene)
	}

	views := make([]types.PortraitItem, 0, 3)
	for _, view := range []string{types.ViewFront, types.ViewSide, types.ViewBack} {
		item, ok := entry[view]
		if !ok {
			return nil, fmt.Errorf("character %q: missing %s portrait", char.IdentifierInScene, view)
		}
		views = append(views, item)
	}
	return views, nil
}

// generateChain produces the three views for one character, front first.
// Each view is individually memoized so a resumed run only redoes the
// missing ones.
func (p *PortraitGenerator) generateChain(ctx context.Context, char types.Character, style string) (map[string]types.PortraitItem, error) {
	frontPath := p.ws.PortraitPath(char.Idx, char.IdentifierInScene, types.ViewFront)
	if !p.ws.Done(frontPath) {
		prompt := fmt.Sprintf(
			"A front view full-body portrait of %s: %s. Neutral pose, plain background. Style: %s.",
			char.IdentifierInScene, char.Appearance, style,
		)
		if err := p.generatePortrait(ctx, prompt, nil, frontPath); err != nil {
			return nil, fmt.Errorf("front view: %w", err)
		}
	}

	for _, view := range []string{types.ViewSide, types.ViewBack} {
		path := p.ws.PortraitPath(char.Idx, char.IdentifierInScene, view)
		if p.ws.Done(path) {
			continue
		}
		prompt := fmt.Sprintf(
			"A %s view full-body portrait of the same character as in the reference image, identical clothing and build. Neutral pose, plain background. Style: %s.",
			view, style,
		)
		if err := p.generatePortrait(ctx, prompt, []string{frontPath}, path); err != nil {
			return nil, fmt.Errorf("%s view: %w", view, err)
		}
	}

	entry := make(map[string]types.PortraitItem, 3)
	for _, view := range []string{types.ViewFront, types.ViewSide, types.ViewBack} {
		entry[view] = types.PortraitItem{
			Path:        p.ws.PortraitPath(char.Idx, char.IdentifierInScene, view),
			Description: fmt.Sprintf("A %s view portrait of %s.", view, char.IdentifierInScene),
		}
	}
	return entry, nil
}

func (p *PortraitGenerator) generatePortrait(ctx context.Context, prompt string, refs []string, path string) error {
	img, err := p.images.Generate(ctx, prompt, refs, "9:16")
	if err != nil {
		return err
	}
	return p.ws.WriteArtifact(path, img.Data)
}
