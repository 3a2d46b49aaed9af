// Package pipeline wires the stages together and owns the run's task graph:
// character portraits run alongside storyboard decomposition and frame
// generation, video generation overlaps frame generation, and everything
// joins before the final concatenation.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"script2video-pipeline/assembler"
	"script2video-pipeline/cameras"
	"script2video-pipeline/characters"
	"script2video-pipeline/config"
	"script2video-pipeline/gen"
	"script2video-pipeline/metadata"
	"script2video-pipeline/scheduler"
	"script2video-pipeline/selector"
	"script2video-pipeline/signals"
	"script2video-pipeline/store"
	"script2video-pipeline/storyboard"
	"script2video-pipeline/types"
)

// MediaToolkit is the local video tooling the pipeline needs: trailing-frame
// extraction for camera transitions, lossless segment concatenation, and
// probing the finished cut.
type MediaToolkit interface {
	LastFrame(videoPath, framePath string) error
	Concat(segmentPaths []string, outPath string) error
	Duration(path string) (float64, error)
}

// Pipeline runs one script-to-video build over a working directory. Every
// expensive step is memoized on its artifact path, so calling Run again on
// the same directory replays only the missing steps.
type Pipeline struct {
	cfg    *config.Config
	ws     *store.Workspace
	text   gen.TextGenerator
	images gen.ImageGenerator
	videos gen.VideoGenerator
	media  MediaToolkit
	log    zerolog.Logger
}

func New(cfg *config.Config, ws *store.Workspace, text gen.TextGenerator, images gen.ImageGenerator, videos gen.VideoGenerator, media MediaToolkit, log zerolog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, ws: ws, text: text, images: images, videos: videos, media: media, log: log}
}

// IdeaToVideo writes a script for the idea first, then runs the main build.
func (p *Pipeline) IdeaToVideo(ctx context.Context, idea, requirement string) (string, error) {
	sw := storyboard.NewScreenwriter(p.text, p.ws, p.log)
	script, err := sw.Write(ctx, idea, requirement)
	if err != nil {
		return "", err
	}
	return p.Run(ctx, script, requirement)
}

// Run executes the full script-to-video build and returns the final video
// path.
func (p *Pipeline) Run(ctx context.Context, script, requirement string) (string, error) {
	extractor := characters.NewExtractor(p.text, p.ws, p.log)
	chars, err := extractor.Extract(ctx, script)
	if err != nil {
		return "", err
	}

	board := signals.NewBoard()
	for _, c := range chars {
		board.AddCharacter(c.Idx)
	}
	portraits := characters.NewPortraitGenerator(p.images, p.ws, board, p.log)
	asm := assembler.New(p.ws, p.videos, p.media, board, p.log)

	var briefs []types.ShotBriefDescription
	var shots []types.ShotDescription

	// A plain group here on purpose: a failure on one branch must not cancel
	// the other branch's in-flight work. Artifacts are memoized, so letting
	// unaffected tasks drain preserves their output for the next run; blocked
	// waiters are released through signal failure instead of cancellation.
	var g errgroup.Group
	g.Go(func() error {
		return portraits.EnsurePortraits(ctx, chars, p.cfg.Style)
	})
	g.Go(func() error {
		artist := storyboard.NewArtist(p.text, p.ws, p.log)
		var err error
		briefs, err = artist.DesignStoryboard(ctx, script, chars, requirement)
		if err != nil {
			return err
		}
		shots, err = artist.Decompose(ctx, briefs, chars)
		if err != nil {
			return err
		}
		sort.Slice(shots, func(i, j int) bool { return shots[i].Idx < shots[j].Idx })

		forest, err := cameras.NewBuilder(p.text, p.ws, p.log).Build(ctx, shots)
		if err != nil {
			return err
		}
		for _, shot := range shots {
			board.AddShot(shot.Idx, shot.VariationType.NeedsLastFrame())
		}

		return p.generateFramesAndVideos(ctx, forest, shots, chars, portraits, board, asm)
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	finalPath, err := asm.ConcatFinal(shots)
	if err != nil {
		return "", err
	}

	meta := metadata.New(p.cfg.Metadata, p.cfg.Style, p.text, p.images, p.ws, p.log)
	if err := meta.Run(ctx, script, briefs); err != nil {
		return "", fmt.Errorf("release metadata: %w", err)
	}

	done := p.log.Info().Str("path", finalPath)
	if dur, err := p.media.Duration(finalPath); err == nil {
		done = done.Float64("duration_sec", dur)
	}
	done.Msg("pipeline run complete")
	return finalPath, nil
}

// generateFramesAndVideos schedules every camera's frame tasks and every
// shot's video task in one group. Video tasks block on frame signals only,
// so all of them can start immediately. Failures stay local: a failing task
// fails its own signals so its dependents unblock with an error, while
// every independent task runs to completion and its artifact is written;
// the first error surfaces only at the join.
func (p *Pipeline) generateFramesAndVideos(ctx context.Context, forest *cameras.Forest, shots []types.ShotDescription, chars []types.Character, portraits *characters.PortraitGenerator, board *signals.Board, asm *assembler.Assembler) error {
	sched := scheduler.New(scheduler.Deps{
		WS:         p.ws,
		Images:     p.images,
		Videos:     p.videos,
		Selector:   selector.New(p.text, p.log),
		Stills:     p.media,
		Portraits:  portraits,
		Board:      board,
		Shots:      shots,
		Characters: chars,
		Priority:   forest.PriorityShotSet(),
		Log:        p.log,
	})
	var g errgroup.Group
	for _, cam := range forest.Cameras() {
		cam := cam
		g.Go(func() error {
			return sched.GenerateCameraFrames(ctx, &cam)
		})
	}
	g.Go(func() error {
		return asm.GenerateShotVideos(ctx, shots)
	})
	return g.Wait()
}
