// Package assembler turns generated frames into per-shot video segments and
// concatenates the segments into the final video.
package assembler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"script2video-pipeline/gen"
	"script2video-pipeline/signals"
	"script2video-pipeline/store"
	"script2video-pipeline/types"
)

// Concatenator joins video segments losslessly in order.
type Concatenator interface {
	Concat(segmentPaths []string, outPath string) error
}

// Assembler generates shot videos as their frames become available and
// assembles the final cut.
type Assembler struct {
	ws     *store.Workspace
	videos gen.VideoGenerator
	concat Concatenator
	board  *signals.Board
	log    zerolog.Logger
}

func New(ws *store.Workspace, videos gen.VideoGenerator, concat Concatenator, board *signals.Board, log zerolog.Logger) *Assembler {
	return &Assembler{ws: ws, videos: videos, concat: concat, board: board, log: log}
}

// GenerateShotVideos runs one video-generation worker per shot. Workers
// block on frame signals individually, so shots whose frames are ready
// early do not wait for unrelated frames. A failing worker does not cancel
// its siblings: every shot whose frames arrive still renders and persists
// its segment, and the first error surfaces at the join.
func (a *Assembler) GenerateShotVideos(ctx context.Context, shots []types.ShotDescription) error {
	var g errgroup.Group
	for _, shot := range shots {
		shot := shot
		g.Go(func() error {
			if err := a.generateOne(ctx, shot); err != nil {
				return fmt.Errorf("shot %d video: %w", shot.Idx, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// generateOne produces the video segment for one shot. An existing segment
// short-circuits before any signal wait, so resumed runs with complete
// segments never block on frames that will not be regenerated.
func (a *Assembler) generateOne(ctx context.Context, shot types.ShotDescription) error {
	path := a.ws.VideoPath(shot.Idx)
	if a.ws.Done(path) {
		a.log.Info().Int("shot", shot.Idx).Msg("skipped video generation, already exists")
		return nil
	}

	if err := a.board.Frame(shot.Idx, types.FirstFrame).Wait(ctx); err != nil {
		return err
	}
	refs := []string{a.ws.FramePath(shot.Idx, string(types.FirstFrame))}
	if shot.VariationType.NeedsLastFrame() {
		if err := a.board.Frame(shot.Idx, types.LastFrame).Wait(ctx); err != nil {
			return err
		}
		refs = append(refs, a.ws.FramePath(shot.Idx, string(types.LastFrame)))
	}

	prompt := shot.MotionDesc + "\n" + shot.AudioDesc
	clip, err := a.videos.Generate(ctx, prompt, refs)
	if err != nil {
		return err
	}
	if err := a.ws.WriteArtifact(path, clip.Data); err != nil {
		return err
	}
	a.log.Info().Int("shot", shot.Idx).Str("variation", string(shot.VariationType)).Msg("generated shot video")
	return nil
}

// ConcatFinal joins all shot segments in idx order into the final video.
// Skipped entirely when the final video already exists.
func (a *Assembler) ConcatFinal(shots []types.ShotDescription) (string, error) {
	finalPath := a.ws.FinalVideoPath()
	if a.ws.Done(finalPath) {
		a.log.Info().Msg("skipped final concatenation, already exists")
		return finalPath, nil
	}

	segments := make([]string, 0, len(shots))
	for _, shot := range shots {
		seg := a.ws.VideoPath(shot.Idx)
		if !a.ws.Done(seg) {
			return "", fmt.Errorf("concat final video: shot %d segment missing", shot.Idx)
		}
		segments = append(segments, seg)
	}

	if err := a.concat.Concat(segments, finalPath); err != nil {
		return "", fmt.Errorf("concat final video: %w", err)
	}
	if err := a.ws.Seal(finalPath); err != nil {
		return "", err
	}
	a.log.Info().Int("segments", len(segments)).Str("path", finalPath).Msg("assembled final video")
	return finalPath, nil
}
