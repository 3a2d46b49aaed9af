// Package scheduler coordinates frame generation across cameras: each
// camera's anchor frame first (possibly chained from a parent camera's
// transition), then the remaining frames in two priority classes so frames
// that unblock other cameras run before everything else.
package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"script2video-pipeline/gen"
	"script2video-pipeline/selector"
	"script2video-pipeline/signals"
	"script2video-pipeline/store"
	"script2video-pipeline/types"
)

const frameAspect = "16:9"

// StillExtractor derives a still frame from the tail of a video file.
type StillExtractor interface {
	LastFrame(videoPath, framePath string) error
}

// PortraitSource serves a character's finished reference portraits,
// blocking until they exist. Portrait generation runs concurrently with
// frame generation; this is the synchronization point between the two.
type PortraitSource interface {
	Views(ctx context.Context, char types.Character) ([]types.PortraitItem, error)
}

// Deps carries everything the scheduler needs for one run. All fields are
// required.
type Deps struct {
	WS         *store.Workspace
	Images     gen.ImageGenerator
	Videos     gen.VideoGenerator
	Selector   *selector.Selector
	Stills     StillExtractor
	Portraits  PortraitSource
	Board      *signals.Board
	Shots      []types.ShotDescription
	Characters []types.Character
	Priority   map[int]bool // shots whose first frame anchors another camera
	Log        zerolog.Logger
}

type Scheduler struct {
	deps  Deps
	shots map[int]types.ShotDescription
	chars map[int]types.Character
}

func New(deps Deps) *Scheduler {
	s := &Scheduler{
		deps:  deps,
		shots: make(map[int]types.ShotDescription, len(deps.Shots)),
		chars: make(map[int]types.Character, len(deps.Characters)),
	}
	for _, shot := range deps.Shots {
		s.shots[shot.Idx] = shot
	}
	for _, c := range deps.Characters {
		s.chars[c.Idx] = c
	}
	return s
}

// GenerateCameraFrames produces every frame owned by one camera. Runs
// concurrently with the same call for every other camera; cross-camera
// ordering is enforced only through the frame signals.
func (s *Scheduler) GenerateCameraFrames(ctx context.Context, cam *types.Camera) error {
	anchorIdx := cam.AnchorShotIdx()
	anchorShot := s.shots[anchorIdx]
	anchorPath := s.deps.WS.FramePath(anchorIdx, string(types.FirstFrame))

	if s.deps.WS.Done(anchorPath) {
		s.deps.Log.Info().Int("shot", anchorIdx).Msg("skipped first_frame generation, already exists")
	} else if err := s.generateAnchor(ctx, cam, anchorShot, anchorPath); err != nil {
		// nothing downstream of this camera can run; fail every frame
		// signal it owns so waiters unblock instead of hanging
		s.failCameraFrames(cam)
		return fmt.Errorf("camera %d anchor frame (shot %d): %w", cam.Idx, anchorIdx, err)
	}
	s.deps.Board.Frame(anchorIdx, types.FirstFrame).Fire()

	// the anchor is a standing reference for every other frame in the camera
	anchorRef := selector.RefImage{Path: anchorPath, Description: anchorShot.FFDesc}

	var priority, normal []func(context.Context) error
	if anchorShot.VariationType.NeedsLastFrame() {
		normal = append(normal, s.frameTask(anchorIdx, types.LastFrame, anchorRef))
	}
	for _, shotIdx := range cam.ActiveShotIdxs[1:] {
		shot := s.shots[shotIdx]
		ff := s.frameTask(shotIdx, types.FirstFrame, anchorRef)
		if s.deps.Priority[shotIdx] {
			priority = append(priority, ff)
		} else {
			normal = append(normal, ff)
		}
		if shot.VariationType.NeedsLastFrame() {
			normal = append(normal, s.frameTask(shotIdx, types.LastFrame, anchorRef))
		}
	}

	// the whole priority class completes before the normal class starts;
	// within a class everything runs concurrently. The normal class runs
	// even after a priority failure: its frames are independent work, and
	// skipping them would strand their signals' waiters.
	priorityErr := runAll(ctx, priority)
	normalErr := runAll(ctx, normal)
	if priorityErr != nil {
		return fmt.Errorf("camera %d priority frames: %w", cam.Idx, priorityErr)
	}
	if normalErr != nil {
		return fmt.Errorf("camera %d frames: %w", cam.Idx, normalErr)
	}
	return nil
}

// failCameraFrames marks every frame signal owned by the camera as failed.
// Fail is idempotent and never downgrades a signal that already fired.
func (s *Scheduler) failCameraFrames(cam *types.Camera) {
	for _, shotIdx := range cam.ActiveShotIdxs {
		for _, ft := range []types.FrameType{types.FirstFrame, types.LastFrame} {
			if sig := s.deps.Board.Frame(shotIdx, ft); sig != nil {
				sig.Fail()
			}
		}
	}
}

// generateAnchor produces the camera's anchor frame. With a parent linkage
// it first waits for the parent shot's first frame, generates a transition
// video from that state, and derives a candidate anchor from the
// transition's trailing frame. The candidate is either used directly (no
// missing info) or handed to the selector as a flagged reference.
func (s *Scheduler) generateAnchor(ctx context.Context, cam *types.Camera, shot types.ShotDescription, anchorPath string) error {
	pool, err := s.portraitRefs(ctx, shot.FFVisCharIdxs)
	if err != nil {
		return err
	}

	var candidatePath string
	if cam.ParentShotIdx != nil {
		parentIdx := *cam.ParentShotIdx
		s.deps.Log.Info().Int("shot", shot.Idx).Int("parent_shot", parentIdx).Msg("waiting for parent first_frame")
		if err := s.deps.Board.Frame(parentIdx, types.FirstFrame).Wait(ctx); err != nil {
			return err
		}

		transPath := s.deps.WS.TransitionVideoPath(shot.Idx, parentIdx)
		if s.deps.WS.Done(transPath) {
			s.deps.Log.Info().Int("shot", shot.Idx).Msg("skipped transition video generation, already exists")
		} else {
			parentShot := s.shots[parentIdx]
			prompt := fmt.Sprintf(
				"A continuous camera move transitioning from this scene:\n%s\n\nto this scene:\n%s",
				parentShot.VisualDesc, shot.VisualDesc,
			)
			clip, err := s.deps.Videos.Generate(ctx, prompt, []string{s.deps.WS.FramePath(parentIdx, string(types.FirstFrame))})
			if err != nil {
				return fmt.Errorf("transition video from shot %d: %w", parentIdx, err)
			}
			if err := s.deps.WS.WriteArtifact(transPath, clip.Data); err != nil {
				return err
			}
			s.deps.Log.Info().Int("shot", shot.Idx).Int("parent_shot", parentIdx).Msg("generated transition video")
		}

		candidatePath = s.deps.WS.NewCameraImagePath(shot.Idx, cam.Idx)
		if !s.deps.WS.Done(candidatePath) {
			if err := s.deps.Stills.LastFrame(transPath, candidatePath); err != nil {
				return fmt.Errorf("derive candidate anchor for camera %d: %w", cam.Idx, err)
			}
			if err := s.deps.WS.Seal(candidatePath); err != nil {
				return err
			}
		}
		pool = append(pool, selector.RefImage{
			Path:        candidatePath,
			Description: candidateCaption(cam.MissingInfo),
		})
	}

	if cam.ParentShotIdx == nil || cam.MissingInfo != "" {
		out, err := s.memoSelect(ctx, shot.Idx, types.FirstFrame, pool, shot.FFDesc)
		if err != nil {
			return err
		}
		img, err := s.deps.Images.Generate(ctx, out.Prompt(), out.Paths(), frameAspect)
		if err != nil {
			return fmt.Errorf("generate first_frame: %w", err)
		}
		if err := s.deps.WS.WriteArtifact(anchorPath, img.Data); err != nil {
			return err
		}
	} else {
		// parent state fully determines the anchor, no generation call needed
		if err := s.deps.WS.CopyArtifact(candidatePath, anchorPath); err != nil {
			return err
		}
	}
	s.deps.Log.Info().Int("shot", shot.Idx).Msg("generated first_frame")
	return nil
}

// frameTask builds the closure generating one non-anchor frame. On failure
// it fails the frame's signal so video workers waiting on it unblock.
func (s *Scheduler) frameTask(shotIdx int, ft types.FrameType, anchorRef selector.RefImage) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := s.generateFrame(ctx, shotIdx, ft, anchorRef); err != nil {
			s.deps.Board.Frame(shotIdx, ft).Fail()
			return fmt.Errorf("shot %d %s: %w", shotIdx, ft, err)
		}
		return nil
	}
}

func (s *Scheduler) generateFrame(ctx context.Context, shotIdx int, ft types.FrameType, anchorRef selector.RefImage) error {
	path := s.deps.WS.FramePath(shotIdx, string(ft))
	if s.deps.WS.Done(path) {
		s.deps.Log.Info().Int("shot", shotIdx).Str("frame", string(ft)).Msg("skipped frame generation, already exists")
		s.deps.Board.Frame(shotIdx, ft).Fire()
		return nil
	}

	shot := s.shots[shotIdx]
	frameDesc, visible := shot.FFDesc, shot.FFVisCharIdxs
	if ft == types.LastFrame {
		frameDesc, visible = shot.LFDesc, shot.LFVisCharIdxs
	}

	pool, err := s.portraitRefs(ctx, visible)
	if err != nil {
		return err
	}
	pool = append(pool, anchorRef)

	out, err := s.memoSelect(ctx, shotIdx, ft, pool, frameDesc)
	if err != nil {
		return err
	}
	img, err := s.deps.Images.Generate(ctx, out.Prompt(), out.Paths(), frameAspect)
	if err != nil {
		return err
	}
	if err := s.deps.WS.WriteArtifact(path, img.Data); err != nil {
		return err
	}

	s.deps.Log.Info().Int("shot", shotIdx).Str("frame", string(ft)).Msg("generated frame")
	s.deps.Board.Frame(shotIdx, ft).Fire()
	return nil
}

// memoSelect runs the reference selector for a (shot, frame-type) pair,
// persisting the decision so repeat runs reuse it without a model call.
func (s *Scheduler) memoSelect(ctx context.Context, shotIdx int, ft types.FrameType, pool []selector.RefImage, frameDesc string) (*selector.Output, error) {
	path := s.deps.WS.SelectorOutputPath(shotIdx, string(ft))
	if s.deps.WS.Done(path) {
		var out selector.Output
		if err := s.deps.WS.LoadJSON(path, &out); err != nil {
			return nil, err
		}
		s.deps.Log.Info().Int("shot", shotIdx).Str("frame", string(ft)).Msg("loaded existing reference selection")
		return &out, nil
	}

	out, err := s.deps.Selector.Select(ctx, pool, frameDesc)
	if err != nil {
		return nil, err
	}
	if err := s.deps.WS.SaveJSON(path, out); err != nil {
		return nil, err
	}
	return out, nil
}

// portraitRefs collects all three portrait views for every visible
// character, waiting for any chain still in flight.
func (s *Scheduler) portraitRefs(ctx context.Context, visCharIdxs []int) ([]selector.RefImage, error) {
	var refs []selector.RefImage
	for _, charIdx := range visCharIdxs {
		char, ok := s.chars[charIdx]
		if !ok {
			return nil, fmt.Errorf("unknown character idx %d", charIdx)
		}
		views, err := s.deps.Portraits.Views(ctx, char)
		if err != nil {
			return nil, err
		}
		for _, item := range views {
			refs = append(refs, selector.RefImage{Path: item.Path, Description: item.Description})
		}
	}
	return refs, nil
}

func candidateCaption(missingInfo string) string {
	return "The composition and background are correct but some elements may be wrong. " +
		"The wrong elements should be replaced.\nWrong elements: " + missingInfo + ".\n" +
		"You must select this image as the main reference and replace the characters in the image " +
		"with the provided character portraits. Don't change the background."
}

// runAll runs the tasks concurrently, letting every one of them finish
// regardless of sibling failures, and returns the first error.
func runAll(ctx context.Context, tasks []func(context.Context) error) error {
	if len(tasks) == 0 {
		return nil
	}
	var g errgroup.Group
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(ctx) })
	}
	return g.Wait()
}
