// Package cameras groups shots into camera tracks and links cameras that
// continue another camera's last visual state into a forest.
package cameras

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"script2video-pipeline/gen"
	"script2video-pipeline/store"
	"script2video-pipeline/types"
)

const assignSystemPrompt = `You are a cinematography continuity planner.
Each camera below groups consecutive shots sharing a visual throughline. For every camera, decide
whether it starts fresh or continues from the last known visual state of an earlier camera's shot.

Respond with ONLY valid JSON: an array with one entry per camera, each:
{
  "idx": <camera idx>,
  "parent_cam_idx": <idx of the camera it continues from, or null>,
  "parent_shot_idx": <idx of the shot within the parent camera whose state it continues, or null>,
  "missing_info": "elements the continuation must fabricate because they were not visible in the parent's state, or null"
}

Rules:
- parent_cam_idx and parent_shot_idx are both null or both set.
- parent_shot_idx must be one of the parent camera's shots.
- A camera must never, directly or through a chain of parents, continue from itself.
- missing_info is null when the parent's state fully determines the new camera's first frame.`

// Builder constructs and persists the camera tree.
type Builder struct {
	text gen.TextGenerator
	ws   *store.Workspace
	log  zerolog.Logger
}

func NewBuilder(text gen.TextGenerator, ws *store.Workspace, log zerolog.Logger) *Builder {
	return &Builder{text: text, ws: ws, log: log}
}

type assignment struct {
	Idx           int    `json:"idx"`
	ParentCamIdx  *int   `json:"parent_cam_idx"`
	ParentShotIdx *int   `json:"parent_shot_idx"`
	MissingInfo   string `json:"missing_info"`
}

// Build groups shots into cameras and asks the model to assign parent
// linkages. The persisted tree is loaded verbatim on resume and the
// assignment call is skipped; validation runs in both paths so a malformed
// tree fails fast instead of deadlocking the frame scheduler.
func (b *Builder) Build(ctx context.Context, shots []types.ShotDescription) (*Forest, error) {
	path := b.ws.CameraTreePath()
	if b.ws.Done(path) {
		var cams []types.Camera
		if err := b.ws.LoadJSON(path, &cams); err != nil {
			return nil, err
		}
		b.log.Info().Int("cameras", len(cams)).Msg("loaded camera tree from existing file")
		return NewForest(cams)
	}

	cams := Group(shots)

	completion, err := b.text.Complete(ctx, assignSystemPrompt, describe(cams, shots))
	if err != nil {
		return nil, fmt.Errorf("camera tree assignment: %w", err)
	}
	var assignments []assignment
	if err := gen.DecodeJSON(completion, &assignments); err != nil {
		return nil, fmt.Errorf("camera tree assignment: %w", err)
	}

	byIdx := make(map[int]*types.Camera, len(cams))
	for i := range cams {
		byIdx[cams[i].Idx] = &cams[i]
	}
	for _, asg := range assignments {
		cam, ok := byIdx[asg.Idx]
		if !ok {
			return nil, fmt.Errorf("camera tree assignment: unknown camera idx %d", asg.Idx)
		}
		cam.ParentCamIdx = asg.ParentCamIdx
		cam.ParentShotIdx = asg.ParentShotIdx
		cam.MissingInfo = asg.MissingInfo
	}

	forest, err := NewForest(cams)
	if err != nil {
		return nil, err
	}
	if err := b.ws.SaveJSON(path, cams); err != nil {
		return nil, err
	}
	b.log.Info().Int("cameras", len(cams)).Msg("constructed camera tree")
	return forest, nil
}

// Group deterministically partitions shots into cameras by cam_idx,
// preserving the order of first appearance; shots within a camera keep the
// order they were declared in.
func Group(shots []types.ShotDescription) []types.Camera {
	var cams []types.Camera
	pos := make(map[int]int)
	for _, shot := range shots {
		i, ok := pos[shot.CamIdx]
		if !ok {
			i = len(cams)
			pos[shot.CamIdx] = i
			cams = append(cams, types.Camera{Idx: shot.CamIdx})
		}
		cams[i].ActiveShotIdxs = append(cams[i].ActiveShotIdxs, shot.Idx)
	}
	return cams
}

func describe(cams []types.Camera, shots []types.ShotDescription) string {
	byIdx := make(map[int]types.ShotDescription, len(shots))
	for _, s := range shots {
		byIdx[s.Idx] = s
	}
	var sb strings.Builder
	for _, cam := range cams {
		sb.WriteString(fmt.Sprintf("Camera %d:\n", cam.Idx))
		for _, shotIdx := range cam.ActiveShotIdxs {
			sb.WriteString(fmt.Sprintf("  Shot %d: %s\n", shotIdx, byIdx[shotIdx].VisualDesc))
		}
	}
	return sb.String()
}
