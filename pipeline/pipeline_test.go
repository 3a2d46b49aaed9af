package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"script2video-pipeline/config"
	"script2video-pipeline/gen"
	"script2video-pipeline/store"
)

// scriptedText routes model calls by the system prompt's role line and
// returns canned pipeline planning output for a three-shot, two-camera run.
type scriptedText struct {
	mu    sync.Mutex
	calls int
}

var shotBriefIdx = regexp.MustCompile(`Shot brief (\d+):`)

func (s *scriptedText) Complete(_ context.Context, system, user string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	switch {
	case strings.Contains(system, "casting director"):
		return `[{"idx": 0, "identifier_in_scene": "hero", "appearance": "tall, gray coat", "role": "lead"}]`, nil

	case strings.Contains(system, "ordered list of shots"):
		return `[
			{"idx": 0, "purpose": "establish", "visual_idea": "wide alley"},
			{"idx": 1, "purpose": "approach", "visual_idea": "hero walks in"},
			{"idx": 2, "purpose": "reverse", "visual_idea": "over the shoulder"}
		]`, nil

	case strings.Contains(system, "expanding one shot brief"):
		m := shotBriefIdx.FindStringSubmatch(user)
		if m == nil {
			return "", fmt.Errorf("no brief idx in user prompt")
		}
		idx := m[1]
		camIdx, variation := "0", `"small"`
		if idx == "0" {
			variation = `"medium"`
		}
		if idx == "2" {
			camIdx = "1"
		}
		return fmt.Sprintf(`{
			"idx": %s, "cam_idx": %s,
			"visual_desc": "visual %s", "motion_desc": "motion %s", "audio_desc": "audio %s",
			"ff_desc": "ff %s", "lf_desc": "lf %s",
			"ff_vis_char_idxs": [0], "lf_vis_char_idxs": [0],
			"variation_type": %s
		}`, idx, camIdx, idx, idx, idx, idx, idx, variation), nil

	case strings.Contains(system, "continuity planner"):
		return `[
			{"idx": 0, "parent_cam_idx": null, "parent_shot_idx": null, "missing_info": ""},
			{"idx": 1, "parent_cam_idx": 0, "parent_shot_idx": 1, "missing_info": ""}
		]`, nil

	case strings.Contains(system, "reference image curator"):
		desc := user
		if i := strings.Index(user, "Target frame description:\n"); i >= 0 {
			desc = user[i+len("Target frame description:\n"):]
		}
		out, err := json.Marshal(map[string]interface{}{
			"selected_indices": []int{0},
			"text_prompt":      strings.TrimSpace(desc),
		})
		return string(out), err

	case strings.Contains(system, "screenwriter"):
		return "INT. ALLEY - NIGHT\nThe hero walks in.", nil

	default:
		return "", fmt.Errorf("unexpected system prompt: %.60s", system)
	}
}

func (s *scriptedText) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingImages struct {
	mu    sync.Mutex
	calls int
}

func (c *countingImages) Generate(context.Context, string, []string, string) (*gen.ImageArtifact, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return &gen.ImageArtifact{Data: []byte("img"), Ext: "png"}, nil
}

func (c *countingImages) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type countingVideos struct {
	mu   sync.Mutex
	refs [][]string
}

func (c *countingVideos) Generate(_ context.Context, _ string, refs []string) (*gen.VideoArtifact, error) {
	c.mu.Lock()
	c.refs = append(c.refs, refs)
	c.mu.Unlock()
	return &gen.VideoArtifact{Data: []byte("vid"), Ext: "mp4"}, nil
}

func (c *countingVideos) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refs)
}

type fakeMedia struct {
	mu         sync.Mutex
	stills     int
	concats    int
	lastConcat []string
}

func (f *fakeMedia) LastFrame(videoPath, framePath string) error {
	f.mu.Lock()
	f.stills++
	f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(framePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(framePath, []byte("still"), 0644)
}

func (f *fakeMedia) Duration(string) (float64, error) { return 12.5, nil }

func (f *fakeMedia) Concat(segmentPaths []string, outPath string) error {
	f.mu.Lock()
	f.concats++
	f.lastConcat = append([]string(nil), segmentPaths...)
	f.mu.Unlock()
	return os.WriteFile(outPath, []byte("final"), 0644)
}

// flakyImages rejects prompts containing failSubstr and delegates the rest
// to the embedded counting fake.
type flakyImages struct {
	countingImages
	failSubstr string
}

func (f *flakyImages) Generate(ctx context.Context, prompt string, refs []string, aspect string) (*gen.ImageArtifact, error) {
	if strings.Contains(prompt, f.failSubstr) {
		return nil, fmt.Errorf("image backend unavailable")
	}
	return f.countingImages.Generate(ctx, prompt, refs, aspect)
}

// slowVideos delays each generation and honors cancellation, so a segment
// only gets written when nothing cancelled its in-flight work.
type slowVideos struct {
	countingVideos
	delay time.Duration
}

func (s *slowVideos) Generate(ctx context.Context, prompt string, refs []string) (*gen.VideoArtifact, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.countingVideos.Generate(ctx, prompt, refs)
}

func testConfig(dir string) *config.Config {
	return &config.Config{WorkingDir: dir, Style: "noir"}
}

func newTestPipeline(t *testing.T, dir string) (*Pipeline, *store.Workspace, *scriptedText, *countingImages, *countingVideos, *fakeMedia) {
	t.Helper()
	ws, err := store.Open(dir)
	require.NoError(t, err)
	text := &scriptedText{}
	images := &countingImages{}
	videos := &countingVideos{}
	media := &fakeMedia{}
	p := New(testConfig(dir), ws, text, images, videos, media, zerolog.Nop())
	return p, ws, text, images, videos, media
}

func TestRunBuildsFinalVideo(t *testing.T) {
	p, ws, _, images, videos, media := newTestPipeline(t, t.TempDir())

	finalPath, err := p.Run(context.Background(), "INT. ALLEY - NIGHT", "")
	require.NoError(t, err)
	assert.Equal(t, ws.FinalVideoPath(), finalPath)
	assert.True(t, ws.Done(finalPath))

	// portraits (3) + anchor ff0 + lf0 + priority ff1; camera 1's anchor is
	// copied from the transition candidate, no generation call
	assert.Equal(t, 6, images.callCount())
	// one transition clip plus three shot videos
	assert.Equal(t, 4, videos.callCount())
	assert.Equal(t, 1, media.stills)
	assert.Equal(t, []string{ws.VideoPath(0), ws.VideoPath(1), ws.VideoPath(2)}, media.lastConcat)

	for idx := 0; idx < 3; idx++ {
		assert.True(t, ws.Done(ws.VideoPath(idx)), "video for shot %d", idx)
		assert.True(t, ws.Done(ws.FramePath(idx, "first_frame")), "first frame for shot %d", idx)
	}
	assert.True(t, ws.Done(ws.FramePath(0, "last_frame")))
	assert.True(t, ws.Done(ws.CameraTreePath()))
	assert.True(t, ws.Done(ws.PortraitRegistryPath()))
}

func TestSecondRunReplaysNothing(t *testing.T) {
	dir := t.TempDir()
	p, _, _, _, _, _ := newTestPipeline(t, dir)
	_, err := p.Run(context.Background(), "INT. ALLEY - NIGHT", "")
	require.NoError(t, err)

	p2, ws2, text2, images2, videos2, media2 := newTestPipeline(t, dir)
	finalPath, err := p2.Run(context.Background(), "INT. ALLEY - NIGHT", "")
	require.NoError(t, err)

	assert.Equal(t, ws2.FinalVideoPath(), finalPath)
	assert.Zero(t, text2.callCount(), "all planning artifacts must be reused")
	assert.Zero(t, images2.callCount())
	assert.Zero(t, videos2.callCount())
	assert.Zero(t, media2.stills)
	assert.Zero(t, media2.concats)
}

func TestDeletedShotVideoIsRebuiltAlone(t *testing.T) {
	dir := t.TempDir()
	p, ws, _, _, _, _ := newTestPipeline(t, dir)
	_, err := p.Run(context.Background(), "INT. ALLEY - NIGHT", "")
	require.NoError(t, err)

	require.NoError(t, os.Remove(ws.VideoPath(2)))
	require.NoError(t, os.Remove(ws.VideoPath(2)+".done"))
	require.NoError(t, os.Remove(ws.FinalVideoPath()))
	require.NoError(t, os.Remove(ws.FinalVideoPath()+".done"))

	p3, ws3, _, images3, videos3, media3 := newTestPipeline(t, dir)
	_, err = p3.Run(context.Background(), "INT. ALLEY - NIGHT", "")
	require.NoError(t, err)

	assert.Zero(t, images3.callCount(), "no frame may be regenerated")
	require.Equal(t, 1, videos3.callCount(), "only the deleted segment is rebuilt")
	assert.Equal(t, []string{ws3.FramePath(2, "first_frame")}, videos3.refs[0])
	assert.Equal(t, 1, media3.concats)
	assert.True(t, ws3.Done(ws3.FinalVideoPath()))
}

func TestFrameFailureDoesNotAbortSiblingShotVideos(t *testing.T) {
	dir := t.TempDir()
	ws, err := store.Open(dir)
	require.NoError(t, err)
	images := &flakyImages{failSubstr: "lf 0"}
	videos := &slowVideos{delay: 30 * time.Millisecond}
	p := New(testConfig(dir), ws, &scriptedText{}, images, videos, &fakeMedia{}, zerolog.Nop())

	_, err = p.Run(context.Background(), "INT. ALLEY - NIGHT", "")
	require.Error(t, err)

	// shot 0's last frame failed, so its segment cannot exist; the sibling
	// shots' in-flight video generation still completed and persisted
	assert.False(t, ws.Done(ws.VideoPath(0)))
	assert.True(t, ws.Done(ws.VideoPath(1)))
	assert.True(t, ws.Done(ws.VideoPath(2)))
	assert.False(t, ws.Done(ws.FinalVideoPath()))

	// a repaired backend resumes from the persisted segments
	p2 := New(testConfig(dir), ws, &scriptedText{}, &countingImages{}, &countingVideos{}, &fakeMedia{}, zerolog.Nop())
	_, err = p2.Run(context.Background(), "INT. ALLEY - NIGHT", "")
	require.NoError(t, err)
	assert.True(t, ws.Done(ws.FinalVideoPath()))
}

func TestIdeaToVideoWritesScriptFirst(t *testing.T) {
	dir := t.TempDir()
	p, ws, _, _, _, _ := newTestPipeline(t, dir)

	finalPath, err := p.IdeaToVideo(context.Background(), "a detective in the rain", "")
	require.NoError(t, err)
	assert.True(t, ws.Done(finalPath))
	assert.True(t, ws.Done(ws.ScriptPath()))

	script, err := os.ReadFile(ws.ScriptPath())
	require.NoError(t, err)
	assert.Contains(t, string(script), "INT. ALLEY")
}
