// Package store maps every logical production step to a path under the run's
// working directory. A step's artifact plus a sidecar completion manifest is
// the memoization substrate: if Done reports true the step is never redone,
// which is what makes interrupted runs safely resumable.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const sidecarSuffix = ".done"

// manifest is the sidecar written atomically after each artifact. The size
// check is what distinguishes a completed artifact from a partial write.
type manifest struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Workspace is the on-disk layout of one pipeline run.
type Workspace struct {
	root string
}

// Open creates the working directory if needed and returns the workspace.
func Open(root string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create working dir %s: %w", root, err)
	}
	return &Workspace{root: root}, nil
}

func (w *Workspace) Root() string { return w.root }

// Path layout. Every one of these paths is an idempotence marker: existence
// of the artifact plus a valid sidecar means the step is complete.

func (w *Workspace) CharactersPath() string {
	return filepath.Join(w.root, "characters.json")
}

func (w *Workspace) PortraitRegistryPath() string {
	return filepath.Join(w.root, "character_portraits_registry.json")
}

func (w *Workspace) PortraitDir(charIdx int, identifier string) string {
	return filepath.Join(w.root, "character_portraits", fmt.Sprintf("%d_%s", charIdx, identifier))
}

func (w *Workspace) PortraitPath(charIdx int, identifier, view string) string {
	return filepath.Join(w.PortraitDir(charIdx, identifier), view+".png")
}

func (w *Workspace) ScriptPath() string {
	return filepath.Join(w.root, "script.txt")
}

func (w *Workspace) StoryboardPath() string {
	return filepath.Join(w.root, "storyboard.json")
}

func (w *Workspace) CameraTreePath() string {
	return filepath.Join(w.root, "camera_tree.json")
}

func (w *Workspace) ShotDir(shotIdx int) string {
	return filepath.Join(w.root, "shots", fmt.Sprintf("%d", shotIdx))
}

func (w *Workspace) ShotDescriptionPath(shotIdx int) string {
	return filepath.Join(w.ShotDir(shotIdx), "shot_description.json")
}

func (w *Workspace) FramePath(shotIdx int, frameType string) string {
	return filepath.Join(w.ShotDir(shotIdx), frameType+".png")
}

func (w *Workspace) SelectorOutputPath(shotIdx int, frameType string) string {
	return filepath.Join(w.ShotDir(shotIdx), frameType+"_selector_output.json")
}

func (w *Workspace) TransitionVideoPath(shotIdx, parentShotIdx int) string {
	return filepath.Join(w.ShotDir(shotIdx), fmt.Sprintf("transition_video_from_shot_%d.mp4", parentShotIdx))
}

func (w *Workspace) NewCameraImagePath(shotIdx, camIdx int) string {
	return filepath.Join(w.ShotDir(shotIdx), fmt.Sprintf("new_camera_%d.png", camIdx))
}

func (w *Workspace) VideoPath(shotIdx int) string {
	return filepath.Join(w.ShotDir(shotIdx), "video.mp4")
}

func (w *Workspace) FinalVideoPath() string {
	return filepath.Join(w.root, "final_video.mp4")
}

func (w *Workspace) ThumbnailsPath() string {
	return filepath.Join(w.root, "thumbnails.json")
}

func (w *Workspace) ThumbnailImagePath(n int) string {
	return filepath.Join(w.root, "thumbnails", fmt.Sprintf("%d.png", n))
}

func (w *Workspace) TitlesPath() string {
	return filepath.Join(w.root, "youtube_titles.json")
}

func (w *Workspace) DescriptionPath() string {
	return filepath.Join(w.root, "youtube_description.txt")
}

// Done reports whether the artifact at path was fully produced: the file
// exists, its sidecar exists, and the recorded size matches. The hash is not
// re-verified on resume; re-reading every video on startup would defeat the
// cheap-resumability goal.
func (w *Workspace) Done(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	data, err := os.ReadFile(path + sidecarSuffix)
	if err != nil {
		return false
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	return m.Size == info.Size()
}

// Seal marks the artifact at path complete by writing its sidecar manifest.
// Must be called after the artifact itself is fully on disk; dependent steps
// may proceed only once Seal returns.
func (w *Workspace) Seal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("seal %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("seal %s: %w", path, err)
	}

	data, err := json.Marshal(manifest{Size: size, SHA256: hex.EncodeToString(h.Sum(nil))})
	if err != nil {
		return err
	}
	return atomicWrite(path+sidecarSuffix, data)
}

// SaveJSON persists v as indented JSON atomically and seals it.
func (w *Workspace) SaveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := atomicWrite(path, data); err != nil {
		return err
	}
	return w.Seal(path)
}

func (w *Workspace) LoadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// WriteArtifact writes raw artifact bytes atomically and seals them.
func (w *Workspace) WriteArtifact(path string, data []byte) error {
	if err := atomicWrite(path, data); err != nil {
		return err
	}
	return w.Seal(path)
}

// CopyArtifact copies an existing artifact into place and seals the copy.
func (w *Workspace) CopyArtifact(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return w.WriteArtifact(dst, data)
}

// EnsureDir creates the directory for an artifact path.
func (w *Workspace) EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}
