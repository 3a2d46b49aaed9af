// Package media wraps the local ffmpeg tooling used for everything that is
// not an external generation call: pulling a still out of a transition video
// and concatenating the per-shot clips into the final cut.
package media

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpeg implements the still-extraction and concatenation toolkit on top of
// a local ffmpeg install.
type FFmpeg struct{}

// LastFrame writes the trailing frame of videoPath to framePath.
func (FFmpeg) LastFrame(videoPath, framePath string) error {
	if err := os.MkdirAll(filepath.Dir(framePath), 0755); err != nil {
		return err
	}
	err := ffmpeg.Input(videoPath, ffmpeg.KwArgs{"sseof": "-0.1"}).
		Output(framePath, ffmpeg.KwArgs{
			"frames:v": 1,
			"update":   1,
			"q:v":      2,
		}).
		OverWriteOutput().
		Run()
	if err != nil {
		return fmt.Errorf("extract last frame of %s: %w", videoPath, err)
	}
	return nil
}

// Concat joins the segments in order into outPath without re-encoding.
func (FFmpeg) Concat(segmentPaths []string, outPath string) error {
	if len(segmentPaths) == 0 {
		return fmt.Errorf("no segments to concatenate")
	}

	listFile := outPath + ".segments.txt"
	var lines []string
	for _, p := range segmentPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("file '%s'", abs))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return err
	}
	defer os.Remove(listFile)

	err := ffmpeg.Input(listFile, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
		Output(outPath, ffmpeg.KwArgs{"c": "copy"}).
		OverWriteOutput().
		Run()
	if err != nil {
		return fmt.Errorf("concatenate %d segments: %w", len(segmentPaths), err)
	}
	return nil
}

// Duration probes a media file and returns its duration in seconds.
func (FFmpeg) Duration(path string) (float64, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	var probed struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(out), &probed); err != nil {
		return 0, fmt.Errorf("parse probe output: %w", err)
	}
	dur, err := strconv.ParseFloat(probed.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probed.Format.Duration, err)
	}
	return dur, nil
}
