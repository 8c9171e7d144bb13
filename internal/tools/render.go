package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/callsheet/config"
)

// RenderSpec is the compositing specification the Director assembles.
// The tool result echoes the raw spec back so unknown fields survive
// the round trip to the editor UI.
type RenderSpec struct {
	Width       int          `json:"width,omitempty"`
	Height      int          `json:"height,omitempty"`
	FPS         int          `json:"fps,omitempty"`
	Clips       []RenderClip `json:"clips"`
	AudioTracks []AudioTrack `json:"audio_tracks,omitempty"`
}

// RenderClip is one timeline segment.
type RenderClip struct {
	Duration float64 `json:"duration,omitempty"`
	Layers   []Layer `json:"layers"`
}

// Layer references a source asset inside a clip.
type Layer struct {
	Type string `json:"type"` // video, image, audio, title
	Path string `json:"path,omitempty"`
	Text string `json:"text,omitempty"`
}

// AudioTrack is a background audio source mixed under the timeline.
type AudioTrack struct {
	Path      string  `json:"path"`
	MixVolume float64 `json:"mix_volume,omitempty"`
}

// RenderTool assembles the final video with ffmpeg from the spec's
// clip list. Rendering is slow (possibly minutes) and runs under the
// caller's context.
type RenderTool struct {
	cfg config.ToolsConfig
	now func() time.Time
}

// NewRenderTool constructs the renderer.
func NewRenderTool(cfg config.ToolsConfig) *RenderTool {
	return &RenderTool{cfg: cfg, now: time.Now}
}

func (t *RenderTool) Name() string { return "render" }

func (t *RenderTool) Description() string {
	return "Renders the final video from the full compositing spec."
}

func (t *RenderTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "spec": {
      "type": "object",
      "description": "Compositing spec: width, height, fps, clips (each with layers referencing downloaded assets), audio_tracks",
      "properties": {
        "width": {"type": "number"},
        "height": {"type": "number"},
        "fps": {"type": "number"},
        "clips": {"type": "array", "items": {"type": "object"}},
        "audio_tracks": {"type": "array", "items": {"type": "object"}}
      },
      "required": ["clips"]
    }
  },
  "required": ["spec"]
}`)
}

type renderArgs struct {
	Spec json.RawMessage `json:"spec"`
}

func (t *RenderTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args renderArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	var spec RenderSpec
	if err := json.Unmarshal(args.Spec, &spec); err != nil {
		return Fail("invalid spec: %v", err), nil
	}
	if len(spec.Clips) == 0 {
		return Fail("spec has no clips"), nil
	}

	if err := ensureDir(t.cfg.RendersDir); err != nil {
		return Result{}, err
	}
	outName := fmt.Sprintf("render_%d_%s.mp4", t.now().UnixMilli(), uuid.NewString()[:8])
	outPath := filepath.Join(t.cfg.RendersDir, outName)

	segments, cleanup, err := t.prepareSegments(ctx, spec)
	defer cleanup()
	if err != nil {
		return Fail("%v", err), nil
	}

	listPath, err := writeConcatList(t.cfg.RendersDir, segments)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(listPath)

	cmdArgs := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath}
	for _, track := range spec.AudioTracks {
		cmdArgs = append(cmdArgs, "-i", t.resolvePath(track.Path))
	}
	if len(spec.AudioTracks) > 0 {
		cmdArgs = append(cmdArgs, "-filter_complex", audioMixFilter(len(spec.AudioTracks)), "-map", "0:v", "-map", "[aout]")
	}
	cmdArgs = append(cmdArgs, "-c:v", "libx264", "-pix_fmt", "yuv420p", outPath)

	cmd := exec.CommandContext(ctx, t.cfg.FFmpegPath, cmdArgs...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return Fail("render failed: %v: %s", err, tail(string(out), 400)), nil
	}

	var echoed interface{}
	_ = json.Unmarshal(args.Spec, &echoed)
	return Ok(map[string]interface{}{
		"url":  "/renders/" + outName,
		"file": outName,
		"spec": echoed,
	}), nil
}

// prepareSegments turns each clip into a playable segment path. Image
// layers are looped into short mp4 segments first; video layers pass
// through.
func (t *RenderTool) prepareSegments(ctx context.Context, spec RenderSpec) ([]string, func(), error) {
	var segments []string
	var temps []string
	cleanup := func() {
		for _, p := range temps {
			os.Remove(p)
		}
	}

	for i, clip := range spec.Clips {
		layer, ok := primaryLayer(clip)
		if !ok {
			return nil, cleanup, fmt.Errorf("clip %d has no video or image layer", i)
		}
		src := t.resolvePath(layer.Path)
		if _, err := os.Stat(src); err != nil {
			return nil, cleanup, fmt.Errorf("clip %d source missing: %s", i, layer.Path)
		}
		if layer.Type != "image" {
			segments = append(segments, src)
			continue
		}
		dur := clip.Duration
		if dur <= 0 {
			dur = 3
		}
		seg := filepath.Join(t.cfg.RendersDir, fmt.Sprintf("seg_%d_%d.mp4", t.now().UnixMilli(), i))
		cmd := exec.CommandContext(ctx, t.cfg.FFmpegPath,
			"-y", "-loop", "1", "-i", src, "-t", fmt.Sprintf("%.2f", dur),
			"-c:v", "libx264", "-pix_fmt", "yuv420p", seg)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, cleanup, fmt.Errorf("image segment failed: %v: %s", err, tail(string(out), 300))
		}
		temps = append(temps, seg)
		segments = append(segments, seg)
	}
	return segments, cleanup, nil
}

func (t *RenderTool) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if strings.ContainsRune(p, filepath.Separator) {
		return p
	}
	return filepath.Join(t.cfg.WorkDir, p)
}

func primaryLayer(clip RenderClip) (Layer, bool) {
	for _, l := range clip.Layers {
		if l.Type == "video" || l.Type == "image" {
			return l, true
		}
	}
	return Layer{}, false
}

func writeConcatList(dir string, segments []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat_*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()
	for _, seg := range segments {
		abs, err := filepath.Abs(seg)
		if err != nil {
			abs = seg
		}
		fmt.Fprintf(f, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return f.Name(), nil
}

func audioMixFilter(tracks int) string {
	var b strings.Builder
	for i := 1; i <= tracks; i++ {
		fmt.Fprintf(&b, "[%d:a]", i)
	}
	fmt.Fprintf(&b, "amix=inputs=%d[aout]", tracks)
	return b.String()
}
