package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/callsheet/config"
)

// ClipTool searches YouTube and downloads a single video segment via
// yt-dlp. One clip per call; batch requests confuse strict function
// schemas and blow request timeouts.
type ClipTool struct {
	cfg config.ToolsConfig
}

// NewClipTool constructs the clip downloader.
func NewClipTool(cfg config.ToolsConfig) *ClipTool {
	return &ClipTool{cfg: cfg}
}

func (t *ClipTool) Name() string { return "search_clip" }

func (t *ClipTool) Description() string {
	return "Searches YouTube and downloads a SINGLE specific video segment."
}

func (t *ClipTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "YouTube search query"},
    "start_time": {"type": "string", "description": "Start time (HH:MM:SS)"},
    "duration": {"type": "number", "description": "Duration in seconds"},
    "filename": {"type": "string", "description": "Output filename (.mp4)"}
  },
  "required": ["query", "start_time", "duration", "filename"]
}`)
}

type clipArgs struct {
	Query     string  `json:"query"`
	StartTime string  `json:"start_time"`
	Duration  float64 `json:"duration"`
	Filename  string  `json:"filename"`
}

func (t *ClipTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args clipArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	if args.Query == "" || args.Filename == "" {
		return Fail("query and filename are required"), nil
	}
	if err := ensureDir(t.cfg.WorkDir); err != nil {
		return Result{}, err
	}
	outPath := filepath.Join(t.cfg.WorkDir, filepath.Base(args.Filename))

	// resolve the first search hit to a concrete video id
	search := exec.CommandContext(ctx, t.cfg.YTDLPPath, "ytsearch1:"+args.Query, "--print", "id")
	idOut, err := search.Output()
	if err != nil {
		return Fail("clip search failed: %v", err), nil
	}
	videoID := strings.TrimSpace(string(idOut))
	if videoID == "" {
		return Fail("no video found for query %q", args.Query), nil
	}

	start := args.StartTime
	if start == "" {
		start = "00:00:00"
	}
	end, err := addSeconds(start, args.Duration)
	if err != nil {
		return Fail("invalid start_time %q: %v", args.StartTime, err), nil
	}

	dl := exec.CommandContext(ctx, t.cfg.YTDLPPath,
		"-f", "bestvideo+bestaudio/best",
		"--merge-output-format", "mp4",
		"--download-sections", fmt.Sprintf("*%s-%s", start, end),
		"--force-keyframes-at-cuts",
		"--force-overwrites",
		"-o", outPath,
		"https://www.youtube.com/watch?v="+videoID,
	)
	if out, err := dl.CombinedOutput(); err != nil {
		return Fail("download failed: %v: %s", err, tail(string(out), 300)), nil
	}

	return Ok(map[string]interface{}{"file": filepath.Base(outPath), "path": outPath}), nil
}

// addSeconds shifts an HH:MM:SS timestamp forward.
func addSeconds(hms string, seconds float64) (string, error) {
	parts := strings.Split(hms, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("want HH:MM:SS")
	}
	var h, m, s int
	if _, err := fmt.Sscanf(hms, "%d:%d:%d", &h, &m, &s); err != nil {
		return "", err
	}
	total := h*3600 + m*60 + s + int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
