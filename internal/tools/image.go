package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mohammad-safakhou/callsheet/config"
)

// ImageTool downloads an image from a public URL into the asset
// directory.
type ImageTool struct {
	cfg    config.ToolsConfig
	client *http.Client
}

// NewImageTool constructs the image downloader.
func NewImageTool(cfg config.ToolsConfig) *ImageTool {
	// short timeout: images the model picks should resolve quickly
	return &ImageTool{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *ImageTool) Name() string { return "download_image" }

func (t *ImageTool) Description() string {
	return "Downloads an image from a public HTTP URL."
}

func (t *ImageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "The HTTP URL of the image"},
    "filename": {"type": "string", "description": "Output filename (e.g. chart.png)"}
  },
  "required": ["url", "filename"]
}`)
}

type imageArgs struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

func (t *ImageTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args imageArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	if args.URL == "" || args.Filename == "" {
		return Fail("url and filename are required"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return Fail("invalid url: %v", err), nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Fail("download failed: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail("download failed: status %d", resp.StatusCode), nil
	}

	if err := ensureDir(t.cfg.WorkDir); err != nil {
		return Result{}, err
	}
	outPath := filepath.Join(t.cfg.WorkDir, filepath.Base(args.Filename))
	f, err := os.Create(outPath)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(outPath)
		return Fail("write failed: %v", err), nil
	}
	return Ok(map[string]interface{}{"file": filepath.Base(outPath), "path": outPath}), nil
}
