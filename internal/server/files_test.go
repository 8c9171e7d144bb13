package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/callsheet/config"
)

func TestFilesListsAssetsAndRenders(t *testing.T) {
	work := t.TempDir()
	renders := t.TempDir()
	if err := os.MkdirAll(filepath.Join(work, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{
		filepath.Join(work, "vo_1.wav"),
		filepath.Join(work, "images", "sky.png"),
		filepath.Join(renders, "final.mp4"),
	} {
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	h := &FilesHandler{Tools: config.ToolsConfig{WorkDir: work, RendersDir: renders}}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	rec := httptest.NewRecorder()
	if err := h.list(e.NewContext(req, rec)); err != nil {
		t.Fatalf("list: %v", err)
	}

	var resp struct {
		Files []fileEntry `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Files) != 3 {
		t.Fatalf("files = %d, want 3", len(resp.Files))
	}
	byPath := map[string]fileEntry{}
	for _, f := range resp.Files {
		byPath[f.Path] = f
	}
	if f, ok := byPath["/assets/images/sky.png"]; !ok || f.Kind != "asset" {
		t.Fatalf("nested asset missing: %+v", resp.Files)
	}
	if f, ok := byPath["/renders/final.mp4"]; !ok || f.Kind != "render" {
		t.Fatalf("render missing: %+v", resp.Files)
	}
}

func TestFilesToleratesMissingDirs(t *testing.T) {
	h := &FilesHandler{Tools: config.ToolsConfig{WorkDir: "does-not-exist", RendersDir: "also-missing"}}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	rec := httptest.NewRecorder()
	if err := h.list(e.NewContext(req, rec)); err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp struct {
		Files []fileEntry `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Files) != 0 {
		t.Fatalf("files = %+v, want empty list", resp.Files)
	}
}
