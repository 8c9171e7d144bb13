package server

import (
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/callsheet/config"
)

// FilesHandler lists the assets and renders produced so far.
type FilesHandler struct {
	Tools config.ToolsConfig
}

func (h *FilesHandler) Register(g *echo.Group) {
	g.GET("/files", h.list)
}

type fileEntry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Kind     string    `json:"kind"` // asset or render
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func (h *FilesHandler) list(c echo.Context) error {
	var entries []fileEntry
	for _, dir := range []struct {
		root, kind, prefix string
	}{
		{h.Tools.WorkDir, "asset", "/assets/"},
		{h.Tools.RendersDir, "render", "/renders/"},
	} {
		found, err := listDir(dir.root, dir.kind, dir.prefix)
		if err != nil {
			return err
		}
		entries = append(entries, found...)
	}
	if entries == nil {
		entries = []fileEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"files": entries})
}

func listDir(root, kind, prefix string) ([]fileEntry, error) {
	var entries []fileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, fileEntry{
			Name:     d.Name(),
			Path:     prefix + filepath.ToSlash(rel),
			Kind:     kind,
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return entries, err
}
