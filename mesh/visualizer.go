package mesh

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Visualizer presents a scene. Implementations decide how (file, window, ...).
type Visualizer interface {
	Show(items []SceneItem, title string) (string, error)
}

// ImageVisualizer writes each scene to an image file in OutputDir
type ImageVisualizer struct {
	OutputDir string
	Format    string // "png", "webp" or "svg"
	Size      int
	View      string
}

// NewImageVisualizer creates a visualizer from the render settings, filling in defaults
func NewImageVisualizer(cfg RenderConfig) *ImageVisualizer {
	v := &ImageVisualizer{
		OutputDir: cfg.OutputDir,
		Format:    strings.ToLower(cfg.Format),
		Size:      cfg.Size,
		View:      cfg.View,
	}
	if v.OutputDir == "" {
		v.OutputDir = "."
	}
	if v.Format == "" {
		v.Format = "png"
	}
	if v.Size <= 0 {
		v.Size = DefaultRenderSize
	}
	if v.View == "" {
		v.View = ViewFront
	}
	return v
}

// Show renders the scene to <OutputDir>/<title>.<format> and returns the path
func (v *ImageVisualizer) Show(items []SceneItem, title string) (string, error) {
	if err := os.MkdirAll(v.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	path := filepath.Join(v.OutputDir, fileSlug(title)+"."+v.Format)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}

	if err := RenderScene(f, items, title, v.Format, v.Size, v.View); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// RenderScene writes the scene in the given format: png or webp through the
// raster renderer, svg through the vector renderer
func RenderScene(w io.Writer, items []SceneItem, title, format string, size int, view string) error {
	if size <= 0 {
		size = DefaultRenderSize
	}
	if view == "" {
		view = ViewFront
	}

	switch strings.ToLower(format) {
	case "png", "":
		r := NewRasterRenderer(items, title)
		r.Size, r.View = size, view
		return r.EncodePNG(w)
	case "webp":
		r := NewRasterRenderer(items, title)
		r.Size, r.View = size, view
		return r.EncodeWebP(w)
	case "svg":
		r := NewVectorRenderer(items)
		r.Size, r.View = float64(size), view
		return r.RenderToSVG(w)
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}
}

// fileSlug turns a title into a file name: lowercase, runs of other characters become '-'
func fileSlug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.Trim(b.String(), "-.")
	if s == "" {
		return "scene"
	}
	return s
}
