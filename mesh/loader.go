package mesh

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// unitThreshold is the median extent above which a mesh is assumed to be in millimeters
const unitThreshold = 10.0

// MeshLoader reads a mesh from a path or URL
type MeshLoader interface {
	Load(path string) (*Mesh, error)
}

// FileLoader loads OBJ, STL and glTF/GLB meshes from disk or http(s) URLs.
// Multi-part files are merged into one mesh.
type FileLoader struct {
	NormalizeUnits bool
	FetchOptions   []FetchOption
}

// NewFileLoader creates a loader; normalize enables millimeter to meter conversion
func NewFileLoader(normalize bool, opts ...FetchOption) *FileLoader {
	return &FileLoader{NormalizeUnits: normalize, FetchOptions: opts}
}

// LoadMesh loads a mesh with unit normalization enabled
func LoadMesh(path string) (*Mesh, error) {
	return NewFileLoader(true).Load(path)
}

// Load implements MeshLoader
func (l *FileLoader) Load(path string) (*Mesh, error) {
	return l.LoadContext(context.Background(), path)
}

// LoadContext loads the mesh at p, downloading it first if p is an http(s) URL
func (l *FileLoader) LoadContext(ctx context.Context, p string) (*Mesh, error) {
	if p == "" {
		return nil, fmt.Errorf("%w: empty path", ErrLoad)
	}

	var (
		m   *Mesh
		err error
	)
	if isRemote(p) {
		m, err = l.loadRemote(ctx, p)
	} else {
		m, err = decodeFile(p)
	}
	if err != nil {
		return nil, err
	}

	if len(m.Faces) == 0 {
		return nil, fmt.Errorf("%w: %s contains no triangles", ErrLoad, p)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, p, err)
	}
	if m.Name == "" {
		m.Name = meshName(p)
	}

	if l.NormalizeUnits {
		if NormalizeUnits(m) {
			log.Printf("Scaled %s by 0.001 (median extent above %.0f, assuming millimeters)", m.Name, unitThreshold)
		}
	}
	return m, nil
}

// loadRemote downloads a mesh into a temporary file with the same extension and decodes it
func (l *FileLoader) loadRemote(ctx context.Context, url string) (*Mesh, error) {
	data, err := FetchMeshWithContext(ctx, url, l.FetchOptions...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	ext := strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0]))
	tmp, err := os.CreateTemp("", "garmentfit-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp file: %v", ErrLoad, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("%w: writing temp file: %v", ErrLoad, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: writing temp file: %v", ErrLoad, err)
	}

	m, err := decodeFile(tmp.Name())
	if err != nil {
		return nil, err
	}
	m.Name = meshName(url)
	return m, nil
}

// decodeFile dispatches on the file extension
func decodeFile(p string) (*Mesh, error) {
	if _, err := os.Stat(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".obj":
		return loadOBJ(p)
	case ".stl":
		return loadSTL(p)
	case ".glb", ".gltf":
		return loadGLTF(p)
	default:
		return nil, fmt.Errorf("%w: unsupported mesh format %q", ErrLoad, ext)
	}
}

// NormalizeUnits scales m by 0.001 when the median of its extents exceeds 10,
// converting millimeter-scale assets to meters. Returns true if it scaled.
func NormalizeUnits(m *Mesh) bool {
	e := m.Extents()
	sorted := []float64{e[0], e[1], e[2]}
	sort.Float64s(sorted)
	if sorted[1] <= unitThreshold {
		return false
	}
	_ = m.ApplyScale([]float64{0.001, 0.001, 0.001})
	return true
}

// SupportedFormats lists the file extensions the loader understands
func SupportedFormats() []string {
	return []string{".obj", ".stl", ".glb", ".gltf"}
}

func isRemote(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// meshName derives a display name from a path or URL
func meshName(p string) string {
	p = strings.SplitN(p, "?", 2)[0]
	base := path.Base(filepath.ToSlash(p))
	return strings.TrimSuffix(base, path.Ext(base))
}
