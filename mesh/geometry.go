package mesh

import (
	"fmt"
	"math"

	"github.com/ungerik/go3d/float64/vec3"
)

// Clone returns a deep copy of the mesh
func (m *Mesh) Clone() *Mesh {
	if m == nil {
		return nil
	}
	out := &Mesh{
		Name:     m.Name,
		Vertices: make([]vec3.T, len(m.Vertices)),
		Faces:    make([]Face, len(m.Faces)),
	}
	copy(out.Vertices, m.Vertices)
	copy(out.Faces, m.Faces)
	return out
}

// Validate checks that the mesh has at least one face and that all face indices are in range
func (m *Mesh) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: mesh is nil", ErrInvalidInput)
	}
	if len(m.Vertices) == 0 || len(m.Faces) == 0 {
		return fmt.Errorf("%w: mesh %q has %d vertices and %d faces", ErrInvalidInput, m.Name, len(m.Vertices), len(m.Faces))
	}
	n := len(m.Vertices)
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: mesh %q face %d references vertex %d (have %d)", ErrInvalidInput, m.Name, i, idx, n)
			}
		}
	}
	for i, v := range m.Vertices {
		for _, c := range v {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return fmt.Errorf("%w: mesh %q vertex %d is not finite", ErrInvalidInput, m.Name, i)
			}
		}
	}
	return nil
}

// ApplyScale multiplies every vertex componentwise by factors, about the origin.
// Zero and negative factors are applied as given.
func (m *Mesh) ApplyScale(factors []float64) error {
	if len(factors) != 3 {
		return fmt.Errorf("%w: got %d", ErrInvalidScale, len(factors))
	}
	for i := range m.Vertices {
		m.Vertices[i][0] *= factors[0]
		m.Vertices[i][1] *= factors[1]
		m.Vertices[i][2] *= factors[2]
	}
	return nil
}

// ApplyTranslation adds v to every vertex
func (m *Mesh) ApplyTranslation(v vec3.T) {
	for i := range m.Vertices {
		m.Vertices[i].Add(&v)
	}
}

// ApplyTransform maps every vertex through t
func (m *Mesh) ApplyTransform(t Transform) {
	for i := range m.Vertices {
		m.Vertices[i] = TransformPoint(t, m.Vertices[i])
	}
}

// Bounds returns the axis-aligned bounding box corners. An empty mesh returns zero vectors.
func (m *Mesh) Bounds() (lo, hi vec3.T) {
	if len(m.Vertices) == 0 {
		return vec3.T{}, vec3.T{}
	}
	lo, hi = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		for k := 0; k < 3; k++ {
			lo[k] = math.Min(lo[k], v[k])
			hi[k] = math.Max(hi[k], v[k])
		}
	}
	return lo, hi
}

// Extents returns the per-axis size of the bounding box
func (m *Mesh) Extents() vec3.T {
	lo, hi := m.Bounds()
	return vec3.Sub(&hi, &lo)
}

// triangleArea returns the area of face f
func (m *Mesh) triangleArea(f Face) float64 {
	a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
	ab := vec3.Sub(&b, &a)
	ac := vec3.Sub(&c, &a)
	cross := vec3.Cross(&ab, &ac)
	return 0.5 * cross.Length()
}

// Area returns the total surface area
func (m *Mesh) Area() float64 {
	var total float64
	for _, f := range m.Faces {
		total += m.triangleArea(f)
	}
	return total
}

// VertexMean returns the arithmetic mean of all vertices
func (m *Mesh) VertexMean() vec3.T {
	return Centroid(m.Vertices)
}

// Centroid returns the area-weighted centroid of the surface. Each triangle
// contributes its barycenter weighted by its area. Meshes with zero surface
// area fall back to the vertex mean.
func (m *Mesh) Centroid() vec3.T {
	var sum vec3.T
	var total float64
	for _, f := range m.Faces {
		area := m.triangleArea(f)
		if area == 0 {
			continue
		}
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		center := vec3.T{
			(a[0] + b[0] + c[0]) / 3,
			(a[1] + b[1] + c[1]) / 3,
			(a[2] + b[2] + c[2]) / 3,
		}
		sum.Add(center.Scale(area))
		total += area
	}
	if total == 0 {
		return m.VertexMean()
	}
	return sum.Scaled(1 / total)
}

// Merge appends the geometry of others into a new mesh, offsetting face indices
func Merge(name string, parts ...*Mesh) *Mesh {
	out := &Mesh{Name: name}
	for _, p := range parts {
		if p == nil {
			continue
		}
		offset := len(out.Vertices)
		out.Vertices = append(out.Vertices, p.Vertices...)
		for _, f := range p.Faces {
			out.Faces = append(out.Faces, Face{f[0] + offset, f[1] + offset, f[2] + offset})
		}
	}
	return out
}

// String summarises the mesh for logs
func (m *Mesh) String() string {
	e := m.Extents()
	return fmt.Sprintf("%s (%d vertices, %d faces, extents %.3f x %.3f x %.3f)",
		m.Name, len(m.Vertices), len(m.Faces), e[0], e[1], e[2])
}
