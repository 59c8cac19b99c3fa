package mesh

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/ungerik/go3d/float64/vec3"
)

// SampleSurface draws count points uniformly distributed over the mesh surface.
// Each point first picks a triangle with probability proportional to its area,
// then a uniform barycentric position inside it. The same rng seed yields the same cloud.
func SampleSurface(m *Mesh, count int, rng *rand.Rand) (PointCloud, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: sample count must be positive, got %d", ErrInvalidInput, count)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidInput)
	}

	// Cumulative area table for inverse-CDF triangle selection
	cumulative := make([]float64, len(m.Faces))
	var total float64
	for i, f := range m.Faces {
		total += m.triangleArea(f)
		cumulative[i] = total
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: mesh %q has zero surface area", ErrDegenerateGeometry, m.Name)
	}

	points := make(PointCloud, count)
	for i := range points {
		r := rng.Float64() * total
		// first face whose cumulative area exceeds r; never a zero-area face
		idx := sort.Search(len(cumulative), func(j int) bool { return cumulative[j] > r })
		if idx >= len(cumulative) {
			idx = len(cumulative) - 1
		}
		points[i] = samplePointInTriangle(m, m.Faces[idx], rng)
	}
	return points, nil
}

// samplePointInTriangle returns a uniform random point inside face f.
// Points drawn in the unit parallelogram are folded back into the triangle.
func samplePointInTriangle(m *Mesh, f Face, rng *rand.Rand) vec3.T {
	u := rng.Float64()
	v := rng.Float64()
	if u+v > 1 {
		u = 1 - u
		v = 1 - v
	}
	a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
	ab := vec3.Sub(&b, &a)
	ac := vec3.Sub(&c, &a)
	p := a
	p.Add(ab.Scale(u))
	p.Add(ac.Scale(v))
	return p
}

// VertexCloud returns the mesh vertices as a point cloud (no sampling)
func VertexCloud(m *Mesh) PointCloud {
	out := make(PointCloud, len(m.Vertices))
	copy(out, m.Vertices)
	return out
}
