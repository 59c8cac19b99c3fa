package mesh

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/ungerik/go3d/float64/vec3"
)

func TestSampleSurface_CountAndBounds(t *testing.T) {
	m := newBox("box", vec3.T{1, 2, 3}, vec3.T{2, 4, 1})
	rng := rand.New(rand.NewSource(1234))

	cloud, err := SampleSurface(m, 500, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cloud) != 500 {
		t.Fatalf("got %d points, want 500", len(cloud))
	}

	lo, hi := m.Bounds()
	for i, p := range cloud {
		for k := 0; k < 3; k++ {
			if p[k] < lo[k]-1e-9 || p[k] > hi[k]+1e-9 {
				t.Fatalf("point %d = %v outside bounds [%v, %v]", i, p, lo, hi)
			}
		}
	}
}

func TestSampleSurface_PointsLieOnSurface(t *testing.T) {
	m := newQuad(3)
	cloud, err := SampleSurface(m, 200, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, p := range cloud {
		if p[2] != 0 {
			t.Fatalf("point %d = %v is off the z=0 plane", i, p)
		}
		if p[0] < 0 || p[0] > 3 || p[1] < 0 || p[1] > 3 {
			t.Fatalf("point %d = %v is outside the quad", i, p)
		}
	}
}

func TestSampleSurface_Deterministic(t *testing.T) {
	m := newBox("box", vec3.T{}, vec3.T{1, 2, 3})

	a, err := SampleSurface(m, 100, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := SampleSurface(m, 100, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("point %d differs across identical seeds: %v vs %v", i, a[i], b[i])
		}
	}

	c, _ := SampleSurface(m, 100, rand.New(rand.NewSource(100)))
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical clouds")
	}
}

func TestSampleSurface_AreaWeighted(t *testing.T) {
	// Two disjoint triangles, the second with 9x the area of the first
	m := &Mesh{
		Vertices: []vec3.T{
			{0, 0, 0}, {1, 0, 0}, {0, 1, 0},
			{10, 0, 0}, {13, 0, 0}, {10, 3, 0},
		},
		Faces: []Face{{0, 1, 2}, {3, 4, 5}},
	}
	cloud, err := SampleSurface(m, 10000, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var large int
	for _, p := range cloud {
		if p[0] >= 10 {
			large++
		}
	}
	frac := float64(large) / float64(len(cloud))
	if math.Abs(frac-0.9) > 0.02 {
		t.Errorf("fraction on large triangle = %.3f, want ~0.9", frac)
	}
}

func TestSampleSurface_SkipsZeroAreaFaces(t *testing.T) {
	m := &Mesh{
		Vertices: []vec3.T{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {0, 1, 0}, {5, 5, 5}},
		Faces:    []Face{{0, 1, 2}, {0, 1, 3}, {4, 4, 4}},
	}
	cloud, err := SampleSurface(m, 300, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, p := range cloud {
		if p[1] < 0 || p[0]+p[1] > 1+1e-9 || p[2] != 0 {
			t.Fatalf("point %d = %v not on the only non-degenerate face", i, p)
		}
	}
}

func TestSampleSurface_Errors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	flat := &Mesh{
		Vertices: []vec3.T{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}},
		Faces:    []Face{{0, 1, 2}},
	}

	tests := []struct {
		name    string
		mesh    *Mesh
		count   int
		rng     *rand.Rand
		wantErr error
	}{
		{"zero count", newQuad(1), 0, rng, ErrInvalidInput},
		{"negative count", newQuad(1), -5, rng, ErrInvalidInput},
		{"nil mesh", nil, 10, rng, ErrInvalidInput},
		{"empty mesh", &Mesh{}, 10, rng, ErrInvalidInput},
		{"nil rng", newQuad(1), 10, nil, ErrInvalidInput},
		{"zero area", flat, 10, rng, ErrDegenerateGeometry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SampleSurface(tt.mesh, tt.count, tt.rng)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVertexCloud(t *testing.T) {
	m := newQuad(1)
	cloud := VertexCloud(m)
	cloud[0] = vec3.T{9, 9, 9}
	if m.Vertices[0] != (vec3.T{}) {
		t.Error("VertexCloud shares storage with the mesh")
	}
}
