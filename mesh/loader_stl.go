package mesh

import (
	"fmt"

	"github.com/philipparndt/gostl/pkg/stl"
	"github.com/ungerik/go3d/float64/vec3"
)

// loadSTL reads an ASCII or binary STL file. STL stores unindexed triangles,
// so coincident corners are welded into shared vertices.
func loadSTL(path string) (*Mesh, error) {
	model, err := stl.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}

	m := &Mesh{Name: meshName(path)}
	if model.Name != "" {
		m.Name = model.Name
	}

	welded := make(map[vec3.T]int, len(model.Triangles))
	index := func(v vec3.T) int {
		if i, ok := welded[v]; ok {
			return i
		}
		i := len(m.Vertices)
		m.Vertices = append(m.Vertices, v)
		welded[v] = i
		return i
	}

	m.Faces = make([]Face, 0, len(model.Triangles))
	for _, tri := range model.Triangles {
		a := index(vec3.T{tri.V1.X, tri.V1.Y, tri.V1.Z})
		b := index(vec3.T{tri.V2.X, tri.V2.Y, tri.V2.Z})
		c := index(vec3.T{tri.V3.X, tri.V3.Y, tri.V3.Z})
		m.Faces = append(m.Faces, Face{a, b, c})
	}
	return m, nil
}
