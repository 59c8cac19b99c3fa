package mesh

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/ungerik/go3d/float64/vec3"
)

// loadGLTF reads a .gltf or .glb file and flattens every triangle primitive
// reachable from the default scene into one mesh in world coordinates.
func loadGLTF(path string) (*Mesh, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}

	m, err := flattenGLTF(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	m.Name = meshName(path)
	return m, nil
}

// flattenGLTF walks the scene graph, applying node transforms to mesh primitives.
// Documents without scenes have every mesh added untransformed.
func flattenGLTF(doc *gltf.Document) (*Mesh, error) {
	out := &Mesh{}

	var roots []int
	switch {
	case doc.Scene != nil && *doc.Scene < len(doc.Scenes):
		roots = doc.Scenes[*doc.Scene].Nodes
	case len(doc.Scenes) > 0:
		for _, s := range doc.Scenes {
			roots = append(roots, s.Nodes...)
		}
	default:
		for i := range doc.Meshes {
			if err := appendGLTFMesh(doc, out, i, Identity()); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	visited := make(map[int]bool)
	var walk func(idx int, parent Transform) error
	walk = func(idx int, parent Transform) error {
		if idx < 0 || idx >= len(doc.Nodes) {
			return fmt.Errorf("node index %d out of range", idx)
		}
		if visited[idx] {
			return fmt.Errorf("node %d visited twice (cyclic scene graph)", idx)
		}
		visited[idx] = true
		defer delete(visited, idx)

		node := doc.Nodes[idx]
		world := Multiply(parent, nodeTransform(node))
		if node.Mesh != nil {
			if err := appendGLTFMesh(doc, out, *node.Mesh, world); err != nil {
				return err
			}
		}
		for _, child := range node.Children {
			if err := walk(child, world); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := walk(root, Identity()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// appendGLTFMesh adds the triangle primitives of mesh meshIdx, transformed by world
func appendGLTFMesh(doc *gltf.Document, out *Mesh, meshIdx int, world Transform) error {
	if meshIdx < 0 || meshIdx >= len(doc.Meshes) {
		return fmt.Errorf("mesh index %d out of range", meshIdx)
	}
	for pi, prim := range doc.Meshes[meshIdx].Primitives {
		posIdx, ok := prim.Attributes["POSITION"]
		if !ok {
			continue
		}
		positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
		if err != nil {
			return fmt.Errorf("mesh %d primitive %d positions: %w", meshIdx, pi, err)
		}

		var indices []uint32
		if prim.Indices != nil {
			indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
			if err != nil {
				return fmt.Errorf("mesh %d primitive %d indices: %w", meshIdx, pi, err)
			}
		} else {
			indices = make([]uint32, len(positions))
			for i := range indices {
				indices[i] = uint32(i)
			}
		}

		faces, err := primitiveFaces(prim.Mode, indices)
		if err != nil {
			continue // points and lines carry no surface
		}

		offset := len(out.Vertices)
		for _, p := range positions {
			out.Vertices = append(out.Vertices, TransformPoint(world, vec3.T{float64(p[0]), float64(p[1]), float64(p[2])}))
		}
		for _, f := range faces {
			for k := 0; k < 3; k++ {
				if f[k] >= len(positions) {
					return fmt.Errorf("mesh %d primitive %d: index %d out of range", meshIdx, pi, f[k])
				}
			}
			out.Faces = append(out.Faces, Face{f[0] + offset, f[1] + offset, f[2] + offset})
		}
	}
	return nil
}

// primitiveFaces expands an index list into triangles for the triangle modes
func primitiveFaces(mode gltf.PrimitiveMode, idx []uint32) ([]Face, error) {
	var faces []Face
	switch mode {
	case gltf.PrimitiveTriangles:
		for i := 0; i+2 < len(idx); i += 3 {
			faces = append(faces, Face{int(idx[i]), int(idx[i+1]), int(idx[i+2])})
		}
	case gltf.PrimitiveTriangleStrip:
		for i := 0; i+2 < len(idx); i++ {
			if i%2 == 0 {
				faces = append(faces, Face{int(idx[i]), int(idx[i+1]), int(idx[i+2])})
			} else {
				faces = append(faces, Face{int(idx[i+1]), int(idx[i]), int(idx[i+2])})
			}
		}
	case gltf.PrimitiveTriangleFan:
		for i := 1; i+1 < len(idx); i++ {
			faces = append(faces, Face{int(idx[0]), int(idx[i]), int(idx[i+1])})
		}
	default:
		return nil, fmt.Errorf("primitive mode %v has no triangles", mode)
	}
	return faces, nil
}

// nodeTransform returns the node's local transform as T * R * S, or its explicit matrix
func nodeTransform(node *gltf.Node) Transform {
	mat := node.MatrixOrDefault()
	if mat != gltf.DefaultMatrix {
		// glTF matrices are column-major
		var t Transform
		for r := 0; r < 4; r++ {
			for c := 0; c < 4; c++ {
				t[r*4+c] = mat[c*4+r]
			}
		}
		return t
	}

	tr := node.TranslationOrDefault()
	q := node.RotationOrDefault()
	s := node.ScaleOrDefault()

	rot := quaternionTransform(q[0], q[1], q[2], q[3])
	return Multiply(Translation(vec3.T{tr[0], tr[1], tr[2]}), Multiply(rot, Scale(vec3.T{s[0], s[1], s[2]})))
}

// quaternionTransform converts the unit quaternion (x, y, z, w) to a rotation
func quaternionTransform(x, y, z, w float64) Transform {
	return Transform{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w), 0,
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w), 0,
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y), 0,
		0, 0, 0, 1,
	}
}

// SaveGLTF writes the mesh as a single-node glTF document; a .glb path produces the binary form
func SaveGLTF(path string, m *Mesh) error {
	doc := gltf.NewDocument()

	positions := make([][3]float32, len(m.Vertices))
	for i, v := range m.Vertices {
		positions[i] = [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
	}
	indices := make([]uint32, 0, len(m.Faces)*3)
	for _, f := range m.Faces {
		indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}

	posAccessor := modeler.WritePosition(doc, positions)
	idxAccessor := modeler.WriteIndices(doc, indices)

	prim := &gltf.Primitive{Indices: gltf.Index(idxAccessor)}
	prim.Attributes = map[string]int{"POSITION": posAccessor}
	doc.Meshes = []*gltf.Mesh{{Name: m.Name, Primitives: []*gltf.Primitive{prim}}}
	doc.Nodes = []*gltf.Node{{Name: m.Name, Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)

	var err error
	if strings.EqualFold(filepath.Ext(path), ".glb") {
		err = gltf.SaveBinary(doc, path)
	} else {
		err = gltf.Save(doc, path)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// SaveMesh writes m in the format implied by the path's extension (.obj, .glb or .gltf)
func SaveMesh(path string, m *Mesh) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".obj":
		return SaveOBJ(path, m)
	case ".glb", ".gltf":
		return SaveGLTF(path, m)
	default:
		return fmt.Errorf("unsupported output format %q", filepath.Ext(path))
	}
}
