package mesh

import (
	"fmt"
	"math"

	"github.com/ungerik/go3d/float64/vec3"
	"gonum.org/v1/gonum/mat"
)

// Identity returns the identity transform
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation creates a translation-only transform
func Translation(v vec3.T) Transform {
	t := Identity()
	t[3], t[7], t[11] = v[0], v[1], v[2]
	return t
}

// Scale creates a per-axis scaling transform about the origin
func Scale(s vec3.T) Transform {
	t := Identity()
	t[0], t[5], t[10] = s[0], s[1], s[2]
	return t
}

// RotationAxisAngle creates a rotation of angle radians about axis (Rodrigues' formula).
// A zero axis yields the identity.
func RotationAxisAngle(axis vec3.T, angle float64) Transform {
	l := axis.Length()
	if l < 1e-12 {
		return Identity()
	}
	x, y, z := axis[0]/l, axis[1]/l, axis[2]/l
	c := math.Cos(angle)
	s := math.Sin(angle)
	k := 1 - c
	return Transform{
		c + x*x*k, x*y*k - z*s, x*z*k + y*s, 0,
		y*x*k + z*s, c + y*y*k, y*z*k - x*s, 0,
		z*x*k - y*s, z*y*k + x*s, c + z*z*k, 0,
		0, 0, 0, 1,
	}
}

// Multiply composes two transforms: result = a * b.
// Applying result is equivalent to applying b first, then a.
func Multiply(a, b Transform) Transform {
	var r Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[i*4+k] * b[k*4+j]
			}
			r[i*4+j] = sum
		}
	}
	return r
}

// TransformPoint applies t to a point, dividing by w when the transform is projective
func TransformPoint(t Transform, p vec3.T) vec3.T {
	x := t[0]*p[0] + t[1]*p[1] + t[2]*p[2] + t[3]
	y := t[4]*p[0] + t[5]*p[1] + t[6]*p[2] + t[7]
	z := t[8]*p[0] + t[9]*p[1] + t[10]*p[2] + t[11]
	w := t[12]*p[0] + t[13]*p[1] + t[14]*p[2] + t[15]
	if w != 1 && w != 0 {
		return vec3.T{x / w, y / w, z / w}
	}
	return vec3.T{x, y, z}
}

// TransformPoints applies t to every point and returns a new slice
func TransformPoints(t Transform, points []vec3.T) []vec3.T {
	result := make([]vec3.T, len(points))
	for i, p := range points {
		result[i] = TransformPoint(t, p)
	}
	return result
}

// Rotation returns the upper-left 3x3 block, row-major
func (t Transform) Rotation() [9]float64 {
	return [9]float64{
		t[0], t[1], t[2],
		t[4], t[5], t[6],
		t[8], t[9], t[10],
	}
}

// TranslationPart returns the translation column
func (t Transform) TranslationPart() vec3.T {
	return vec3.T{t[3], t[7], t[11]}
}

// InvertRigid inverts a rotation + translation transform: [R t]^-1 = [R^T -R^T t]
func InvertRigid(t Transform) Transform {
	inv := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv[i*4+j] = t[j*4+i]
		}
	}
	tr := t.TranslationPart()
	for i := 0; i < 3; i++ {
		inv[i*4+3] = -(inv[i*4]*tr[0] + inv[i*4+1]*tr[1] + inv[i*4+2]*tr[2])
	}
	return inv
}

// Det3 returns the determinant of the rotation block
func (t Transform) Det3() float64 {
	return t[0]*(t[5]*t[10]-t[6]*t[9]) -
		t[1]*(t[4]*t[10]-t[6]*t[8]) +
		t[2]*(t[4]*t[9]-t[5]*t[8])
}

// IsRigid reports whether t is a proper rotation plus translation within tol:
// R*R^T = I, det(R) = +1 and the bottom row is (0, 0, 0, 1).
func (t Transform) IsRigid(tol float64) bool {
	r := t.Rotation()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += r[i*3+k] * r[j*3+k]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	if math.Abs(t.Det3()-1) > tol {
		return false
	}
	return math.Abs(t[12]) <= tol && math.Abs(t[13]) <= tol && math.Abs(t[14]) <= tol && math.Abs(t[15]-1) <= tol
}

// RotationAngle returns the rotation magnitude of t in degrees
func (t Transform) RotationAngle() float64 {
	cos := (t[0] + t[5] + t[10] - 1) / 2
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// ApproxEqual reports whether every element of a and b differs by at most tol
func ApproxEqual(a, b Transform, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// Centroid calculates the arithmetic mean of a set of points
func Centroid(points []vec3.T) vec3.T {
	if len(points) == 0 {
		return vec3.T{}
	}
	var sum vec3.T
	for i := range points {
		sum.Add(&points[i])
	}
	return sum.Scaled(1 / float64(len(points)))
}

// rankTolerance is the smallest allowed ratio of the second to the first
// singular value of the cross-covariance before a fit is treated as degenerate.
const rankTolerance = 1e-9

// CalculateRigidTransform computes the least-squares rotation + translation mapping
// source onto target (Kabsch). The cross-covariance is decomposed with an SVD and the
// rotation is corrected to det = +1 so reflections are never returned.
// Returns ErrDegenerateFit when the points are coincident or collinear.
func CalculateRigidTransform(source, target []vec3.T) (Transform, error) {
	n := len(source)
	if n != len(target) {
		return Identity(), fmt.Errorf("%w: %d source points vs %d target points", ErrInvalidInput, n, len(target))
	}
	if n < 3 {
		return Identity(), fmt.Errorf("%w: need at least 3 point pairs, got %d", ErrDegenerateFit, n)
	}

	srcCentroid := Centroid(source)
	tgtCentroid := Centroid(target)

	// H = sum (s - cs)(t - ct)^T
	h := mat.NewDense(3, 3, nil)
	for i := range source {
		s := vec3.Sub(&source[i], &srcCentroid)
		t := vec3.Sub(&target[i], &tgtCentroid)
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+s[r]*t[c])
			}
		}
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if v := h.At(r, c); math.IsNaN(v) || math.IsInf(v, 0) {
				return Identity(), fmt.Errorf("%w: non-finite cross-covariance", ErrDegenerateFit)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return Identity(), fmt.Errorf("%w: SVD did not converge", ErrDegenerateFit)
	}
	values := svd.Values(nil)
	if values[0] < 1e-18 || values[1] < rankTolerance*values[0] {
		return Identity(), fmt.Errorf("%w: cross-covariance rank < 2 (singular values %.3g, %.3g)",
			ErrDegenerateFit, values[0], values[1])
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * diag(1, 1, d) * U^T with d fixing reflections
	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := 1.0
	if mat.Det(&vut) < 0 {
		d = -1
	}
	diag := [3]float64{1, 1, d}

	result := Identity()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += v.At(r, k) * diag[k] * u.At(c, k)
			}
			result[r*4+c] = sum
		}
	}

	// t = ct - R * cs
	rotated := TransformPoint(result, srcCentroid)
	result[3] = tgtCentroid[0] - rotated[0]
	result[7] = tgtCentroid[1] - rotated[1]
	result[11] = tgtCentroid[2] - rotated[2]

	return result, nil
}
