package mesh

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/ungerik/go3d/float64/vec3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// ICPConfig holds configuration for the ICP algorithm.
// Distances are in the units of the input clouds (meters after load normalization).
type ICPConfig struct {
	MaxIterations     int     // Maximum number of iterations
	ConvergenceThresh float64 // Stop when mean residual improves by less than this
	MaxCorrespondDist float64 // Ignore pairs farther apart than this (0 disables)
	OutlierPercentile float64 // Keep this fraction of closest pairs per iteration (0-1]
	Verbose           bool    // Log per-iteration residuals
}

// DefaultICPConfig returns the defaults used by the fitting pipeline
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:     100,
		ConvergenceThresh: 0.01,
		MaxCorrespondDist: 0,
		OutlierPercentile: 1.0,
	}
}

// ICPResult contains the result of ICP registration
type ICPResult struct {
	Transform       Transform `json:"transform"`       // Cumulative source -> target transform
	Error           float64   `json:"error"`           // Mean correspondence distance after the last step
	Iterations      int       `json:"iterations"`      // Iterations performed
	Converged       bool      `json:"converged"`       // Stopped on the improvement threshold rather than the cap
	Correspondences int       `json:"correspondences"` // Pairs used in the last step
}

// RegisterPointClouds aligns source onto target with point-to-point ICP, starting
// from initial. Each iteration pairs every transformed source point with its nearest
// target point, fits the least-squares rigid transform for those pairs, and composes it
// onto the running estimate. Iteration stops when the mean residual improves by less
// than cfg.ConvergenceThresh or after cfg.MaxIterations.
//
// Empty clouds return ErrRegistration. A degenerate configuration returns the best
// transform found so far together with ErrDegenerateFit.
func RegisterPointClouds(source, target PointCloud, initial Transform, cfg ICPConfig) (ICPResult, error) {
	result := ICPResult{
		Transform: initial,
		Error:     math.Inf(1),
	}
	if len(source) == 0 || len(target) == 0 {
		return result, fmt.Errorf("%w: empty point cloud (source %d, target %d points)", ErrRegistration, len(source), len(target))
	}
	if cfg.MaxIterations <= 0 {
		return result, fmt.Errorf("%w: max iterations must be positive, got %d", ErrRegistration, cfg.MaxIterations)
	}

	index := newNearestIndex(target)
	current := initial
	prevError := math.Inf(1)

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		result.Iterations = iter + 1

		// Transform source points with current estimate
		transformed := TransformPoints(current, source)

		srcCorr, tgtCorr, distances := index.correspondences(transformed, cfg.MaxCorrespondDist)
		srcCorr, tgtCorr = rejectOutliers(srcCorr, tgtCorr, distances, cfg.OutlierPercentile)
		if len(srcCorr) < 3 {
			return result, fmt.Errorf("%w: only %d correspondences at iteration %d", ErrDegenerateFit, len(srcCorr), iter+1)
		}

		incremental, err := CalculateRigidTransform(srcCorr, tgtCorr)
		if err != nil {
			return result, fmt.Errorf("iteration %d: %w", iter+1, err)
		}

		// Compose: new = incremental * current
		current = Multiply(incremental, current)
		newError := meanPairDistance(incremental, srcCorr, tgtCorr)

		if math.IsNaN(newError) || math.IsInf(newError, 0) {
			return result, fmt.Errorf("%w: non-finite residual at iteration %d", ErrDegenerateFit, iter+1)
		}

		result.Transform = current
		result.Error = newError
		result.Correspondences = len(srcCorr)

		if cfg.Verbose {
			log.Printf("ICP iteration %d: error %.6f (%d pairs)", iter+1, newError, len(srcCorr))
		}

		// Check convergence
		if prevError-newError < cfg.ConvergenceThresh {
			result.Converged = true
			break
		}
		prevError = newError
	}

	return result, nil
}

// IsRegistrationFailure reports whether err came from ICP rather than from invalid input
func IsRegistrationFailure(err error) bool {
	return errors.Is(err, ErrRegistration) || errors.Is(err, ErrDegenerateFit)
}

// meanPairDistance returns the mean distance between t(src[i]) and tgt[i]
func meanPairDistance(t Transform, src, tgt []vec3.T) float64 {
	var sum float64
	for i := range src {
		p := TransformPoint(t, src[i])
		sum += vec3.Distance(&p, &tgt[i])
	}
	return sum / float64(len(src))
}

// CloudDistance returns the mean and maximum distance from each source point to its
// nearest target point
func CloudDistance(source, target PointCloud) (mean, worst float64, err error) {
	if len(source) == 0 || len(target) == 0 {
		return 0, 0, fmt.Errorf("%w: empty point cloud", ErrInvalidInput)
	}
	index := newNearestIndex(target)
	_, _, distances := index.correspondences(source, 0)
	for _, d := range distances {
		mean += d
		worst = math.Max(worst, d)
	}
	return mean / float64(len(distances)), worst, nil
}

// nearestIndex answers nearest-neighbour queries against a fixed cloud
type nearestIndex struct {
	tree *kdtree.Tree
}

// newNearestIndex builds a k-d tree over a copy of points; the tree reorders its input
func newNearestIndex(points PointCloud) *nearestIndex {
	pts := make(kdtree.Points, len(points))
	for i, p := range points {
		pts[i] = kdtree.Point{p[0], p[1], p[2]}
	}
	return &nearestIndex{tree: kdtree.New(pts, false)}
}

// nearest returns the closest indexed point and its distance
func (n *nearestIndex) nearest(p vec3.T) (vec3.T, float64) {
	got, sqDist := n.tree.Nearest(kdtree.Point{p[0], p[1], p[2]})
	q := got.(kdtree.Point)
	return vec3.T{q[0], q[1], q[2]}, math.Sqrt(sqDist)
}

// correspondences finds nearest neighbor pairs and returns distances. maxDist <= 0 keeps every pair.
func (n *nearestIndex) correspondences(source []vec3.T, maxDist float64) (srcCorr, tgtCorr []vec3.T, distances []float64) {
	srcCorr = make([]vec3.T, 0, len(source))
	tgtCorr = make([]vec3.T, 0, len(source))
	distances = make([]float64, 0, len(source))
	for _, sp := range source {
		nearest, d := n.nearest(sp)
		if maxDist > 0 && d > maxDist {
			continue
		}
		srcCorr = append(srcCorr, sp)
		tgtCorr = append(tgtCorr, nearest)
		distances = append(distances, d)
	}
	return
}

// rejectOutliers keeps correspondences with distances at or below the given percentile
func rejectOutliers(srcCorr, tgtCorr []vec3.T, distances []float64, percentile float64) ([]vec3.T, []vec3.T) {
	if len(distances) == 0 || percentile <= 0 || percentile >= 1.0 {
		return srcCorr, tgtCorr
	}

	// Find threshold distance at percentile
	sortedDists := make([]float64, len(distances))
	copy(sortedDists, distances)
	sort.Float64s(sortedDists)

	idx := int(float64(len(sortedDists)) * percentile)
	if idx >= len(sortedDists) {
		idx = len(sortedDists) - 1
	}
	threshold := sortedDists[idx]

	// Filter correspondences
	var filteredSrc, filteredTgt []vec3.T
	for i, d := range distances {
		if d <= threshold {
			filteredSrc = append(filteredSrc, srcCorr[i])
			filteredTgt = append(filteredTgt, tgtCorr[i])
		}
	}

	return filteredSrc, filteredTgt
}
