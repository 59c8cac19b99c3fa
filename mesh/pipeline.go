package mesh

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/ungerik/go3d/float64/vec3"
)

// zeroExtent is the smallest garment extent that can be scaled to match the body
const zeroExtent = 1e-12

// RegisterFunc performs rigid registration of source onto target
type RegisterFunc func(source, target PointCloud, initial Transform, cfg ICPConfig) (ICPResult, error)

// FitConfig holds the tunable parameters of one Fit call
type FitConfig struct {
	MaxIterations int     // ICP iteration cap
	Threshold     float64 // ICP convergence threshold on mean residual improvement
	SampleCount   int     // Points sampled from each surface for ICP
	Seed          int64   // Seed for surface sampling
	OutlierRatio  float64 // Fraction of closest pairs kept per ICP iteration
	Verbose       bool

	// Registration, when set, is used instead of running ICP (e.g. from the fit cache).
	Registration *Transform
	// Register overrides the registration step; nil uses RegisterPointClouds.
	Register RegisterFunc
}

// DefaultFitConfig returns the standard pipeline parameters
func DefaultFitConfig() FitConfig {
	return FitConfig{
		MaxIterations: 100,
		Threshold:     0.01,
		SampleCount:   5000,
		Seed:          0,
		OutlierRatio:  1.0,
	}
}

// ICPConfig derives the registration settings
func (c FitConfig) ICPConfig() ICPConfig {
	cfg := DefaultICPConfig()
	cfg.MaxIterations = c.MaxIterations
	cfg.ConvergenceThresh = c.Threshold
	if c.OutlierRatio > 0 {
		cfg.OutlierPercentile = c.OutlierRatio
	}
	cfg.Verbose = c.Verbose
	return cfg
}

// Fit places garment onto body:
//  1. scale the garment per axis to the body's extents times the profile's pre-scale ratios
//  2. move its centroid onto the body's, raised by the profile lift times the body height
//  3. refine with rigid ICP between surface samples (identity if registration fails)
//  4. apply the profile's post-scale factors about the origin
//
// The inputs are never modified; the result holds a new garment mesh.
func Fit(body, garment *Mesh, profile GarmentProfile, cfg FitConfig) (*FitResult, error) {
	if err := body.Validate(); err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	if err := garment.Validate(); err != nil {
		return nil, fmt.Errorf("garment: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.SampleCount <= 0 && cfg.Registration == nil {
		return nil, fmt.Errorf("%w: sample count must be positive, got %d", ErrInvalidInput, cfg.SampleCount)
	}

	bodyExtents := body.Extents()
	garmentExtents := garment.Extents()

	var scale vec3.T
	for k := 0; k < 3; k++ {
		if math.Abs(garmentExtents[k]) < zeroExtent {
			return nil, fmt.Errorf("%w: garment %q has zero extent on axis %d (extents %v)",
				ErrDegenerateGeometry, garment.Name, k, garmentExtents)
		}
		scale[k] = bodyExtents[k] / garmentExtents[k] * profile.PreScaleRatios[k]
	}

	work := garment.Clone()
	if err := work.ApplyScale(scale[:]); err != nil {
		return nil, err
	}

	bodyCenter := body.Centroid()
	garmentCenter := work.Centroid()
	translation := vec3.Sub(&bodyCenter, &garmentCenter)
	translation[1] += profile.Lift() * bodyExtents[1]
	work.ApplyTranslation(translation)

	result := &FitResult{
		Body:         body,
		Profile:      profile.Name,
		ScaleFactors: scale,
		Translation:  translation,
		Registration: Identity(),
	}

	if cfg.Registration != nil {
		result.Registration = *cfg.Registration
		result.Cached = true
	} else {
		icp, err := registerGarment(body, work, cfg)
		result.ICP = icp
		if err != nil {
			log.Printf("Warning: %s: using initial alignment (ICP failed): %v", garment.Name, err)
			result.Fallback = true
			result.FallbackReason = err.Error()
		} else {
			result.Registration = icp.Transform
		}
	}

	work.ApplyTransform(result.Registration)
	if err := work.ApplyScale(profile.PostScaleFactors[:]); err != nil {
		return nil, err
	}

	result.Garment = work
	return result, nil
}

// registerGarment samples both surfaces and aligns the garment samples onto the body samples
func registerGarment(body, garment *Mesh, cfg FitConfig) (ICPResult, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))

	bodyPoints, err := SampleSurface(body, cfg.SampleCount, rng)
	if err != nil {
		return ICPResult{Transform: Identity()}, fmt.Errorf("%w: sampling body: %v", ErrRegistration, err)
	}
	garmentPoints, err := SampleSurface(garment, cfg.SampleCount, rng)
	if err != nil {
		return ICPResult{Transform: Identity()}, fmt.Errorf("%w: sampling garment: %v", ErrRegistration, err)
	}

	register := cfg.Register
	if register == nil {
		register = RegisterPointClouds
	}
	return register(garmentPoints, bodyPoints, Identity(), cfg.ICPConfig())
}
