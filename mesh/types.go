package mesh

import (
	"github.com/ungerik/go3d/float64/vec3"
)

// Face is a triangle given as three indices into Mesh.Vertices
type Face [3]int

// Mesh is an indexed triangle mesh
type Mesh struct {
	Name     string
	Vertices []vec3.T
	Faces    []Face
}

// PointCloud is an ordered set of 3D points without connectivity
type PointCloud []vec3.T

// Transform is a row-major 4x4 homogeneous matrix. A point p maps to T * [p 1].
type Transform [16]float64

// GarmentProfile holds the empirical fitting ratios for one body/garment category
type GarmentProfile struct {
	Name             string   `yaml:"name,omitempty" json:"name"`
	PreScaleRatios   vec3.T   `yaml:"preScale" json:"preScale"`
	PostScaleFactors vec3.T   `yaml:"postScale" json:"postScale"`
	LiftRatio        *float64 `yaml:"lift,omitempty" json:"lift,omitempty"` // Fraction of body height added to y after centering (default 0.1)
}

// DefaultLiftRatio is the fraction of body height the garment is raised by after centering
const DefaultLiftRatio = 0.1

// Lift returns the lift ratio or DefaultLiftRatio if not set
func (p GarmentProfile) Lift() float64 {
	if p.LiftRatio != nil {
		return *p.LiftRatio
	}
	return DefaultLiftRatio
}

// FitResult is the outcome of one Fit call. It is not modified after Fit returns.
type FitResult struct {
	Garment      *Mesh     // fitted working copy
	Body         *Mesh     // caller's body, untouched
	Profile      string    // profile name used
	ScaleFactors vec3.T    // pre-scale applied in step 1
	Translation  vec3.T    // centering + lift offset
	Registration Transform // rigid transform from ICP (identity on fallback)
	ICP          ICPResult

	// Fallback is true when registration failed and the pre-ICP placement was kept.
	Fallback       bool
	FallbackReason string
	Cached         bool // registration came from FitConfig.Registration
}

// PairConfig names one body/garment pair to fit in batch mode
type PairConfig struct {
	ID      string `yaml:"id" json:"id"`
	Body    string `yaml:"body" json:"body"`
	Garment string `yaml:"garment" json:"garment"`
	Profile string `yaml:"profile" json:"profile"`
}

// FitSettings is the `fit` section of the config file. Zero values select defaults.
type FitSettings struct {
	MaxIterations  int      `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
	Threshold      float64  `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	SampleCount    int      `yaml:"sampleCount,omitempty" json:"sampleCount,omitempty"`
	Seed           *int64   `yaml:"seed,omitempty" json:"seed,omitempty"`
	NormalizeUnits *bool    `yaml:"normalizeUnits,omitempty" json:"normalizeUnits,omitempty"` // Convert mm-scale meshes to meters on load (default true)
	OutlierRatio   *float64 `yaml:"outlierRatio,omitempty" json:"outlierRatio,omitempty"`     // Fraction of correspondences kept per ICP iteration (default 1)
}

// RenderConfig controls preview image output
type RenderConfig struct {
	OutputDir string `yaml:"outputDir,omitempty" json:"outputDir,omitempty"`
	Format    string `yaml:"format,omitempty" json:"format,omitempty"` // "png", "webp" or "svg"
	Size      int    `yaml:"size,omitempty" json:"size,omitempty"`
	View      string `yaml:"view,omitempty" json:"view,omitempty"` // "front" or "side"
}

// Config represents the full configuration file
type Config struct {
	MQTT     MQTTConfig   `yaml:"mqtt" json:"mqtt"`
	Fit      FitSettings  `yaml:"fit" json:"fit"`
	Profiles Profiles     `yaml:"profiles,omitempty" json:"profiles,omitempty"`
	Pairs    []PairConfig `yaml:"pairs,omitempty" json:"pairs,omitempty"`
	Render   RenderConfig `yaml:"render,omitempty" json:"render,omitempty"`
	Workers  int          `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// GetPair returns the pair config for the given ID
func (c *Config) GetPair(id string) *PairConfig {
	for i := range c.Pairs {
		if c.Pairs[i].ID == id {
			return &c.Pairs[i]
		}
	}
	return nil
}

// FitConfig converts the file settings into a pipeline configuration
func (s FitSettings) FitConfig() FitConfig {
	cfg := DefaultFitConfig()
	if s.MaxIterations > 0 {
		cfg.MaxIterations = s.MaxIterations
	}
	if s.Threshold > 0 {
		cfg.Threshold = s.Threshold
	}
	if s.SampleCount > 0 {
		cfg.SampleCount = s.SampleCount
	}
	if s.Seed != nil {
		cfg.Seed = *s.Seed
	}
	if s.OutlierRatio != nil {
		cfg.OutlierRatio = *s.OutlierRatio
	}
	return cfg
}

// GetNormalizeUnits returns whether loaded meshes get unit normalization (default true)
func (s FitSettings) GetNormalizeUnits() bool {
	if s.NormalizeUnits != nil {
		return *s.NormalizeUnits
	}
	return true
}

// CachedFit stores a previously computed registration for one pair.
type CachedFit struct {
	Registration Transform `json:"registration"`
	Error        float64   `json:"error"`
	Iterations   int       `json:"iterations"`
	LastUpdated  int64     `json:"lastUpdated"`
}

// FitCache stores registrations for all known pairs as JSON.
type FitCache struct {
	Entries     map[string]CachedFit `json:"entries"`
	LastUpdated int64                `json:"lastUpdated"`
}
