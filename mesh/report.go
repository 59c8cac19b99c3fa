package mesh

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// FitReport is the JSON summary of one fitted pair
type FitReport struct {
	ID              string     `json:"id"`
	Body            string     `json:"body"`
	Garment         string     `json:"garment"`
	Profile         string     `json:"profile"`
	BodyExtents     [3]float64 `json:"bodyExtents"`
	GarmentExtents  [3]float64 `json:"garmentExtents"` // after fitting
	ScaleFactors    [3]float64 `json:"scaleFactors"`
	Translation     [3]float64 `json:"translation"`
	Registration    *Transform `json:"registration,omitempty"`
	RotationDegrees float64    `json:"rotationDegrees"`
	ICPError        *float64   `json:"icpError,omitempty"` // nil when ICP did not run or produced no residual
	Iterations      int        `json:"iterations"`
	Converged       bool       `json:"converged"`
	Fallback        bool       `json:"fallback"`
	FallbackReason  string     `json:"fallbackReason,omitempty"`
	Cached          bool       `json:"cached"`
	Error           string     `json:"error,omitempty"`
	DurationMs      int64      `json:"durationMs"`
	Timestamp       int64      `json:"timestamp"`
}

// NewFitReport summarizes a fit. err is the pair's failure, if any; res may be nil when err is set.
func NewFitReport(id string, pair PairConfig, res *FitResult, err error, elapsed time.Duration) FitReport {
	r := FitReport{
		ID:         id,
		Body:       pair.Body,
		Garment:    pair.Garment,
		Profile:    pair.Profile,
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  time.Now().Unix(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	if res == nil {
		return r
	}

	if res.Profile != "" {
		r.Profile = res.Profile
	}
	if res.Body != nil {
		r.BodyExtents = res.Body.Extents()
	}
	if res.Garment != nil {
		r.GarmentExtents = res.Garment.Extents()
	}
	r.ScaleFactors = res.ScaleFactors
	r.Translation = res.Translation

	reg := res.Registration
	r.Registration = &reg
	r.RotationDegrees = reg.RotationAngle()

	if e := res.ICP.Error; res.ICP.Iterations > 0 && !math.IsInf(e, 0) && !math.IsNaN(e) {
		r.ICPError = &e
	}
	r.Iterations = res.ICP.Iterations
	r.Converged = res.ICP.Converged
	r.Fallback = res.Fallback
	r.FallbackReason = res.FallbackReason
	r.Cached = res.Cached
	return r
}

// OK reports whether the pair was fitted without error
func (r FitReport) OK() bool {
	return r.Error == ""
}

// Status is a one-word outcome for logs and listings
func (r FitReport) Status() string {
	switch {
	case r.Error != "":
		return "failed"
	case r.Fallback:
		return "fallback"
	case r.Cached:
		return "cached"
	default:
		return "fitted"
	}
}

// String formats the report as a single log line
func (r FitReport) String() string {
	if r.Error != "" {
		return fmt.Sprintf("%s: failed: %s", r.ID, r.Error)
	}
	residual := "n/a"
	if r.ICPError != nil {
		residual = fmt.Sprintf("%.5f", *r.ICPError)
	}
	return fmt.Sprintf("%s: %s (profile %s, scale [%.3f %.3f %.3f], rotation %.2f°, residual %s, %d iterations, %dms)",
		r.ID, r.Status(), r.Profile,
		r.ScaleFactors[0], r.ScaleFactors[1], r.ScaleFactors[2],
		r.RotationDegrees, residual, r.Iterations, r.DurationMs)
}

// MarshalReports encodes reports as indented JSON
func MarshalReports(reports []FitReport) ([]byte, error) {
	if reports == nil {
		reports = []FitReport{}
	}
	return json.MarshalIndent(reports, "", "  ")
}
