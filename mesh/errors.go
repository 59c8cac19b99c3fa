package mesh

import "errors"

var (
	// ErrInvalidInput reports a missing, empty or malformed mesh or profile.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDegenerateGeometry reports geometry that cannot be scaled or sampled (zero extent, zero area).
	ErrDegenerateGeometry = errors.New("degenerate geometry")
	// ErrRegistration reports that ICP could not run, e.g. on empty point clouds.
	ErrRegistration = errors.New("registration failed")
	// ErrDegenerateFit reports a point configuration with no unique rigid fit.
	ErrDegenerateFit = errors.New("degenerate rigid fit")
	// ErrLoad reports a mesh that could not be read or decoded.
	ErrLoad = errors.New("mesh load failed")
	// ErrInvalidScale reports a scale factor list that is not of length 3.
	ErrInvalidScale = errors.New("scale factors must have length 3")
	// ErrUnknownProfile reports a profile name with no registry entry.
	ErrUnknownProfile = errors.New("unknown garment profile")
)
