package mesh

import (
	"fmt"
	"math"
	"sort"

	"github.com/ungerik/go3d/float64/vec3"
)

// Profiles maps profile names to their fitting ratios
type Profiles map[string]GarmentProfile

// DefaultProfiles returns the built-in profiles for the female and male body templates
func DefaultProfiles() Profiles {
	return Profiles{
		"female": {
			Name:             "female",
			PreScaleRatios:   vec3.T{0.71, 0.41, 1.42},
			PostScaleFactors: vec3.T{0.9, 1.04, 1.2},
		},
		"male": {
			Name:             "male",
			PreScaleRatios:   vec3.T{0.79, 0.43, 1.25},
			PostScaleFactors: vec3.T{1, 1.04, 1.3},
		},
	}
}

// Validate checks that every ratio and factor is positive and finite
func (p GarmentProfile) Validate() error {
	for i := 0; i < 3; i++ {
		if !(p.PreScaleRatios[i] > 0) || p.PreScaleRatios[i] > 1e6 {
			return fmt.Errorf("%w: profile %q pre-scale ratio %d is %v", ErrInvalidInput, p.Name, i, p.PreScaleRatios[i])
		}
		if !(p.PostScaleFactors[i] > 0) || p.PostScaleFactors[i] > 1e6 {
			return fmt.Errorf("%w: profile %q post-scale factor %d is %v", ErrInvalidInput, p.Name, i, p.PostScaleFactors[i])
		}
	}
	if l := p.Lift(); math.IsNaN(l) || math.IsInf(l, 0) {
		return fmt.Errorf("%w: profile %q lift is not finite", ErrInvalidInput, p.Name)
	}
	return nil
}

// Lookup returns the named profile
func (p Profiles) Lookup(name string) (GarmentProfile, error) {
	profile, ok := p[name]
	if !ok {
		return GarmentProfile{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownProfile, name, p.Names())
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return profile, nil
}

// Names returns the profile names in sorted order
func (p Profiles) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge returns a copy of p with overrides added or replacing existing entries
func (p Profiles) Merge(overrides Profiles) Profiles {
	out := make(Profiles, len(p)+len(overrides))
	for name, profile := range p {
		out[name] = profile
	}
	for name, profile := range overrides {
		if profile.Name == "" {
			profile.Name = name
		}
		out[name] = profile
	}
	return out
}

// LookupProfile returns a built-in profile by name
func LookupProfile(name string) (GarmentProfile, error) {
	return DefaultProfiles().Lookup(name)
}
