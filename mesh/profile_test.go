package mesh

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ungerik/go3d/float64/vec3"
)

func TestDefaultProfiles(t *testing.T) {
	profiles := DefaultProfiles()

	female, err := profiles.Lookup("female")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if female.PreScaleRatios != (vec3.T{0.71, 0.41, 1.42}) {
		t.Errorf("female pre-scale = %v", female.PreScaleRatios)
	}
	if female.PostScaleFactors != (vec3.T{0.9, 1.04, 1.2}) {
		t.Errorf("female post-scale = %v", female.PostScaleFactors)
	}

	male, err := profiles.Lookup("male")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if male.PreScaleRatios != (vec3.T{0.79, 0.43, 1.25}) {
		t.Errorf("male pre-scale = %v", male.PreScaleRatios)
	}
	if male.PostScaleFactors != (vec3.T{1, 1.04, 1.3}) {
		t.Errorf("male post-scale = %v", male.PostScaleFactors)
	}

	for _, name := range profiles.Names() {
		p := profiles[name]
		if err := p.Validate(); err != nil {
			t.Errorf("built-in profile %q invalid: %v", name, err)
		}
		if p.Lift() != DefaultLiftRatio {
			t.Errorf("profile %q lift = %v, want %v", name, p.Lift(), DefaultLiftRatio)
		}
	}
}

func TestLookupProfile_Unknown(t *testing.T) {
	_, err := LookupProfile("child")
	if !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("error = %v, want ErrUnknownProfile", err)
	}
	assert.Contains(t, err.Error(), "female")
}

func TestGarmentProfile_Validate(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name    string
		profile GarmentProfile
		wantErr bool
	}{
		{"valid", GarmentProfile{PreScaleRatios: vec3.T{1, 1, 1}, PostScaleFactors: vec3.T{1, 1, 1}}, false},
		{"zero pre-scale", GarmentProfile{PreScaleRatios: vec3.T{1, 0, 1}, PostScaleFactors: vec3.T{1, 1, 1}}, true},
		{"negative post-scale", GarmentProfile{PreScaleRatios: vec3.T{1, 1, 1}, PostScaleFactors: vec3.T{1, 1, -2}}, true},
		{"NaN ratio", GarmentProfile{PreScaleRatios: vec3.T{nan, 1, 1}, PostScaleFactors: vec3.T{1, 1, 1}}, true},
		{"NaN lift", GarmentProfile{PreScaleRatios: vec3.T{1, 1, 1}, PostScaleFactors: vec3.T{1, 1, 1}, LiftRatio: &nan}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error %v does not wrap ErrInvalidInput", err)
			}
		})
	}
}

func TestProfiles_Merge(t *testing.T) {
	lift := 0.05
	overrides := Profiles{
		"male": {PreScaleRatios: vec3.T{0.8, 0.45, 1.3}, PostScaleFactors: vec3.T{1, 1, 1}},
		"kids": {PreScaleRatios: vec3.T{0.6, 0.4, 1.1}, PostScaleFactors: vec3.T{1, 1, 1}, LiftRatio: &lift},
	}

	defaults := DefaultProfiles()
	merged := defaults.Merge(overrides)

	assert.Equal(t, []string{"female", "kids", "male"}, merged.Names())
	assert.Equal(t, vec3.T{0.8, 0.45, 1.3}, merged["male"].PreScaleRatios)
	assert.Equal(t, "kids", merged["kids"].Name)
	assert.Equal(t, 0.05, merged["kids"].Lift())
	// The receiver is left untouched
	assert.Equal(t, vec3.T{0.79, 0.43, 1.25}, defaults["male"].PreScaleRatios)
}
