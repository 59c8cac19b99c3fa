package mesh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ungerik/go3d/float64/vec3"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func floatPtr(v float64) *float64 { return &v }

func validConfigYAML() string {
	return `mqtt:
  broker: tcp://localhost:1883
  publishPrefix: garmentfit
  clientId: garmentfit-test
fit:
  maxIterations: 50
  threshold: 0.005
  sampleCount: 2000
  seed: 7
profiles:
  petite:
    preScale: [0.65, 0.4, 1.3]
    postScale: [0.9, 1.0, 1.1]
    lift: 0.08
pairs:
  - id: female-tshirt
    body: bodies/female.glb
    garment: garments/tshirt.glb
    profile: female
  - id: petite-tshirt
    body: bodies/petite.obj
    garment: garments/tshirt.glb
    profile: petite
render:
  outputDir: out
  format: webp
  size: 512
  view: side
workers: 2
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want 'not found'", err)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeConfig(t, validConfigYAML())

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q, want %q", cfg.MQTT.Broker, "tcp://localhost:1883")
	}
	if len(cfg.Pairs) != 2 {
		t.Fatalf("len(Pairs) = %d, want 2", len(cfg.Pairs))
	}
	if cfg.Pairs[1].Profile != "petite" {
		t.Errorf("Pairs[1].Profile = %q, want petite", cfg.Pairs[1].Profile)
	}
	if cfg.Render.Format != "webp" || cfg.Render.Size != 512 || cfg.Render.View != ViewSide {
		t.Errorf("Render = %+v", cfg.Render)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}

	petite := cfg.Profiles["petite"]
	if petite.PreScaleRatios != (vec3.T{0.65, 0.4, 1.3}) {
		t.Errorf("petite pre-scale = %v", petite.PreScaleRatios)
	}
	if petite.Lift() != 0.08 {
		t.Errorf("petite lift = %v, want 0.08", petite.Lift())
	}

	fit := cfg.Fit.FitConfig()
	if fit.MaxIterations != 50 || fit.Threshold != 0.005 || fit.SampleCount != 2000 || fit.Seed != 7 {
		t.Errorf("FitConfig() = %+v", fit)
	}
	if !cfg.Fit.GetNormalizeUnits() {
		t.Error("GetNormalizeUnits() should default to true")
	}
}

func TestFitSettings_Defaults(t *testing.T) {
	fit := FitSettings{}.FitConfig()
	want := DefaultFitConfig()
	if fit.MaxIterations != want.MaxIterations || fit.Threshold != want.Threshold || fit.SampleCount != want.SampleCount {
		t.Errorf("FitConfig() = %+v, want defaults %+v", fit, want)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "negative iterations",
			yaml: `fit:
  maxIterations: -1
`,
		},
		{
			name: "outlier ratio out of range",
			yaml: `fit:
  outlierRatio: 1.5
`,
		},
		{
			name: "pair missing id",
			yaml: `pairs:
  - body: b.obj
    garment: g.obj
    profile: male
`,
		},
		{
			name: "pair missing garment",
			yaml: `pairs:
  - id: p1
    body: b.obj
    profile: male
`,
		},
		{
			name: "duplicate pair id",
			yaml: `pairs:
  - {id: p1, body: b.obj, garment: g.obj, profile: male}
  - {id: p1, body: c.obj, garment: g.obj, profile: female}
`,
		},
		{
			name: "unknown profile",
			yaml: `pairs:
  - {id: p1, body: b.obj, garment: g.obj, profile: child}
`,
		},
		{
			name: "invalid custom profile",
			yaml: `profiles:
  broken:
    preScale: [0, 1, 1]
    postScale: [1, 1, 1]
`,
		},
		{
			name: "unsupported render format",
			yaml: `render:
  format: gif
`,
		},
		{
			name: "unsupported view",
			yaml: `render:
  view: top
`,
		},
		{
			name: "malformed yaml",
			yaml: "fit: [",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := LoadConfig(path)
			if err == nil {
				t.Errorf("expected validation error for %q, got nil", tc.name)
			}
		})
	}
}

func TestConfig_ValidateForService(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	cfg := &Config{}
	if err := cfg.ValidateForService(); err == nil {
		t.Error("expected error without broker")
	}

	t.Setenv("MQTT_BROKER", "tcp://env:1883")
	if err := cfg.ValidateForService(); err != nil {
		t.Errorf("broker from environment should satisfy validation: %v", err)
	}
}

// ---------------------------------------------------------------------------
// SaveConfig
// ---------------------------------------------------------------------------

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")

	original := &Config{
		MQTT: MQTTConfig{
			Broker:        "tcp://localhost:1883",
			PublishPrefix: "garmentfit",
			ClientID:      "test-client",
		},
		Profiles: Profiles{
			"tall": {PreScaleRatios: vec3.T{0.8, 0.5, 1.2}, PostScaleFactors: vec3.T{1, 1.1, 1}, LiftRatio: floatPtr(0.12)},
		},
		Pairs: []PairConfig{
			{ID: "p1", Body: "b.obj", Garment: "g.stl", Profile: "tall"},
		},
	}

	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	// Round-trip: LoadConfig must succeed and reproduce the data
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig after save: %v", err)
	}
	if loaded.MQTT.Broker != original.MQTT.Broker {
		t.Errorf("Broker = %q, want %q", loaded.MQTT.Broker, original.MQTT.Broker)
	}
	if got := loaded.Profiles["tall"]; got.PostScaleFactors != (vec3.T{1, 1.1, 1}) || got.Lift() != 0.12 {
		t.Errorf("profile round-trip mismatch: %+v", got)
	}
	if len(loaded.Pairs) != 1 || loaded.GetPair("p1") == nil {
		t.Errorf("Pairs round-trip mismatch: %+v", loaded.Pairs)
	}
	if loaded.GetPair("missing") != nil {
		t.Error("GetPair(missing) should be nil")
	}
}

// ---------------------------------------------------------------------------
// ParsePairSpec
// ---------------------------------------------------------------------------

func TestParsePairSpec(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		got, err := ParsePairSpec("f1=body.glb, shirt.obj ,female")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := PairConfig{ID: "f1", Body: "body.glb", Garment: "shirt.obj", Profile: "female"}
		if got != want {
			t.Errorf("ParsePairSpec() = %+v, want %+v", got, want)
		}
	})

	for _, spec := range []string{"", "noequals", "=a,b,c", "id=a,b", "id=a,,c", "id=a,b,c,d"} {
		t.Run("invalid "+spec, func(t *testing.T) {
			if _, err := ParsePairSpec(spec); err == nil {
				t.Errorf("ParsePairSpec(%q) expected error", spec)
			}
		})
	}
}
