package mesh

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported preview formats
var renderFormats = map[string]bool{"png": true, "webp": true, "svg": true}

// LoadConfig loads the configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the fit settings, profiles, pairs and render options
func (c *Config) Validate() error {
	if c.Fit.MaxIterations < 0 {
		return fmt.Errorf("fit.maxIterations must not be negative")
	}
	if c.Fit.Threshold < 0 {
		return fmt.Errorf("fit.threshold must not be negative")
	}
	if c.Fit.SampleCount < 0 {
		return fmt.Errorf("fit.sampleCount must not be negative")
	}
	if r := c.Fit.OutlierRatio; r != nil && (*r <= 0 || *r > 1) {
		return fmt.Errorf("fit.outlierRatio must be in (0, 1], got %v", *r)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}

	for name, p := range c.Profiles {
		if p.Name == "" {
			p.Name = name
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profiles.%s: %w", name, err)
		}
	}

	profiles := c.EffectiveProfiles()
	seen := make(map[string]bool, len(c.Pairs))
	for i, pair := range c.Pairs {
		if pair.ID == "" {
			return fmt.Errorf("pairs[%d].id is required", i)
		}
		if seen[pair.ID] {
			return fmt.Errorf("pairs[%d].id %q is duplicated", i, pair.ID)
		}
		seen[pair.ID] = true
		if pair.Body == "" {
			return fmt.Errorf("pairs[%d].body is required for %s", i, pair.ID)
		}
		if pair.Garment == "" {
			return fmt.Errorf("pairs[%d].garment is required for %s", i, pair.ID)
		}
		if _, err := profiles.Lookup(pair.Profile); err != nil {
			return fmt.Errorf("pairs[%d] (%s): %w", i, pair.ID, err)
		}
	}

	if f := c.Render.Format; f != "" && !renderFormats[strings.ToLower(f)] {
		return fmt.Errorf("render.format %q is not one of png, webp, svg", f)
	}
	if v := c.Render.View; v != "" && v != ViewFront && v != ViewSide {
		return fmt.Errorf("render.view %q is not one of %s, %s", v, ViewFront, ViewSide)
	}
	if c.Render.Size < 0 {
		return fmt.Errorf("render.size must not be negative")
	}
	return nil
}

// ValidateForService checks the settings required to run the MQTT service
func (c *Config) ValidateForService() error {
	if c.MQTT.Broker == "" && os.Getenv("MQTT_BROKER") == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	return nil
}

// EffectiveProfiles returns the built-in profiles overlaid with those from the file
func (c *Config) EffectiveProfiles() Profiles {
	return DefaultProfiles().Merge(c.Profiles)
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ParsePairSpec parses the --pair CLI flag format "ID=BODY,GARMENT,PROFILE"
func ParsePairSpec(spec string) (PairConfig, error) {
	id, rest, ok := strings.Cut(spec, "=")
	if !ok || id == "" {
		return PairConfig{}, fmt.Errorf("pair %q: expected ID=BODY,GARMENT,PROFILE", spec)
	}
	parts := strings.Split(rest, ",")
	if len(parts) != 3 {
		return PairConfig{}, fmt.Errorf("pair %q: expected 3 comma-separated fields, got %d", spec, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return PairConfig{}, fmt.Errorf("pair %q: field %d is empty", spec, i+1)
		}
	}
	return PairConfig{ID: strings.TrimSpace(id), Body: parts[0], Garment: parts[1], Profile: parts[2]}, nil
}
