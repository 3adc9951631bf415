package api

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadWeightsFile reads objective weight overrides from a YAML file of
// lowerCamel weight names to values, e.g.
//
//	fulfilledPerMin: 1.0
//	criticalBoost: 2.5
func LoadWeightsFile(path string) (map[string]float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}
