package matching

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/policy.yaml
var policyYAML embed.FS

// Weights are the points each signal contributes to a match score.
type Weights struct {
	Category        float64 `yaml:"category"`
	Skills          float64 `yaml:"skills"` // scaled by the share of required skills covered
	LocationCity    float64 `yaml:"location_city"`
	LocationCountry float64 `yaml:"location_country"`
	Availability    float64 `yaml:"availability"`
}

// Policy is the tunable part of the matcher.
type Policy struct {
	Weights      Weights `yaml:"weights"`
	UrgencyBoost float64 `yaml:"urgency_boost"`
	MinScore     float64 `yaml:"min_score"`
	DefaultLimit int     `yaml:"default_limit"`
	MaxLimit     int     `yaml:"max_limit"`
	NotifyLimit  int     `yaml:"notify_limit"`
}

func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			Category:        30,
			Skills:          30,
			LocationCity:    20,
			LocationCountry: 10,
			Availability:    20,
		},
		UrgencyBoost: 5,
		MinScore:     1,
		DefaultLimit: 10,
		MaxLimit:     100,
		NotifyLimit:  200,
	}
}

// LoadPolicy reads a scoring policy. An empty path loads the embedded default.
// Environment variables inside the file are expanded (e.g. ${MATCH_MIN_SCORE}).
func LoadPolicy(path string) (Policy, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = policyYAML.ReadFile("config/policy.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	policy := DefaultPolicy()
	if err := yaml.Unmarshal([]byte(expanded), &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}

	return policy, nil
}

func (p Policy) Validate() error {
	w := p.Weights
	for name, v := range map[string]float64{
		"category":         w.Category,
		"skills":           w.Skills,
		"location_city":    w.LocationCity,
		"location_country": w.LocationCountry,
		"availability":     w.Availability,
		"urgency_boost":    p.UrgencyBoost,
		"min_score":        p.MinScore,
	} {
		if v < 0 {
			return fmt.Errorf("policy: %s must not be negative", name)
		}
	}
	if p.DefaultLimit <= 0 || p.MaxLimit <= 0 || p.NotifyLimit <= 0 {
		return fmt.Errorf("policy: limits must be positive")
	}
	if p.DefaultLimit > p.MaxLimit {
		return fmt.Errorf("policy: default_limit %d exceeds max_limit %d", p.DefaultLimit, p.MaxLimit)
	}
	return nil
}

func (p Policy) normalizeLimit(limit int) int {
	if limit <= 0 {
		return p.DefaultLimit
	}
	if limit > p.MaxLimit {
		return p.MaxLimit
	}
	return limit
}
