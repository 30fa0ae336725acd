// Package scenario holds the static description of a single admission game:
// the capacity to fill, the per-attribute quotas that must be met, and any
// prior statistics the server volunteered about the arrival distribution.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Attribute is an opaque symbolic attribute identifier. The set of
// attributes used by a scenario is fixed once the scenario is constructed.
type Attribute string

// Constraint is a single per-attribute minimum admit count.
type Constraint struct {
	Attribute Attribute `json:"attribute" yaml:"attribute"`
	MinCount  int       `json:"minCount" yaml:"minCount"`
}

// Scenario bundles the capacity, constraints and optional priors for one game.
type Scenario struct {
	GameID      string       `json:"gameId" yaml:"gameId"`
	Capacity    int          `json:"capacity" yaml:"capacity"`
	Constraints []Constraint `json:"constraints" yaml:"constraints"`

	// RelativeFrequencies and Correlations are optional priors reported by
	// the server at game start. Nil/empty when the server provides none.
	RelativeFrequencies map[Attribute]float64               `json:"relativeFrequencies,omitempty" yaml:"relativeFrequencies,omitempty"`
	Correlations        map[Attribute]map[Attribute]float64 `json:"correlations,omitempty" yaml:"correlations,omitempty"`
}

// MinCounts returns the minimum-count requirement for each constrained
// attribute, keyed by attribute (use Attributes for declaration order).
func (s Scenario) MinCounts() map[Attribute]int {
	m := make(map[Attribute]int, len(s.Constraints))
	for _, c := range s.Constraints {
		m[c.Attribute] = c.MinCount
	}
	return m
}

// Attributes returns the constrained attribute set in declaration order.
func (s Scenario) Attributes() []Attribute {
	attrs := make([]Attribute, len(s.Constraints))
	for i, c := range s.Constraints {
		attrs[i] = c.Attribute
	}
	return attrs
}

// Candidate is a single arrival: a strictly increasing index and its
// boolean attribute vector.
type Candidate struct {
	Index      int                  `json:"index"`
	Attributes map[Attribute]bool   `json:"attributes"`
}

// HasAttribute reports whether the candidate carries attribute a.
func (c Candidate) HasAttribute(a Attribute) bool {
	return c.Attributes[a]
}

// Decision is the irrevocable accept/reject verdict for one candidate.
type Decision string

const (
	Accept Decision = "accept"
	Reject Decision = "reject"
)

// LoadFile reads a YAML scenario override from path. Used with
// --scenario for dry runs and reconstruction fixtures against a fixed
// scenario instead of whatever newGame would report live, the same
// "config file overlays defaults" idiom the core's flag/env layering
// otherwise uses for everything else.
func LoadFile(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	return sc, nil
}
