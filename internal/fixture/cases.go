package fixture

import (
	"fmt"
	"os"
	"testing"

	"gopkg.in/yaml.v3"
)

// Case is one entry of a YAML case table. Parameters fill placeholders in
// a configuration template; Metadata carries the test's own expectations.
type Case[T any] struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Parameters  map[string]string `yaml:"configuration_parameters"`
	Metadata    T                 `yaml:"metadata"`
}

// ParseCases decodes a case table. Names must be present and unique.
func ParseCases[T any](data []byte) ([]Case[T], error) {
	var cases []Case[T]
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parsing cases: %w", err)
	}
	seen := make(map[string]bool, len(cases))
	for i, c := range cases {
		if c.Name == "" {
			return nil, fmt.Errorf("case %d has no name", i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate case name %q", c.Name)
		}
		seen[c.Name] = true
	}
	return cases, nil
}

// LoadCases reads a case table from path.
func LoadCases[T any](path string) ([]Case[T], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cases: %w", err)
	}
	cases, err := ParseCases[T](data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cases, nil
}

// RunCases runs fn as a subtest per case.
func RunCases[T any](t *testing.T, cases []Case[T], fn func(t *testing.T, c Case[T])) {
	t.Helper()
	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			fn(t, c)
		})
	}
}
