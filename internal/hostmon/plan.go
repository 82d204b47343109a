package hostmon

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Expectation is one message a host's log must show. Timeout zero means
// the policy default.
type Expectation struct {
	Regex    string
	Timeout  time.Duration
	Optional bool
}

// Plan maps host names to the messages expected from them, in order.
type Plan map[string][]Expectation

// UnmarshalYAML accepts timeouts either as whole seconds or as a Go
// duration string ("90s", "2m").
func (e *Expectation) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Regex    string    `yaml:"regex"`
		Timeout  yaml.Node `yaml:"timeout"`
		Optional bool      `yaml:"optional"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	e.Regex = raw.Regex
	e.Optional = raw.Optional
	e.Timeout = 0

	if raw.Timeout.Kind == 0 || raw.Timeout.Value == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(raw.Timeout.Value, 64); err == nil {
		e.Timeout = time.Duration(secs * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(raw.Timeout.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid timeout %q", raw.Timeout.Line, raw.Timeout.Value)
	}
	e.Timeout = d
	return nil
}

// MarshalYAML writes the timeout as a duration string.
func (e Expectation) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{"regex": e.Regex}
	if e.Timeout > 0 {
		out["timeout"] = e.Timeout.String()
	}
	if e.Optional {
		out["optional"] = true
	}
	return out, nil
}

// ParsePlan decodes and validates a messages document.
func ParsePlan(data []byte) (Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// LoadPlan reads a messages file.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	plan, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// Validate checks that every host has at least one expectation and that
// every regex compiles.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return errors.New("plan has no hosts")
	}
	var errs []error
	for _, host := range p.Hosts() {
		exps := p[host]
		if len(exps) == 0 {
			errs = append(errs, fmt.Errorf("host %s: no expectations", host))
		}
		for i, exp := range exps {
			if exp.Regex == "" {
				errs = append(errs, fmt.Errorf("host %s expectation %d: empty regex", host, i))
				continue
			}
			if _, err := regexp.Compile(exp.Regex); err != nil {
				errs = append(errs, fmt.Errorf("host %s expectation %d: %w", host, i, err))
			}
			if exp.Timeout < 0 {
				errs = append(errs, fmt.Errorf("host %s expectation %d: negative timeout", host, i))
			}
		}
	}
	return errors.Join(errs...)
}

// Hosts returns the plan's host names sorted.
func (p Plan) Hosts() []string {
	hosts := make([]string, 0, len(p))
	for h := range p {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
