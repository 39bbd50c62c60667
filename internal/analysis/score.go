package analysis

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/crxlens/crxlens/internal/crx"
)

// Scoring constants. Each requested permission contributes 1 point plus its
// catalogue weight, the raw sum is capped at Ceiling*Divisor and normalized
// by Divisor. Adding a permission can therefore never lower the score.
const (
	DefaultCeiling = 10.0
	DefaultDivisor = 4.0
)

// Policy is the data-driven risk catalogue: permission name to extra weight.
// Permissions outside the catalogue still count toward breadth, just with no
// extra weight.
type Policy struct {
	Weights map[string]float64 `yaml:"weights"`
	Ceiling float64            `yaml:"ceiling"`
	Divisor float64            `yaml:"divisor"`
}

// DefaultPolicy returns the built-in high-risk permission catalogue, all at
// weight 1.
func DefaultPolicy() *Policy {
	risky := []string{
		"tabs",
		"webRequest",
		"webRequestBlocking",
		"nativeMessaging",
		"debugger",
		"proxy",
		"clipboardRead",
		"clipboardWrite",
		"history",
		"geolocation",
		"management",
		"cookies",
		"browsingData",
		"privacy",
		"pageCapture",
		"desktopCapture",
		"declarativeNetRequest",
		"scripting",
		"<all_urls>",
	}
	w := make(map[string]float64, len(risky))
	for _, p := range risky {
		w[p] = 1
	}
	return &Policy{Weights: w, Ceiling: DefaultCeiling, Divisor: DefaultDivisor}
}

// LoadPolicy reads a YAML weight table from path, filling unset ceiling and
// divisor values with the defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if p.Ceiling <= 0 {
		p.Ceiling = DefaultCeiling
	}
	if p.Divisor <= 0 {
		p.Divisor = DefaultDivisor
	}
	for name, w := range p.Weights {
		if w < 0 {
			return nil, fmt.Errorf("policy weight for %q is negative", name)
		}
	}
	return &p, nil
}

// Score computes the permission risk score for a manifest. Pure: the same
// permission set always yields the same score, and an empty set yields 0.
func (p *Policy) Score(m *crx.Manifest) float64 {
	perms := UnionPermissions(m)
	if len(perms) == 0 {
		return 0
	}

	raw := 0.0
	for _, name := range perms {
		raw += 1 + p.Weights[name]
	}

	ceilingRaw := p.Ceiling * p.Divisor
	if raw > ceilingRaw {
		raw = ceilingRaw
	}
	return raw / p.Divisor
}

// UnionPermissions merges required and optional permissions into one sorted,
// de-duplicated set.
func UnionPermissions(m *crx.Manifest) []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{m.Permissions, m.OptionalPermissions} {
		for _, name := range list {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
