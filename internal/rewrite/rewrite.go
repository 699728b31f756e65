// Package rewrite strips execution-sandbox prefixes from source-file paths.
package rewrite

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// BuildBarnScratchRoot matches the per-job scratch root of a Build Barn
// remote worker, e.g. /worker/build/b301eed7f2bf2fd8/root/local_path.cc.
// Removing it leaves a path relative to the workspace root.
const BuildBarnScratchRoot = `/worker/build/[0-9a-fA-F]{16}/root/`

// virtualIncludes is resolved by following symlinks, never by rules.
const virtualIncludes = "_virtual_includes"

// ErrVirtualIncludeRule is returned when a rule targets virtual-include paths.
var ErrVirtualIncludeRule = errors.New("virtual-include paths are resolved through symlinks, not rewrite rules")

// Spec is the configuration form of a Rule.
type Spec struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// Rule replaces every match of Pattern in a path with Replacement.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// DefaultSpecs returns the built-in registry.
func DefaultSpecs() []Spec {
	return []Spec{
		{Pattern: BuildBarnScratchRoot, Replacement: ""},
	}
}

// RuleSet is an ordered, immutable list of compiled rules. It is safe for
// concurrent use.
type RuleSet struct {
	rules []Rule
}

// Compile compiles specs in order.
func Compile(specs []Spec) (*RuleSet, error) {
	rules := make([]Rule, 0, len(specs))
	for i, s := range specs {
		if strings.TrimSpace(s.Pattern) == "" {
			return nil, fmt.Errorf("rule %d: pattern is required", i)
		}
		if strings.Contains(s.Pattern, virtualIncludes) {
			return nil, fmt.Errorf("rule %d: %w", i, ErrVirtualIncludeRule)
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, Rule{Pattern: re, Replacement: s.Replacement})
	}
	return &RuleSet{rules: rules}, nil
}

// Default returns the compiled built-in registry.
func Default() *RuleSet {
	set, err := Compile(DefaultSpecs())
	if err != nil {
		panic(err)
	}
	return set
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rewrite applies the set to path. A nil set returns path unchanged.
func (s *RuleSet) Rewrite(path string) string {
	if s == nil {
		return path
	}
	return Rewrite(path, s.rules)
}

// RewriteText applies the set to every match in a whole document and
// reports how many matches were replaced. data is not modified.
func (s *RuleSet) RewriteText(data []byte) ([]byte, int) {
	if s == nil {
		return data, 0
	}
	n := 0
	for _, r := range s.rules {
		if m := len(r.Pattern.FindAllIndex(data, -1)); m > 0 {
			n += m
			data = r.Pattern.ReplaceAll(data, []byte(r.Replacement))
		}
	}
	return data, n
}

// Rewrite applies rules to path in order. Each rule replaces all of its
// matches; a path no rule matches is returned unchanged.
func Rewrite(path string, rules []Rule) string {
	for _, r := range rules {
		if r.Pattern == nil {
			continue
		}
		path = r.Pattern.ReplaceAllString(path, r.Replacement)
	}
	return path
}
