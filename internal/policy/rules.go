package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule is one regex-based policy rule matched against command names.
type Rule struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
}

// RulesFile is the YAML schema root.
type RulesFile struct {
	Rules struct {
		Blocked         []Rule `yaml:"blocked"`
		RequireApproval []Rule `yaml:"require_approval"`
	} `yaml:"rules"`
}

type compiledRule struct {
	re     *regexp.Regexp
	reason string
}

// RuleSet holds compiled policy rules.
type RuleSet struct {
	blocked         []compiledRule
	requireApproval []compiledRule
}

// LoadRuleSet reads rules from a YAML file. A missing file falls back
// to the compiled-in defaults; a malformed file is an error.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultRuleSet(), nil
	}

	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy rules %s: %w", path, err)
	}
	if len(file.Rules.Blocked) == 0 && len(file.Rules.RequireApproval) == 0 {
		return DefaultRuleSet(), nil
	}
	return compileRuleSet(file)
}

// DefaultRuleSet is used when no rules file is configured.
func DefaultRuleSet() *RuleSet {
	var file RulesFile
	file.Rules.Blocked = []Rule{
		{Pattern: `reset_project`, Reason: "project resets are never allowed remotely"},
		{Pattern: `wipe`, Reason: "wipe operations are never allowed remotely"},
	}
	file.Rules.RequireApproval = []Rule{
		{Pattern: `^delete_`, Reason: "deletions require approval"},
		{Pattern: `destroy`, Reason: "destructive operations require approval"},
		{Pattern: `^clear_`, Reason: "clear operations require approval"},
		{Pattern: `remove_all`, Reason: "bulk removals require approval"},
		{Pattern: `^reset_`, Reason: "resets require approval"},
	}

	rules, err := compileRuleSet(file)
	if err != nil {
		// Default patterns are static; a compile failure is a bug.
		panic(err)
	}
	return rules
}

// Blocked reports whether the command is forbidden outright.
func (r *RuleSet) Blocked(command string) (string, bool) {
	return match(r.blocked, command)
}

// RequiresApproval reports whether the command must be gated behind a
// preview/approval step.
func (r *RuleSet) RequiresApproval(command string) (string, bool) {
	return match(r.requireApproval, command)
}

func match(rules []compiledRule, command string) (string, bool) {
	for _, rule := range rules {
		if rule.re.MatchString(command) {
			return rule.reason, true
		}
	}
	return "", false
}

func compileRuleSet(file RulesFile) (*RuleSet, error) {
	set := &RuleSet{}
	for _, rule := range file.Rules.Blocked {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("bad blocked pattern %q: %w", rule.Pattern, err)
		}
		set.blocked = append(set.blocked, compiledRule{re: re, reason: rule.Reason})
	}
	for _, rule := range file.Rules.RequireApproval {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("bad approval pattern %q: %w", rule.Pattern, err)
		}
		set.requireApproval = append(set.requireApproval, compiledRule{re: re, reason: rule.Reason})
	}
	return set, nil
}
