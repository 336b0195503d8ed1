// Package security implements the 3-stage rule engine run against input
// text, tool-call arguments, and output text: each rule either blocks,
// redacts, or flags, evaluated in rule-id order with a compiled regex
// matcher per rule.
package security

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/lattice-run/lattice/pkg/logger"
)

// Stage is the point in the pipeline a rule applies to.
type Stage string

const (
	StageInput  Stage = "input"
	StageTool   Stage = "tool"
	StageOutput Stage = "output"
)

// Action is what happens when a rule's pattern matches.
type Action string

const (
	ActionBlock  Action = "block"
	ActionRedact Action = "redact"
	ActionFlag   Action = "flag"
)

// RuleSpec is the on-disk/config shape of one rule, before compilation.
type RuleSpec struct {
	ID          string `json:"id"`
	Stage       Stage  `json:"stage"`
	Pattern     string `json:"pattern"`
	Action      Action `json:"action"`
	Replacement string `json:"replacement,omitempty"`
}

// rule is a RuleSpec with its pattern compiled once at load.
type rule struct {
	spec    RuleSpec
	pattern *regexp.Regexp
}

// Engine holds compiled rules, partitioned and ordered by stage.
type Engine struct {
	byStage map[Stage][]rule
}

// Compile builds an Engine from rule specs, compiling every pattern once
// and ordering each stage's rules by rule id.
func Compile(specs []RuleSpec) (*Engine, error) {
	e := &Engine{byStage: map[Stage][]rule{}}
	for _, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, err
		}
		e.byStage[s.Stage] = append(e.byStage[s.Stage], rule{spec: s, pattern: re})
	}
	for stage := range e.byStage {
		rules := e.byStage[stage]
		sort.Slice(rules, func(i, j int) bool { return rules[i].spec.ID < rules[j].spec.ID })
		e.byStage[stage] = rules
	}
	return e, nil
}

// LoadRuleSpecs reads a JSON array of RuleSpec from path. A missing file is
// not an error: it returns DefaultRuleSpecs so a fresh deployment still gets
// baseline input/output coverage without a rules.json present.
func LoadRuleSpecs(path string) ([]RuleSpec, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultRuleSpecs(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("security: read %s: %w", path, err)
	}

	var specs []RuleSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("security: schema: %w", err)
	}
	return specs, nil
}

// DefaultRuleSpecs is the baseline rule set applied when no rules.json is
// configured: block obvious prompt-injection phrases on input, and redact
// bare API-key-shaped tokens from output before they reach a channel.
func DefaultRuleSpecs() []RuleSpec {
	return []RuleSpec{
		{
			ID:      "input-001-prompt-injection",
			Stage:   StageInput,
			Pattern: `(?i)(ignore (all |the )?previous instructions|disregard (all |the )?(prior|previous) instructions|reveal your (system |instructions))`,
			Action:  ActionBlock,
		},
		{
			ID:          "output-001-api-key-redact",
			Stage:       StageOutput,
			Pattern:     `(?i)\b(sk|api)-[a-z0-9]{16,}\b`,
			Action:      ActionRedact,
			Replacement: "[redacted]",
		},
	}
}

// Result is the outcome of evaluating a stage against one piece of text.
type Result struct {
	Blocked       bool
	BlockedRuleID string
	Text          string // possibly redacted
	Flagged       []string
}

// Evaluate runs every rule for stage against text in id order. The first
// block match halts evaluation; redact matches accumulate text mutations;
// flag matches are recorded but never change control flow.
func (e *Engine) Evaluate(stage Stage, text string) Result {
	res := Result{Text: text}
	for _, r := range e.byStage[stage] {
		if !r.pattern.MatchString(res.Text) {
			continue
		}
		switch r.spec.Action {
		case ActionBlock:
			res.Blocked = true
			res.BlockedRuleID = r.spec.ID
			return res
		case ActionRedact:
			res.Text = r.pattern.ReplaceAllString(res.Text, r.spec.Replacement)
		case ActionFlag:
			res.Flagged = append(res.Flagged, r.spec.ID)
			logger.InfoCF("security", "rule flagged", map[string]any{"rule_id": r.spec.ID, "stage": stage})
		}
	}
	return res
}
