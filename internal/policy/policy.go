// Copyright 2026 Marcelo Cantos
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/marcelocantos/vssh/internal/pipeline"
)

// Decision represents the outcome of policy evaluation.
type Decision int

const (
	Allow    Decision = iota // command is allowed
	Deny                     // command is blocked
	Escalate                 // no opinion, defer to the next check
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Escalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// Result is a structured policy decision.
type Result struct {
	Decision Decision
	Reason   string // human-readable explanation
	RuleID   string // which rule matched (empty if none)
}

// DeniedError is returned by Check for a Deny decision.
type DeniedError struct {
	RuleID string
	Reason string
}

func (e *DeniedError) Error() string {
	if e.RuleID == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s (%s)", e.Reason, e.RuleID)
}

// Engine runs its rules, then the user's script if one is loaded. The
// first definitive result wins; no opinion means allow.
type Engine struct {
	rules  []Rule
	script *Script
	log    *zap.Logger
}

// New creates an Engine. rules are typically Builtin() or nothing; script
// may be nil.
func New(rules []Rule, script *Script, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{rules: rules, script: script, log: log}
}

// Rules returns the engine's rules for inspection/testing.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate decides whether c may be spawned.
func (e *Engine) Evaluate(c *pipeline.Command) *Result {
	for _, r := range e.rules {
		if result := r.Check(c); result != nil && result.Decision != Escalate {
			return result
		}
	}
	if e.script != nil {
		if result := e.script.Evaluate(c); result != nil && result.Decision != Escalate {
			return result
		}
	}
	return &Result{Decision: Allow, Reason: "no rule matched"}
}

// Check satisfies pipeline.Checker.
func (e *Engine) Check(c *pipeline.Command) error {
	result := e.Evaluate(c)
	e.log.Debug("policy decision",
		zap.Strings("argv", c.Args),
		zap.Stringer("decision", result.Decision),
		zap.String("rule", result.RuleID),
	)
	if result.Decision == Deny {
		return &DeniedError{RuleID: result.RuleID, Reason: result.Reason}
	}
	return nil
}
