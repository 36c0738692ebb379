// Package cel evaluates the CEL expressions attached to CEL_EXPR rules
// (spec §4.2). It follows the Environment/Program-cache pattern of
// Mindburn-Labs-helm's CELPolicyEvaluator, constrained to the read-only
// activation the Policy Engine is allowed to expose.
package cel

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/northpolesec/santa-sub009/internal/target"
)

// maxEvalSteps bounds CEL evaluation cost so that a malicious or malformed
// program cannot stall the Dispatcher's AUTH deadline (spec §4.2).
const maxEvalSteps = 10000

// Verdict is how the engine interprets a CEL program's result.
type Verdict int

const (
	// Fallthrough means the rule does not apply; the Policy Engine proceeds
	// to the next precedence level.
	Fallthrough Verdict = iota
	// AppliesAsStated means the rule's own Policy field decides the outcome.
	AppliesAsStated
	// ForceAllow/ForceBlock come from a program that itself evaluated to the
	// string "ALLOWLIST"/"BLOCKLIST".
	ForceAllow
	ForceBlock
)

// Engine compiles and caches CEL programs for rule.CELExpr rules.
type Engine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEngine builds the CEL environment exposing the read-only facts named
// in spec §4.2: target.* fields and argv.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("target", cel.DynType),
		cel.Variable("args", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Engine{env: env, programs: make(map[string]cel.Program)}, nil
}

func activation(t *target.Target) map[string]any {
	return map[string]any{
		"target": map[string]any{
			"file_sha256":   t.FileSHA256,
			"cdhash":        t.CDHash,
			"signing_id":    t.SigningID,
			"team_id":       t.TeamID,
			"signing_time":  t.SigningTime.Unix(),
			"path":          t.Path,
			"executing_uid": t.ExecutingUID,
			"bundle_id":     t.BundleID,
		},
		"args": t.Argv,
	}
}

// Evaluate runs the given CEL source (a rule's CELProgram) against a
// Target's read-only facts. Evaluation is side-effect free; exceeding the
// step budget is treated as Fallthrough per spec §4.2, not an error.
func (e *Engine) Evaluate(program []byte, t *target.Target) (Verdict, error) {
	prg, err := e.compiled(string(program))
	if err != nil {
		// A malformed program never applies; it does not abort the decision.
		return Fallthrough, nil
	}

	out, _, err := prg.Eval(activation(t))
	if err != nil {
		// Step-budget/interrupt errors and runtime errors alike: the rule
		// does not apply (spec §4.2).
		return Fallthrough, nil
	}

	switch v := out.Value().(type) {
	case bool:
		if v {
			return AppliesAsStated, nil
		}
		return Fallthrough, nil
	case string:
		switch v {
		case "ALLOWLIST":
			return ForceAllow, nil
		case "BLOCKLIST":
			return ForceBlock, nil
		default:
			return Fallthrough, nil
		}
	default:
		return Fallthrough, nil
	}
}

func (e *Engine) compiled(src string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[src]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[src]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(maxEvalSteps),
	)
	if err != nil {
		return nil, err
	}
	e.programs[src] = p
	return p, nil
}
