package attestation

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// PolicyEngine evaluates CEL measurement policies with a compiled program cache.
// Policies see two dynamic variables: claims (GPU token claims) and quote
// (TDX quote body fields).
type PolicyEngine struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

func NewPolicyEngine() (*PolicyEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("claims", cel.DynType),
		cel.Variable("quote", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &PolicyEngine{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Compile validates a policy expression and caches its program.
func (e *PolicyEngine) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Evaluate runs expr against input. Undeclared variables are bound to empty maps.
func (e *PolicyEngine) Evaluate(expr string, input map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	vars := map[string]any{"claims": map[string]any{}, "quote": map[string]any{}}
	for k, v := range input {
		vars[k] = v
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy %q did not return a boolean", expr)
	}
	return allowed, nil
}

func (e *PolicyEngine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Double check
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = p
	return p, nil
}
