package trust

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// OverrideEngine lets an operator load named Rego modules that can
// suppress EnforceByScore's side effects for a single call without
// ever touching the persisted score. Grounded on the teacher's
// OPAEngine (opa_engine.go): same ast.Compiler/rego.New shape, reduced
// to the one query this domain needs.
type OverrideEngine struct {
	mu       sync.RWMutex
	modules  map[string]*ast.Module
	compiler *ast.Compiler
}

// NewOverrideEngine returns an engine with no policies loaded — in
// that state Evaluate always allows, so EnforceByScore behaves exactly
// like the unmodified spec.md §4.3 table.
func NewOverrideEngine() *OverrideEngine {
	return &OverrideEngine{modules: make(map[string]*ast.Module)}
}

// Validate parses name/source without installing it, so a malformed
// policy is rejected at load time and never reaches the hot path.
// Grounded on OPAEngine.ValidateRego.
func (e *OverrideEngine) Validate(name, source string) error {
	_, err := ast.ParseModule(name, source)
	if err != nil {
		return clara.WrapError(clara.KindInvalidState, "Validate", "invalid rego module "+name, err)
	}
	return nil
}

// Load installs name as an active override module, replacing any
// earlier module of the same name, mirroring OPAEngine.AddPolicy.
func (e *OverrideEngine) Load(name, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	parsed, err := ast.ParseModule(name, source)
	if err != nil {
		return clara.WrapError(clara.KindInvalidState, "Load", "invalid rego module "+name, err)
	}

	modules := make(map[string]*ast.Module, len(e.modules)+1)
	for k, v := range e.modules {
		modules[k] = v
	}
	modules[name] = parsed

	compiler := ast.NewCompiler()
	compiler.Compile(modules)
	if compiler.Failed() {
		return clara.NewError(clara.KindInvalidState, "Load", fmt.Sprintf("failed to compile override modules: %v", compiler.Errors))
	}

	e.modules = modules
	e.compiler = compiler
	return nil
}

// Remove deletes name and recompiles the remaining modules.
func (e *OverrideEngine) Remove(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.modules, name)
	if len(e.modules) == 0 {
		e.compiler = nil
		return
	}
	compiler := ast.NewCompiler()
	compiler.Compile(e.modules)
	if !compiler.Failed() {
		e.compiler = compiler
	}
}

// overrideInput is what every loaded module sees as `input`.
type overrideInput struct {
	Package  string `json:"package"`
	Score    int    `json:"score"`
	Status   string `json:"status"`
	Decision string `json:"decision"`
}

// Evaluate runs every loaded module's `data.<module>.allow` rule and
// returns false only if at least one module explicitly denies;
// with no modules loaded it always returns true (additive-only, per
// SPEC_FULL's POLICY OVERRIDES section).
func (e *OverrideEngine) Evaluate(ctx context.Context, rec clara.AppTrustRecord, decision enforcementDecision) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.compiler == nil || len(e.modules) == 0 {
		return true, nil
	}

	input := overrideInput{
		Package:  rec.Package,
		Score:    rec.Score,
		Status:   string(rec.Status),
		Decision: decisionName(decision),
	}

	for name := range e.modules {
		r := rego.New(
			rego.Query(fmt.Sprintf("data.%s.allow", name)),
			rego.Compiler(e.compiler),
			rego.Input(input),
		)
		rs, err := r.Eval(ctx)
		if err != nil {
			return true, clara.WrapError(clara.KindInternal, "Evaluate", "rego eval failed for "+name, err)
		}
		if len(rs) == 0 || len(rs[0].Expressions) == 0 {
			continue
		}
		if allow, ok := rs[0].Expressions[0].Value.(bool); ok && !allow {
			return false, nil
		}
	}
	return true, nil
}

func decisionName(d enforcementDecision) string {
	switch d {
	case decisionNone:
		return "none"
	case decisionFuzzLocationAndRevokeFineLocation:
		return "fuzz_location"
	case decisionRevokeSensitivePermissions:
		return "revoke_sensitive_permissions"
	case decisionQuarantineAndStop:
		return "quarantine_and_stop"
	default:
		return "unknown"
	}
}
