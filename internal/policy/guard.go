package policy

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/troupe-sh/troupe/pkg/schema"
)

// guardCache caches compiled when-guard programs. Guards are evaluated on
// every transition validation, so compilation is amortized across steps.
var guardCache = struct {
	mu    sync.RWMutex
	progs map[string]*vm.Program
}{progs: make(map[string]*vm.Program)}

// evalGuard evaluates a rule's when expression against the emitted
// transition. The environment exposes tag, target, attrs and payload.
func evalGuard(expression string, tr schema.Transition) (bool, error) {
	prg, err := compileGuard(expression)
	if err != nil {
		return false, err
	}

	attrs := make(map[string]any, len(tr.Attrs))
	for k, v := range tr.Attrs {
		attrs[k] = v
	}
	env := map[string]any{
		"tag":     string(tr.Tag),
		"target":  tr.Target,
		"attrs":   attrs,
		"payload": tr.Payload,
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"policy guard %q failed: %s", expression, err.Error()).WithCause(err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"policy guard %q did not evaluate to a boolean", expression)
	}
	return ok, nil
}

func compileGuard(expression string) (*vm.Program, error) {
	guardCache.mu.RLock()
	if prg, ok := guardCache.progs[expression]; ok {
		guardCache.mu.RUnlock()
		return prg, nil
	}
	guardCache.mu.RUnlock()

	guardCache.mu.Lock()
	defer guardCache.mu.Unlock()
	if prg, ok := guardCache.progs[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"policy guard compile error in %q: %s", expression, err.Error()).WithCause(err)
	}
	guardCache.progs[expression] = prg
	return prg, nil
}
