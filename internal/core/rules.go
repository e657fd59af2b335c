package core

import "context"

// Check is a single consistency check evaluated over a store snapshot.
type Check interface {
	Name() string
	Evaluate(ctx context.Context, view *KnowledgeStore) (Result, error)
}

// RulesEngine runs consistency checks in registration order and accumulates
// their violations; no check short-circuits another.
type RulesEngine struct {
	checks []Check
}

// NewRulesEngine constructs an engine with no checks.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// NewDefaultRulesEngine builds the engine with the built-in checks in their
// reporting order.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewSchemaCheck())
	engine.Register(NewDuplicateRuleCheck())
	engine.Register(NewConflictingConclusionCheck())
	engine.Register(NewDanglingDiseaseCheck())
	engine.Register(NewDanglingSymptomCheck())
	return engine
}

// Register appends a check to the engine.
func (e *RulesEngine) Register(check Check) {
	e.checks = append(e.checks, check)
}

// Checks returns the registered check names in order.
func (e *RulesEngine) Checks() []string {
	names := make([]string, 0, len(e.checks))
	for _, c := range e.checks {
		names = append(names, c.Name())
	}
	return names
}

// Evaluate executes all registered checks and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view *KnowledgeStore) (Result, error) {
	var combined Result
	for _, check := range e.checks {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := check.Evaluate(ctx, view)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
