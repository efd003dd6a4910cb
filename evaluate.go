package syncstate

import (
	"errors"
	"time"
)

// ErrNoEvaluator is returned by Evaluate when WithEvaluator was given a nil
// evaluator, e.g. NewJSEvaluator in a build without the js_eval tag.
var ErrNoEvaluator = errors.New("syncstate: evaluator not configured")

// Evaluate executes expr against a snapshot of the state's entries. Entries
// are bound by name; the expression also sees now, args, metadata, entries
// (every entry, including ones shadowed by those names) and state
// (account_name, account_type, authority and snapshot_id).
func (s *State) Evaluate(expr string) (Response[any], error) {
	return s.EvaluateWith(RuleContext{}, expr)
}

// EvaluateWith executes expr using ctx, falling back to the state snapshot
// when ctx.Snapshot is nil and to the state's ref when ctx.Ref is zero.
func (s *State) EvaluateWith(ctx RuleContext, expr string) (Response[any], error) {
	if expr == "" {
		return Response[any]{}, ErrEmptyExpression
	}
	evaluator, err := s.resolveEvaluator()
	if err != nil {
		return Response[any]{}, err
	}
	if ctx.Snapshot == nil {
		ctx.Snapshot = s.Snapshot()
	}
	ctx = ctx.withDefaultRef(s.ref, s.Meta().SnapshotID).withDefaults()
	return runEvaluation(evaluator, s.cfg.evaluatorLogger(), ctx, expr)
}

func runEvaluation(evaluator Evaluator, logger EvaluatorLogger, ctx RuleContext, expr string) (Response[any], error) {
	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	value, evalErr := evaluator.Evaluate(ctx, expr)
	duration := time.Since(start)
	evalErr = wrapEvaluationError(engine, expr, ctx.stateLabel(), evalErr)
	logger.LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     expr,
		State:    ctx.stateLabel(),
		Duration: duration,
		Err:      evalErr,
	})
	if evalErr != nil {
		return Response[any]{}, evalErr
	}
	return Response[any]{Value: value}, nil
}

func (s *State) resolveEvaluator() (Evaluator, error) {
	s.evalOnce.Do(func() {
		s.evaluator = s.cfg.defaultEvaluator()
	})
	if s.evaluator == nil {
		return nil, ErrNoEvaluator
	}
	return s.evaluator, nil
}

func (cfg stateConfig) defaultEvaluator() Evaluator {
	if cfg.evaluatorSet {
		return cfg.evaluator
	}
	var exprOpts []ExprEvaluatorOption
	if cfg.programCache != nil {
		exprOpts = append(exprOpts, ExprWithProgramCache(cfg.programCache))
	}
	if cfg.functions != nil {
		exprOpts = append(exprOpts, ExprWithFunctionRegistry(cfg.functions))
	}
	return NewExprEvaluator(exprOpts...)
}

// evaluatorEngineName labels errors and log events; evaluators from other
// packages are reported as "custom".
func evaluatorEngineName(e Evaluator) string {
	if named, ok := e.(interface{ engine() string }); ok {
		return named.engine()
	}
	return "custom"
}
