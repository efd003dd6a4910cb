package syncstate

import (
	"fmt"
	"strings"
	"time"
)

// Policy is a named boolean rule compiled once and checked against any
// number of sync states, e.g. "needs_full_sync" with
// `now - last_full_sync > duration("24h")`.
type Policy struct {
	name   string
	expr   string
	engine string
	rule   CompiledRule
	logger EvaluatorLogger
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithPolicyLogger records every check of the policy.
func WithPolicyLogger(logger EvaluatorLogger) PolicyOption {
	return func(p *Policy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPolicy compiles expr with evaluator. A nil evaluator selects the expr
// engine.
func NewPolicy(name, expr string, evaluator Evaluator, opts ...PolicyOption) (*Policy, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("syncstate: policy name must not be empty")
	}
	if evaluator == nil {
		evaluator = NewExprEvaluator()
	}
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("syncstate: policy %q: %w", name, ErrEmptyExpression)
	}
	engine := evaluatorEngineName(evaluator)
	rule, err := evaluator.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("syncstate: policy %q: %w", name, wrapEvaluationError(engine, expr, "", err))
	}
	p := &Policy{
		name:   name,
		expr:   expr,
		engine: engine,
		rule:   rule,
		logger: noopEvaluatorLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Name is the label used in errors, logs and the HTTP policies route.
func (p *Policy) Name() string {
	return p.name
}

func (p *Policy) Expr() string {
	return p.expr
}

// Check evaluates the policy against the entries of r.
func (p *Policy) Check(r Reader) (bool, error) {
	return p.CheckWith(RuleContext{}, r)
}

// CheckWith evaluates the policy with explicit args, metadata or clock. The
// snapshot and ref of r fill whatever ctx leaves empty.
func (p *Policy) CheckWith(ctx RuleContext, r Reader) (bool, error) {
	if r != nil {
		if ctx.Snapshot == nil {
			ctx.Snapshot = SnapshotOf(r)
		}
		snapshotID := ""
		if withMeta, ok := r.(interface{ Meta() Meta }); ok {
			snapshotID = withMeta.Meta().SnapshotID
		}
		ctx = ctx.withDefaultRef(r.Ref(), snapshotID)
	}
	ctx = ctx.withDefaults()

	start := time.Now()
	value, err := p.rule.Evaluate(ctx)
	duration := time.Since(start)
	err = wrapEvaluationError(p.engine, p.expr, ctx.stateLabel(), err)
	var result bool
	if err == nil {
		var ok bool
		result, ok = value.(bool)
		if !ok {
			err = wrapEvaluationError(p.engine, p.expr, ctx.stateLabel(), fmt.Errorf("policy %q returned %T, want bool", p.name, value))
		}
	}
	p.logger.LogEvaluation(EvaluatorLogEvent{
		Engine:   p.engine,
		Policy:   p.name,
		Expr:     p.expr,
		State:    ctx.stateLabel(),
		Duration: duration,
		Err:      err,
	})
	if err != nil {
		return false, err
	}
	return result, nil
}
