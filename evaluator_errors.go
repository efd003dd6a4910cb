package syncstate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyExpression is returned when an expression or policy rule is blank.
var ErrEmptyExpression = errors.New("syncstate: expression must not be empty")

// EvaluationError reports an expression that failed to compile or run.
// State is the ref label of the sync state involved; it is empty when a
// policy fails to compile.
type EvaluationError struct {
	Engine  string
	Expr    string
	State   string
	Compile bool
	Err     error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	phase := "evaluator"
	if e.Compile {
		phase = "compile"
	}
	fmt.Fprintf(&b, "syncstate: %s %s ", e.Engine, phase)
	if e.Expr == "" {
		b.WriteString("expr=<empty>")
	} else {
		fmt.Fprintf(&b, "expr=%q", e.Expr)
	}
	if e.State != "" {
		b.WriteString(" state=" + e.State)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// wrapEvaluatorError prefixes err with the engine unless it already carries
// the package prefix.
func wrapEvaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) || strings.HasPrefix(err.Error(), "syncstate:") {
		return err
	}
	return fmt.Errorf("syncstate: %s evaluator: %w", engine, err)
}

func compileError(engine, expr string, err error) error {
	if err == nil {
		return nil
	}
	return &EvaluationError{Engine: engine, Expr: expr, Compile: true, Err: err}
}

// wrapEvaluationError attaches engine, expression and state to err, filling
// only the blanks of an existing EvaluationError.
func wrapEvaluationError(engine, expr, state string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		return &EvaluationError{Engine: engine, Expr: expr, State: state, Err: err}
	}
	if evalErr.Engine == "" {
		evalErr.Engine = engine
	}
	if evalErr.Expr == "" {
		evalErr.Expr = expr
	}
	if evalErr.State == "" {
		evalErr.State = state
	}
	return evalErr
}
