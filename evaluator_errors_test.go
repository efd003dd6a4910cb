package syncstate

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapEvaluationErrorCreatesMetadata(t *testing.T) {
	base := errors.New("boom")
	err := wrapEvaluationError("expr", "sync_token != nil && missing", "com.example/alice/calendar", base)

	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T", err)
	}
	if evalErr.Engine != "expr" {
		t.Fatalf("expected engine expr, got %q", evalErr.Engine)
	}
	if evalErr.Expr != "sync_token != nil && missing" {
		t.Fatalf("expected expression metadata, got %q", evalErr.Expr)
	}
	if evalErr.State != "com.example/alice/calendar" {
		t.Fatalf("expected state metadata, got %q", evalErr.State)
	}
	if !errors.Is(evalErr.Err, base) {
		t.Fatalf("wrapped error should unwrap to base error")
	}
	want := `syncstate: expr evaluator expr="sync_token != nil && missing" state=com.example/alice/calendar: boom`
	if err.Error() != want {
		t.Fatalf("unexpected message:\nwant: %s\n got: %s", want, err.Error())
	}
}

func TestWrapEvaluationErrorAugmentsExisting(t *testing.T) {
	base := errors.New("compile failure")
	existing := &EvaluationError{
		Engine: "expr",
		Err:    base,
	}

	err := wrapEvaluationError("cel", "rule", "com.example/bob/contacts", existing)
	if !errors.Is(err, base) {
		t.Fatalf("expected base error to unwrap")
	}
	if existing.Engine != "expr" {
		t.Fatalf("existing engine should not be overwritten, got %q", existing.Engine)
	}
	if existing.Expr != "rule" {
		t.Fatalf("expression should be filled, got %q", existing.Expr)
	}
	if existing.State != "com.example/bob/contacts" {
		t.Fatalf("state should be filled, got %q", existing.State)
	}
}

func TestWrapEvaluatorErrorPrefixesOnce(t *testing.T) {
	err := wrapEvaluatorError("cel", errors.New("boom"))
	if err.Error() != "syncstate: cel evaluator: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	again := wrapEvaluatorError("cel", err)
	if strings.Count(again.Error(), "syncstate:") != 1 {
		t.Fatalf("expected single prefix, got %q", again.Error())
	}
	if wrapEvaluatorError("cel", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}

func TestCompileErrorOmitsState(t *testing.T) {
	err := compileError("cel", "page >", errors.New("syntax error"))
	if err.Error() != `syncstate: cel compile expr="page >": syntax error` {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || !evalErr.Compile {
		t.Fatalf("expected compile EvaluationError, got %v", err)
	}
	if compileError("cel", "x", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}
