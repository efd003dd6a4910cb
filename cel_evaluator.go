package syncstate

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

const (
	celEngine = "cel"
	// callMaxArgs bounds the arity of call(name, args...) overloads.
	callMaxArgs = 4
)

// CELEvaluatorOption configures the CEL evaluator.
type CELEvaluatorOption func(*celEvaluator)

// CELWithProgramCache wires a ProgramCache into the CEL evaluator.
func CELWithProgramCache(cache ProgramCache) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry exposes registry through call(name, args...).
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEvaluatorOption {
	return func(e *celEvaluator) {
		if registry != nil {
			e.registry = registry.Clone()
		}
	}
}

type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go. Entries are
// declared as dyn variables, so a program is compiled per expression and
// set of entry names.
func NewCELEvaluator(opts ...CELEvaluatorOption) Evaluator {
	e := &celEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *celEvaluator) engine() string { return celEngine }

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(celEngine, ErrEmptyExpression)
	}
	return e.run(newRuleScope(ctx), expression)
}

// Compile parses expression up front. Type checking waits for the first
// evaluation, when the entry names are known.
func (e *celEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(celEngine, ErrEmptyExpression)
	}
	env, err := e.env(nil)
	if err != nil {
		return nil, compileError(celEngine, expression, err)
	}
	if _, issues := env.Parse(expression); issues != nil && issues.Err() != nil {
		return nil, compileError(celEngine, expression, issues.Err())
	}
	return compiledRuleFunc(func(ctx RuleContext) (any, error) {
		return e.run(newRuleScope(ctx), expression)
	}), nil
}

func (e *celEvaluator) run(scope ruleScope, expression string) (any, error) {
	names := scope.entryNames()
	program, err := e.program(expression, names)
	if err != nil {
		return nil, err
	}
	out, _, err := program.Eval(scope.vars(nil))
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}

func (e *celEvaluator) program(expression string, names []string) (celgo.Program, error) {
	key := programKey(celEngine, e.registry.fingerprint(), expression, names...)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(celgo.Program); ok {
				return program, nil
			}
		}
	}
	env, err := e.env(names)
	if err != nil {
		return nil, compileError(celEngine, expression, err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, compileError(celEngine, expression, issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, compileError(celEngine, expression, err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

func (e *celEvaluator) env(names []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable(bindingNow, celgo.TimestampType),
		celgo.Variable(bindingArgs, celgo.DynType),
		celgo.Variable(bindingMetadata, celgo.DynType),
		celgo.Variable(bindingState, celgo.MapType(celgo.StringType, celgo.StringType)),
		celgo.Variable(bindingEntries, celgo.MapType(celgo.StringType, celgo.DynType)),
	}
	if e.registry != nil {
		opts = append(opts, e.callFunction())
	}
	for _, name := range names {
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

// callFunction declares call(name, args...) for up to callMaxArgs arguments.
func (e *celEvaluator) callFunction() celgo.EnvOption {
	overloads := make([]celgo.FunctionOpt, 0, callMaxArgs+1)
	for arity := 0; arity <= callMaxArgs; arity++ {
		argTypes := []*celgo.Type{celgo.StringType}
		for i := 0; i < arity; i++ {
			argTypes = append(argTypes, celgo.DynType)
		}
		overloads = append(overloads, celgo.Overload(
			fmt.Sprintf("call_string_dyn%d", arity),
			argTypes,
			celgo.DynType,
			celgo.FunctionBinding(e.callRegistered),
		))
	}
	return celgo.Function(bindingCall, overloads...)
}

func (e *celEvaluator) callRegistered(values ...ref.Val) ref.Val {
	name, ok := values[0].Value().(string)
	if !ok {
		return types.NewErr("call name must be a string")
	}
	args := make([]any, 0, len(values)-1)
	for _, val := range values[1:] {
		args = append(args, val.Value())
	}
	result, err := e.registry.Call(name, args...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}
