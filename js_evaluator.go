//go:build js_eval

package syncstate

import (
	"time"

	"github.com/dop251/goja"
)

type jsEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewJSEvaluator constructs an Evaluator backed by goja. Every evaluation
// runs in a fresh runtime. time.Time entries and now are JS Dates, and
// duration("24h") yields milliseconds, so date arithmetic reads the same as
// in the expr engine.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	cfg := applyJSEvaluatorOptions(opts)
	return &jsEvaluator{
		cache:    cfg.cache,
		registry: cfg.registry,
	}
}

func (e *jsEvaluator) engine() string { return jsEngine }

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, program)
}

func (e *jsEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	return compiledRuleFunc(func(ctx RuleContext) (any, error) {
		return e.run(ctx, program)
	}), nil
}

func (e *jsEvaluator) program(expression string) (*goja.Program, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(jsEngine, ErrEmptyExpression)
	}
	key := programKey(jsEngine, e.registry.fingerprint(), expression)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*goja.Program); ok {
				return program, nil
			}
		}
	}
	program, err := goja.Compile("rule.js", "(function(){ return ("+expression+"); })()", true)
	if err != nil {
		return nil, compileError(jsEngine, expression, err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

func (e *jsEvaluator) run(ctx RuleContext, program *goja.Program) (any, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	toDate := func(value any) any {
		if t, ok := value.(time.Time); ok {
			return jsDate(vm, t)
		}
		return value
	}
	for name, value := range newRuleScope(ctx).vars(toDate) {
		if name == bindingNow {
			value = toDate(value)
		}
		if err := vm.Set(name, value); err != nil {
			return nil, err
		}
	}
	if err := vm.Set("duration", func(text string) (float64, error) {
		d, err := time.ParseDuration(text)
		if err != nil {
			return 0, err
		}
		return float64(d.Milliseconds()), nil
	}); err != nil {
		return nil, err
	}
	if e.registry != nil {
		if err := vm.Set(bindingCall, func(name string, arguments ...any) (any, error) {
			return e.registry.Call(name, arguments...)
		}); err != nil {
			return nil, err
		}
		for _, name := range e.registry.Names() {
			if err := vm.Set(name, e.registry.bound(name)); err != nil {
				return nil, err
			}
		}
	}
	value, err := vm.RunProgram(program)
	if err != nil {
		return nil, err
	}
	return value.Export(), nil
}

func jsDate(vm *goja.Runtime, t time.Time) goja.Value {
	date, err := vm.New(vm.Get("Date"), vm.ToValue(t.UnixMilli()))
	if err != nil {
		return vm.ToValue(t)
	}
	return date
}

func jsEvaluatorAvailable() bool {
	return true
}
