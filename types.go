package syncstate

import (
	"time"

	"github.com/goliatone/go-syncstate/pkg/activity"
)

// Response stores a typed result produced by an evaluator.
type Response[T any] struct {
	Value T
}

// RuleContext carries inputs needed when evaluating an expression.
type RuleContext struct {
	Snapshot   any
	Now        *time.Time
	Args       map[string]any
	Metadata   map[string]any
	Ref        Ref
	SnapshotID string
}

func (ctx RuleContext) withDefaultNow() RuleContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx RuleContext) withDefaultMaps() RuleContext {
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) withDefaults() RuleContext {
	return ctx.withDefaultNow().withDefaultMaps()
}

func (ctx RuleContext) withDefaultRef(ref Ref, snapshotID string) RuleContext {
	if ctx.Ref.isZero() {
		ctx.Ref = ref
	}
	if ctx.SnapshotID == "" {
		ctx.SnapshotID = snapshotID
	}
	return ctx
}

func (ctx RuleContext) stateLabel() string {
	if ctx.Ref.isZero() {
		return "unknown"
	}
	return ctx.Ref.String()
}

func (ctx RuleContext) stateBinding() map[string]any {
	if ctx.Ref.isZero() {
		return nil
	}
	binding := map[string]any{
		"account_name": ctx.Ref.Account.Name,
		"account_type": ctx.Ref.Account.Type,
		"authority":    ctx.Ref.Authority,
	}
	if ctx.SnapshotID != "" {
		binding["snapshot_id"] = ctx.SnapshotID
	}
	return binding
}

// Evaluator executes expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

type compiledRuleFunc func(ctx RuleContext) (any, error)

func (f compiledRuleFunc) Evaluate(ctx RuleContext) (any, error) {
	return f(ctx)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct{}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// Option configures a State.
type Option func(*stateConfig)

type stateConfig struct {
	context        *ResolutionContext
	logger         Logger
	evaluator      Evaluator
	evaluatorSet   bool
	programCache   ProgramCache
	functions      *FunctionRegistry
	evalLogger     EvaluatorLogger
	activityHooks  activity.Hooks
	activityConfig *activity.Config
	actorID        string
	tenantID       string
	skipETag       bool
	clock          func() time.Time
}

func applyOptions(opts []Option) stateConfig {
	cfg := stateConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.context == nil {
		cfg.context = DefaultContext()
	}
	if cfg.logger == nil {
		cfg.logger = noopLogger{}
	}
	if cfg.clock == nil {
		cfg.clock = func() time.Time { return time.Now().UTC() }
	}
	return cfg
}

func (cfg stateConfig) evaluatorLogger() EvaluatorLogger {
	if cfg.evalLogger != nil {
		return cfg.evalLogger
	}
	return noopEvaluatorLogger{}
}

// WithContext sets the resolution context used by Load and Store.
func WithContext(rc *ResolutionContext) Option {
	return func(cfg *stateConfig) {
		cfg.context = rc
	}
}

// WithLogger records every Load, Store and Close through logger.
func WithLogger(logger Logger) Option {
	return func(cfg *stateConfig) {
		cfg.logger = logger
	}
}

// WithEvaluator replaces the default expr evaluator used by Evaluate. A nil
// evaluator makes Evaluate fail with ErrNoEvaluator.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *stateConfig) {
		cfg.evaluator = e
		cfg.evaluatorSet = true
	}
}

// WithoutETagCheck makes Store overwrite the persisted state unconditionally.
func WithoutETagCheck() Option {
	return func(cfg *stateConfig) {
		cfg.skipETag = true
	}
}

// WithClock overrides the clock used to stamp stored documents.
func WithClock(clock func() time.Time) Option {
	return func(cfg *stateConfig) {
		cfg.clock = clock
	}
}
