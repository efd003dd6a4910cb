package syncstate

import (
	"context"
	"log/slog"
	"time"
)

// OperationLogEvent describes one Load, Store, Close or Delete.
type OperationLogEvent struct {
	Op         string
	Ref        Ref
	Format     string
	Entries    int
	SnapshotID string
	Duration   time.Duration
	Err        error
}

// Logger records sync state operations.
type Logger interface {
	LogOperation(OperationLogEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(OperationLogEvent)

// LogOperation implements Logger.
func (f LoggerFunc) LogOperation(event OperationLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) LogOperation(OperationLogEvent) {}

// EvaluatorLogEvent describes one expression evaluation or policy check.
// Policy is empty for ad hoc State.Evaluate calls.
type EvaluatorLogEvent struct {
	Engine   string
	Policy   string
	Expr     string
	State    string
	Duration time.Duration
	Err      error
}

// EvaluatorLogger records evaluator events.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopEvaluatorLogger struct{}

func (noopEvaluatorLogger) LogEvaluation(EvaluatorLogEvent) {}

// WithEvaluatorLogger records every Evaluate call of the state.
func WithEvaluatorLogger(logger EvaluatorLogger) Option {
	return func(cfg *stateConfig) {
		cfg.evalLogger = logger
	}
}

// SlogLogger emits one record per operation: the message is
// "syncstate.<op>", failures are logged at error level, everything else at
// debug level.
func SlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return noopLogger{}
	}
	return slogLogger{logger: logger}
}

type slogLogger struct {
	logger *slog.Logger
}

func (l slogLogger) LogOperation(event OperationLogEvent) {
	attrs := []slog.Attr{
		slog.String("account_type", event.Ref.Account.Type),
		slog.String("account_name", event.Ref.Account.Name),
		slog.String("authority", event.Ref.Authority),
		slog.Duration("duration", event.Duration),
	}
	if event.Format != "" {
		attrs = append(attrs, slog.String("format", event.Format))
	}
	if event.Op == OpLoad || event.Op == OpStore {
		attrs = append(attrs, slog.Int("entries", event.Entries))
	}
	if event.SnapshotID != "" {
		attrs = append(attrs, slog.String("snapshot_id", event.SnapshotID))
	}
	level := slog.LevelDebug
	if event.Err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", event.Err.Error()))
	}
	l.logger.LogAttrs(context.Background(), level, "syncstate."+event.Op, attrs...)
}

// SlogEvaluatorLogger forwards evaluator events to logger.
func SlogEvaluatorLogger(logger *slog.Logger) EvaluatorLogger {
	if logger == nil {
		return noopEvaluatorLogger{}
	}
	return EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
		attrs := []slog.Attr{
			slog.String("engine", event.Engine),
			slog.String("expr", event.Expr),
			slog.String("state", event.State),
			slog.Duration("duration", event.Duration),
		}
		if event.Policy != "" {
			attrs = append(attrs, slog.String("policy", event.Policy))
		}
		level := slog.LevelDebug
		if event.Err != nil {
			level = slog.LevelWarn
			attrs = append(attrs, slog.String("error", event.Err.Error()))
		}
		logger.LogAttrs(context.Background(), level, "syncstate.evaluate", attrs...)
	})
}
