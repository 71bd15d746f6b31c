package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/lmittmann/tint"
)

// Logger is a slog.Logger that knows its config and the ddcloud context keys
type Logger struct {
	*slog.Logger
	config LoggerConfig
}

// LogLevel represents the logging level
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// OutputFormat represents the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	Level      LogLevel     `mapstructure:"level" yaml:"level" json:"level"`
	Format     OutputFormat `mapstructure:"format" yaml:"format" json:"format"`
	AddSource  bool         `mapstructure:"add_source" yaml:"add_source" json:"add_source"`
	Component  string       `mapstructure:"component" yaml:"component" json:"component"`
	Version    string       `mapstructure:"version" yaml:"version" json:"version"`
	TimeFormat string       `mapstructure:"time_format" yaml:"time_format" json:"time_format"`

	// Output defaults to stderr so command results on stdout stay parseable
	Output io.Writer `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultConfig is info-level text output on stderr
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      LevelInfo,
		Format:     FormatText,
		AddSource:  false,
		Component:  "ddcloud",
		Version:    "unknown",
		TimeFormat: time.RFC3339,
	}
}

// New creates a new logger with the provided configuration
func New(config LoggerConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	if config.TimeFormat == "" {
		config.TimeFormat = time.RFC3339
	}

	level := parseLogLevel(config.Level)
	handler := createHandler(config, level)

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}
}

// NewNop returns a logger that discards everything. Used by tests and library callers
// that do not care about driver chatter.
func NewNop() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		config: DefaultConfig(),
	}
}

type contextKey string

const (
	NodeKey      contextKey = "node"
	ProviderKey  contextKey = "provider"
	ProfileKey   contextKey = "profile"
	OperationKey contextKey = "operation"
)

// With returns a new logger with additional attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithComponent returns a logger scoped to a sub-component
func (l *Logger) WithComponent(name string) *Logger {
	cfg := l.config
	cfg.Component = name
	return &Logger{
		Logger: l.Logger,
		config: cfg,
	}
}

// WithContext extracts logging context and returns a scoped logger
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := extractContextAttrs(ctx)
	attrs = append(attrs, slog.String("component", l.config.Component))
	if l.config.Version != "" {
		attrs = append(attrs, slog.String("version", l.config.Version))
	}

	return &Logger{
		Logger: l.Logger.With(attrsToAny(attrs)...),
		config: l.config,
	}
}

// Unwrap returns the underlying slog.Logger for direct access
func (l *Logger) Unwrap() *slog.Logger {
	return l.Logger
}

// ErrorCtx logs an error with automatic context enrichment
func (l *Logger) ErrorCtx(ctx context.Context, msg string, err error, args ...any) {
	l.errorAt(ctx, slog.LevelError, msg, err, args...)
}

// WarnErrCtx is ErrorCtx at warn level, for failures the caller recovers from
func (l *Logger) WarnErrCtx(ctx context.Context, msg string, err error, args ...any) {
	l.errorAt(ctx, slog.LevelWarn, msg, err, args...)
}

func (l *Logger) errorAt(ctx context.Context, level slog.Level, msg string, err error, args ...any) {
	attrs := []any{}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	if domainErr, ok := err.(errors.DomainError); ok {
		attrs = append(attrs,
			slog.String("error_domain", domainErr.Domain()),
			slog.String("error_code", domainErr.Code()),
			slog.Bool("retryable", domainErr.Retryable()),
		)

		for k, v := range domainErr.Metadata() {
			attrs = append(attrs, slog.Any(k, v))
		}
	}

	attrs = append(attrs, args...)
	l.WithContext(ctx).Log(ctx, level, msg, attrs...)
}

// Trace logs at trace level (maps to Debug)
func (l *Logger) Trace(msg string, args ...any) {
	if l.config.Level == LevelTrace {
		l.Debug(msg, args...)
	}
}

// APICall logs a provider API round trip with level chosen by status
func (l *Logger) APICall(ctx context.Context, method, path string, status int, duration time.Duration, args ...any) {
	level := slog.LevelDebug
	if status >= 500 || status == 0 {
		level = slog.LevelError
	} else if status >= 400 {
		level = slog.LevelWarn
	}

	attrs := []any{
		slog.String("http_method", method),
		slog.String("http_path", path),
		slog.Int("http_status", status),
		slog.Duration("duration_ms", duration),
	}
	attrs = append(attrs, args...)

	l.WithContext(ctx).Log(ctx, level, "provider api call", attrs...)
}

func parseLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelTrace, LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func createHandler(config LoggerConfig, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	switch config.Format {
	case FormatText:
		return tint.NewHandler(config.Output, &tint.Options{
			Level:      level,
			TimeFormat: config.TimeFormat,
			AddSource:  config.AddSource,
			NoColor:    !isTerminal(config.Output),
		})
	default:
		return slog.NewJSONHandler(config.Output, opts)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func extractContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	contextKeys := []contextKey{
		ProviderKey, ProfileKey, NodeKey, OperationKey,
	}

	for _, key := range contextKeys {
		if val := getFromContext[string](ctx, key); val != "" {
			attrs = append(attrs, slog.String(string(key), val))
		}
	}

	return attrs
}

func getFromContext[T any](ctx context.Context, key contextKey) T {
	if ctx != nil {
		if val, ok := ctx.Value(key).(T); ok {
			return val
		}
	}
	var zero T
	return zero
}

func attrsToAny(attrs []slog.Attr) []any {
	result := make([]any, len(attrs))
	for i, attr := range attrs {
		result[i] = attr
	}
	return result
}

func WithNode(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, NodeKey, name)
}

func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, ProviderKey, provider)
}

func WithProfile(ctx context.Context, profile string) context.Context {
	return context.WithValue(ctx, ProfileKey, profile)
}

func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

func GetNode(ctx context.Context) string {
	return getFromContext[string](ctx, NodeKey)
}

func GetProvider(ctx context.Context) string {
	return getFromContext[string](ctx, ProviderKey)
}

func GetOperation(ctx context.Context) string {
	return getFromContext[string](ctx, OperationKey)
}
