package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/chiquitav2/ddcloud/pkg/errors"
)

// Operation follows one driver call (create, destroy, run_command) through
// its phases. Every line it logs carries the provider, profile and node found
// in the context it was started with.
type Operation struct {
	logger  *Logger
	ctx     context.Context
	name    string
	started time.Time
	phase   string
	phases  int
	attrs   []any
}

// StartOp begins an operation. The name is stored in the context so helpers
// logging through WithContext tag their lines with it as well.
func (l *Logger) StartOp(ctx context.Context, name string, args ...any) *Operation {
	ctx = WithOperation(ctx, name)
	op := &Operation{
		logger:  l,
		ctx:     ctx,
		name:    name,
		started: time.Now(),
		attrs:   args,
	}

	l.WithContext(ctx).Debug(name+" started", args...)
	return op
}

func (op *Operation) Elapsed() time.Duration {
	return time.Since(op.started)
}

// Phase marks the step the operation is entering. A later Fail reports the
// last phase entered.
func (op *Operation) Phase(phase, msg string, args ...any) {
	op.phase = phase
	op.phases++
	op.logger.WithContext(op.ctx).Debug(msg, op.fields(slog.String("phase", phase), args)...)
}

// Complete logs success at info level
func (op *Operation) Complete(msg string, args ...any) {
	if msg == "" {
		msg = op.name + " completed"
	}
	op.logger.WithContext(op.ctx).Info(msg, op.fields(slog.Int("phases", op.phases), args)...)
}

// Fail logs err with the phase it happened in. SystemExit errors are marked
// fatal since they end the whole run rather than this node.
func (op *Operation) Fail(err error, msg string, args ...any) {
	if msg == "" {
		msg = op.name + " failed"
	}
	lead := slog.Bool("fatal", errors.IsSystemExit(err))
	if op.phase != "" {
		args = append([]any{slog.String("phase", op.phase)}, args...)
	}
	op.logger.ErrorCtx(op.ctx, msg, err, op.fields(lead, args)...)
}

func (op *Operation) fields(lead slog.Attr, args []any) []any {
	out := make([]any, 0, 2+len(op.attrs)+len(args))
	out = append(out, slog.Duration("duration_ms", op.Elapsed()), lead)
	out = append(out, op.attrs...)
	return append(out, args...)
}
