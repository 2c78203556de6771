// Package sandbox runs generated calculation code in a Starlark interpreter.
//
// Starlark is a Python dialect without I/O, imports or access to the host, so
// the generated snippet can only compute and print. Each run gets a fresh
// thread and global namespace.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a-h/labreport"
	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultMaxSteps       = 10_000_000
	DefaultMaxOutputBytes = 1 << 20

	// ErrorPrefix starts the result text of a failed execution.
	ErrorPrefix = "Error executing generated code: "
)

// ExecutionError is a fault raised while running generated code.
type ExecutionError struct {
	Msg string
	// Timeout is set when the wall-clock or step budget ran out.
	Timeout bool
}

func (e *ExecutionError) Error() string {
	return e.Msg
}

func (e *ExecutionError) Is(target error) bool {
	if target == labreport.ErrExecutionTimeout {
		return e.Timeout
	}
	return target == labreport.ErrExecution
}

type Config struct {
	Timeout        time.Duration
	MaxSteps       uint64
	MaxOutputBytes int
}

func New(log *slog.Logger, cfg Config) Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return Executor{
		log: log,
		cfg: cfg,
	}
}

type Executor struct {
	log *slog.Logger
	cfg Config
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Execute runs code and returns its printed output. Failures are returned as
// text starting with ErrorPrefix.
func (e Executor) Execute(ctx context.Context, code string) string {
	out, err := e.Run(ctx, code)
	if err != nil {
		e.log.Warn("generated code failed", slog.Any("error", err))
		return ErrorPrefix + err.Error()
	}
	return out
}

// Run executes code and returns everything it printed, one line per print call.
func (e Executor) Run(ctx context.Context, code string) (output string, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var out strings.Builder
	var stepsExceeded, outputExceeded bool
	thread := &starlark.Thread{
		Name: "generated",
		Print: func(thread *starlark.Thread, msg string) {
			if out.Len()+len(msg)+1 > e.cfg.MaxOutputBytes {
				outputExceeded = true
				thread.Cancel("output limit exceeded")
				return
			}
			out.WriteString(msg)
			out.WriteByte('\n')
		},
		OnMaxSteps: func(thread *starlark.Thread) {
			stepsExceeded = true
			thread.Cancel("too many steps")
		},
	}
	thread.SetMaxExecutionSteps(e.cfg.MaxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	start := time.Now()
	err = exec(thread, Preprocess(code))
	e.log.Debug("executed generated code", slog.Duration("duration", time.Since(start)), slog.Uint64("steps", thread.ExecutionSteps()))
	if err == nil {
		return out.String(), nil
	}
	switch {
	case stepsExceeded:
		return out.String(), &ExecutionError{Msg: fmt.Sprintf("execution exceeded %d steps", e.cfg.MaxSteps), Timeout: true}
	case outputExceeded:
		return out.String(), &ExecutionError{Msg: fmt.Sprintf("output exceeded %d bytes", e.cfg.MaxOutputBytes)}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out.String(), &ExecutionError{Msg: fmt.Sprintf("execution timed out after %v", e.cfg.Timeout), Timeout: true}
	case errors.Is(ctx.Err(), context.Canceled):
		return out.String(), ctx.Err()
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return out.String(), &ExecutionError{Msg: evalErr.Msg}
	}
	return out.String(), &ExecutionError{Msg: err.Error()}
}

func exec(thread *starlark.Thread, code string) error {
	f, err := fileOptions.Parse("generated.star", code, 0)
	if err != nil {
		return err
	}
	rewriteFile(f)
	pd := predeclared()
	prog, err := starlark.FileProgram(f, pd.Has)
	if err != nil {
		return err
	}
	_, err = prog.Init(thread, pd)
	return err
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"math":         starlarkmath.Module,
		"sum":          starlark.NewBuiltin("sum", sum),
		"round":        starlark.NewBuiltin("round", round),
		"pow":          starlark.NewBuiltin("pow", pow),
		percentBuiltin: starlark.NewBuiltin(percentBuiltin, percent),
		formatBuiltin:  starlark.NewBuiltin(formatBuiltin, format),
	}
}
