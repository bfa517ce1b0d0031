package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Result is the raw outcome of one executor invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r Result) Success() bool { return r.ExitCode == 0 }

// Executor runs one switch command. A non-nil error means the process could
// not be run to completion (spawn failure, timeout); a non-zero exit is
// reported through Result only.
type Executor interface {
	Execute(ctx context.Context, command, args string) (Result, error)
}

// FsCli shells out to `fs_cli -x "<command> <args>"`.
type FsCli struct {
	bin     string
	timeout time.Duration
}

// NewFsCli returns an executor for the given fs_cli binary. A zero timeout
// leaves the call bounded only by ctx.
func NewFsCli(bin string, timeout time.Duration) *FsCli {
	return &FsCli{bin: bin, timeout: timeout}
}

// Line joins a command and its argument string the way fs_cli expects them.
func Line(command, args string) string {
	if args == "" {
		return command
	}
	return command + " " + args
}

func (e *FsCli) Execute(ctx context.Context, command, args string) (Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.bin, "-x", Line(command, args))
	// fs_cli children may keep the output pipes open after a kill.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s %q: %w", e.bin, command, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("spawn %s: %w", e.bin, err)
	}
}
