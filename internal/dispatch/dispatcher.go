package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/executor"
	"github.com/SirClappington/fscmd/internal/metrics"
	"go.uber.org/zap"
)

const NoOutput = "fs_cli failed (no output)"

// Dispatcher routes a command record to the switch executor.
type Dispatcher struct {
	exec executor.Executor
	log  *zap.Logger
}

func New(exec executor.Executor, log *zap.Logger) *Dispatcher {
	return &Dispatcher{exec: exec, log: log}
}

// Dispatch executes the record's action and returns whether it succeeded plus
// the result text. Records with missing fields or an unsupported action fail
// locally without reaching the executor.
func (d *Dispatcher) Dispatch(ctx context.Context, c domain.Command) (bool, string) {
	action := domain.ActionOf(c)
	name := action.Name()
	if _, unknown := action.(domain.UnknownAction); unknown {
		name = "unknown"
	}

	start := time.Now()
	ok, result := d.run(ctx, action)
	metrics.DispatchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.Dispatches.WithLabelValues(name, metrics.Outcome(ok)).Inc()
	return ok, result
}

func (d *Dispatcher) run(ctx context.Context, action domain.Action) (bool, string) {
	command, args, problem := Route(action)
	if problem != "" {
		return false, problem
	}

	res, err := d.exec.Execute(ctx, command, args)
	if err != nil {
		d.log.Warn("executor error", zap.String("command", command), zap.Error(err))
	}
	return Interpret(res, err)
}

// Route maps an action to the executor's primary command and argument
// string. A non-empty problem means the action cannot be executed.
func Route(action domain.Action) (command, args, problem string) {
	switch a := action.(type) {
	case domain.APICall:
		if a.Cmd == "" {
			return "", "", "missing cmd"
		}
		return a.Cmd, a.Args, ""
	case domain.Originate:
		if a.Args == "" {
			return "", "", "missing args"
		}
		return "originate", a.Args, ""
	case domain.Hangup:
		if a.UUID == "" {
			return "", "", "missing uuid"
		}
		return "uuid_kill", joinArgs(a.UUID, a.Cause), ""
	case domain.Bridge:
		if a.UUIDA == "" || a.UUIDB == "" {
			return "", "", "missing uuid_a/uuid_b"
		}
		return "uuid_bridge", joinArgs(a.UUIDA, a.UUIDB), ""
	case domain.Playback:
		if a.UUID == "" || a.File == "" {
			return "", "", "missing uuid/file"
		}
		return "uuid_broadcast", joinArgs(a.UUID, a.File, a.Legs), ""
	case domain.UnknownAction:
		if a.Raw == "" {
			return "", "", "missing action"
		}
		return "", "", "unknown action: " + a.Raw
	default:
		return "", "", "unknown action: " + action.Name()
	}
}

// Interpret turns executor output into the (ok, result) pair written back to
// the record.
func Interpret(res executor.Result, err error) (bool, string) {
	stdout := strings.TrimSpace(res.Stdout)
	stderr := strings.TrimSpace(res.Stderr)

	if err == nil && res.Success() {
		if stdout != "" && stderr != "" {
			return true, stdout + " | " + stderr
		}
		return true, stdout + stderr
	}
	switch {
	case stderr != "":
		return false, stderr
	case stdout != "":
		return false, stdout
	default:
		return false, NoOutput
	}
}

// joinArgs builds an argument string from the non-empty parts.
func joinArgs(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
