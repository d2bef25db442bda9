// Package shell runs external commands with captured output and bounded retries.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/raphaelgruber/gearflow/internal/metrics"
)

// Command is an external program invocation. Arguments are passed verbatim,
// never through a shell.
type Command struct {
	Name string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Metrics *metrics.Collector
}

// Run executes cmd and waits for it. A non-zero exit status is returned as a
// *CommandError carrying the captured stderr.
func (r ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	start := time.Now()
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if r.Metrics != nil {
		r.Metrics.RecordTiming(metrics.OpCommand, time.Since(start))
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, &CommandError{Command: cmd.String(), Attempts: 1, Stderr: res.Stderr, Err: err}
	}
	return res, nil
}

// CommandError reports a command (or filesystem operation) that kept failing.
type CommandError struct {
	Command  string
	Attempts int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed after %d attempt(s): %v", e.Command, e.Attempts, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
