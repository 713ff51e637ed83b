// Package exec runs the external search programs (blastp and friends) with
// a timeout and captures their output.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pythseq/compleconta"
)

const (
	// stderrTail caps how much stderr is quoted in an exit error.
	stderrTail = 512

	// waitDelay bounds how long Run waits for output pipes after the
	// process is killed; children of a killed shell may keep them open.
	waitDelay = time.Second
)

// Config holds the configuration for command execution.
type Config struct {
	// Command is the name or path of the command to execute (required)
	Command string

	// Args are the command-line arguments
	Args []string

	// WorkDir is the working directory for the command
	WorkDir string

	// Env specifies the environment in "KEY=value" form.
	// If nil, the command inherits the parent process environment
	Env []string

	// Timeout bounds the run. If zero only ctx bounds it
	Timeout time.Duration

	// Stdin is sent to the command's standard input
	Stdin []byte
}

// Result holds the result of command execution.
type Result struct {
	Command  string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExitError returns an execution error when the command exited non-zero,
// quoting the end of its stderr. It returns nil for a zero exit.
func (r *Result) ExitError() error {
	if r.ExitCode == 0 {
		return nil
	}
	msg := strings.TrimSpace(string(r.Stderr))
	if len(msg) > stderrTail {
		msg = "..." + msg[len(msg)-stderrTail:]
	}
	return compleconta.NewExecutionError("exec.Run",
		fmt.Errorf("%s exited with status %d: %s", r.Command, r.ExitCode, msg)).
		WithContext(map[string]any{"exit_code": r.ExitCode})
}

// Run executes a command and returns its output.
//
// The process is killed when ctx is done or the timeout elapses; both are
// reported as errors. A non-zero exit is not an error here: the Result
// carries the exit code and ExitError turns it into one when the caller
// wants that.
//
//	res, err := exec.Run(ctx, exec.Config{
//		Command: "blastp",
//		Args:    []string{"-version"},
//		Timeout: 5 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	if err := res.ExitError(); err != nil {
//		return err
//	}
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Command == "" {
		return nil, compleconta.NewConfigurationError("exec.Run", errors.New("command is required"))
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.WaitDelay = waitDelay
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(cfg.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(cfg.Stdin)
	}

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Command:  cfg.Command,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return result, compleconta.NewTimeoutError("exec.Run",
			fmt.Errorf("%s timed out after %v: %w", cfg.Command, result.Duration.Round(time.Millisecond), ctx.Err()))
	case errors.Is(ctx.Err(), context.Canceled):
		return result, compleconta.NewExecutionError("exec.Run",
			fmt.Errorf("%s cancelled: %w", cfg.Command, ctx.Err()))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return result, compleconta.NewExecutionError("exec.Run",
		fmt.Errorf("run %s: %w", cfg.Command, err))
}

// BinaryPath returns the full path to a binary in the system PATH.
func BinaryPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("binary %q not found in PATH: %w", name, err)
	}
	return path, nil
}
