// Package subprocess is the one place fats spawns external programs:
// the container engine CLI, the build-plan generator, and the image
// builder. Every other component that needs to shell out goes through
// Run.
package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/geoge23/fats/pkg/log"
)

// Result is what a completed Run call reports.
type Result struct {
	ExitCode int
	Stdout   string
	Duration time.Duration
}

// Options controls a single Run call.
type Options struct {
	// Env, if non-nil, replaces the child's environment entirely.
	// Nil means inherit the parent's environment.
	Env []string
	// Dir sets the child's working directory.
	Dir string
	// Stream, when true, reads stdout line by line while the process
	// is running and logs each line, in addition to buffering it for
	// Result.Stdout.
	Stream bool
}

// Run spawns prog with args, optionally streaming its stdout to the
// logger line by line concurrently with waiting for it to exit. Once
// the child has exited it returns the exit code and captured stdout,
// with an error as well if the exit code is non-zero; if the child
// cannot be started or waited on, the Result is nil.
func Run(ctx context.Context, prog string, args []string, opts Options) (*Result, error) {
	runID := uuid.NewString()
	start := time.Now()

	cmd := exec.CommandContext(ctx, prog, args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("subprocess: creating stdout pipe for %s: %w", prog, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("subprocess: starting %s: %w", prog, err)
	}

	runLog := log.Logger.With().Str("run_id", runID).Str("prog", prog).Logger()

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			buf.WriteString(line)
			buf.WriteByte('\n')
			if opts.Stream {
				runLog.Info().Msg(line)
			}
		}
	}()

	waitErr := cmd.Wait()
	<-done

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("subprocess: running %s: %w", prog, waitErr)
		}
	}

	runLog.Debug().
		Int("pid", cmd.Process.Pid).
		Int("exit_code", exitCode).
		Dur("duration", time.Since(start)).
		Msg("subprocess finished")

	result := &Result{
		ExitCode: exitCode,
		Stdout:   buf.String(),
		Duration: time.Since(start),
	}

	if exitCode != 0 {
		return result, fmt.Errorf("subprocess: %s exited %d: %s", prog, exitCode, stderr.String())
	}
	return result, nil
}
