package agent

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/deadmanoz/orchestra/internal/logging"
	"github.com/deadmanoz/orchestra/pkg/models"
)

// stderrExcerptLimit bounds the stderr carried inside an ExitError.
const stderrExcerptLimit = 500

// Adapter supplies the tool-specific pieces of an invocation: the argv
// template and content-extraction hints. Adapters never parse JSON.
type Adapter interface {
	AgentType() string
	// BuildArgs returns the binary path and argv. When the config routes
	// the prompt through stdin the prompt must not appear in the argv.
	BuildArgs(cfg *models.AgentConfig, prompt string) (string, []string)
	Hints() []ContentHint
}

// Runner launches a CLI tool as a subprocess, feeds it a prompt, captures
// stdout through a temp file, enforces the deadline, and parses the
// output. No subprocess, temp file, or file descriptor outlives a call.
type Runner struct {
	tracer trace.Tracer
}

func NewRunner() *Runner {
	return &Runner{
		tracer: otel.Tracer("orchestra.agent"),
	}
}

// Send invokes the tool once with the config's timeout.
func (r *Runner) Send(ctx context.Context, cfg *models.AgentConfig, adapter Adapter, prompt string) (string, error) {
	return r.SendWithTimeout(ctx, cfg, adapter, prompt, cfg.Timeout)
}

// SendWithTimeout invokes the tool once with an explicit deadline. Used by
// timeout-checkpoint retries that extend the original deadline.
func (r *Runner) SendWithTimeout(ctx context.Context, cfg *models.AgentConfig, adapter Adapter, prompt string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	ctx, span := r.tracer.Start(ctx, "orchestra.agent.send",
		trace.WithAttributes(
			attribute.String("agent.name", cfg.Name),
			attribute.String("agent.type", cfg.AgentType),
			attribute.String("agent.workspace", cfg.WorkspacePath),
			attribute.Int64("agent.timeout_ms", timeout.Milliseconds()),
		),
	)
	defer span.End()

	binaryPath, args := adapter.BuildArgs(cfg, prompt)
	logging.Info("[%s] sending prompt (%d chars) to %s", cfg.Name, len(prompt), binaryPath)

	// Stdout goes to a temp file, not a pipe: large JSON payloads have
	// been observed truncated when read from a pipe.
	stdoutFile, err := os.CreateTemp("", "orchestra-agent-*.out")
	if err != nil {
		span.RecordError(err)
		return "", &Error{Op: "send", Agent: cfg.Name, Err: ErrSpawn}
	}
	stdoutPath := stdoutFile.Name()
	defer os.Remove(stdoutPath)

	cmd := exec.Command(binaryPath, args...)
	cmd.Stdout = stdoutFile
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf
	if cfg.WorkspacePath != "" {
		cmd.Dir = cfg.WorkspacePath
	}
	// New session: parallel instances must not share a controlling
	// terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if cfg.UseStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		stdoutFile.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		return "", &Error{Op: "send", Agent: cfg.Name, Err: ErrSpawn}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		r.killGroup(cmd)
		<-done
		stdoutFile.Close()
		span.SetStatus(codes.Error, "timeout")
		logging.Warn("[%s] timed out after %s, process group killed", cfg.Name, timeout)
		return "", &Error{Op: "send", Agent: cfg.Name, Err: ErrTimeout}
	case <-ctx.Done():
		r.killGroup(cmd)
		<-done
		stdoutFile.Close()
		span.SetStatus(codes.Error, "cancelled")
		return "", &Error{Op: "send", Agent: cfg.Name, Err: ErrCancelled}
	}

	stdoutFile.Close()
	elapsed := time.Since(startTime)
	span.SetAttributes(attribute.Int64("agent.elapsed_ms", elapsed.Milliseconds()))

	if waitErr != nil {
		excerpt := stderrExcerpt(stderrBuf.String())
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		span.SetStatus(codes.Error, "nonzero exit")
		logging.Error("[%s] process failed with code %d: %s", cfg.Name, exitCode, excerpt)
		return "", &Error{Op: "send", Agent: cfg.Name, Err: &ExitError{Code: exitCode, Stderr: excerpt}}
	}

	stdout, err := os.ReadFile(stdoutPath)
	if err != nil {
		span.RecordError(err)
		return "", &Error{Op: "send", Agent: cfg.Name, Err: ErrParseFailure}
	}

	if stderr := strings.TrimSpace(stderrBuf.String()); stderr != "" {
		logging.Warn("[%s] stderr: %s", cfg.Name, stderrExcerpt(stderr))
	}

	if strings.TrimSpace(string(stdout)) == "" {
		logging.Error("[%s] CLI returned empty stdout", cfg.Name)
		span.SetStatus(codes.Error, "empty output")
		return "", &Error{Op: "send", Agent: cfg.Name, Err: ErrEmptyOutput}
	}

	text, err := ExtractText(string(stdout), adapter.Hints()...)
	if err != nil {
		span.SetStatus(codes.Error, "parse failure")
		return "", &Error{Op: "send", Agent: cfg.Name, Err: ErrParseFailure}
	}

	span.SetStatus(codes.Ok, "")
	logging.Info("[%s] response received (%d chars, %s)", cfg.Name, len(text), elapsed.Round(time.Millisecond))
	return text, nil
}

// killGroup kills the subprocess's whole process group. The child runs in
// its own session, so its pgid equals its pid.
func (r *Runner) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		// Group may already be gone; fall back to the direct handle.
		_ = cmd.Process.Kill()
	}
}

func stderrExcerpt(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > stderrExcerptLimit {
		return stderr[:stderrExcerptLimit]
	}
	return stderr
}
