// Package scoring runs the external stroke model over a dataset file.
package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single scoring run.
const DefaultTimeout = 2 * time.Minute

// Config holds the scoring process settings.
type Config struct {
	Runtimes   []string
	ScriptPath string
	ModelPath  string
	Timeout    time.Duration
}

// Invoker launches the scoring process. It keeps no state between runs.
type Invoker struct {
	cfg    Config
	logger *slog.Logger
}

// NewInvoker creates an Invoker. Empty runtimes fall back to DefaultRuntimes
// and a non-positive timeout to DefaultTimeout.
func NewInvoker(cfg Config) *Invoker {
	if len(cfg.Runtimes) == 0 {
		cfg.Runtimes = DefaultRuntimes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Invoker{cfg: cfg, logger: slog.Default()}
}

// Config returns the settings the invoker runs with.
func (inv *Invoker) Config() Config { return inv.cfg }

// Run scores the dataset at datasetPath. A nil error means the process
// exited zero and printed a valid response document, which may itself
// describe a failure. Every other outcome is an *Error.
func (inv *Invoker) Run(ctx context.Context, datasetPath string) (*Response, error) {
	runtime, err := Probe(ctx, inv.cfg.Runtimes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Cause: CauseCanceled, Err: ctx.Err()}
		}
		return nil, &Error{Cause: CauseUnavailable, Err: err}
	}
	if err := checkArtifacts(inv.cfg.ScriptPath, inv.cfg.ModelPath); err != nil {
		return nil, &Error{Cause: CauseUnavailable, Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, inv.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, runtime, inv.cfg.ScriptPath, datasetPath, inv.cfg.ModelPath)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	errText := strings.TrimSpace(stderr.String())
	inv.logger.Debug("scoring process finished",
		"runtime", runtime,
		"duration", time.Since(start),
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len(),
	)

	return inv.outcome(ctx, runCtx, runErr, stdout.Bytes(), errText)
}

// outcome classifies a finished run. A process that exited zero is judged
// on its output alone, even if the deadline has passed since.
func (inv *Invoker) outcome(ctx, runCtx context.Context, runErr error, stdout []byte, errText string) (*Response, error) {
	if runErr != nil {
		switch {
		case ctx.Err() != nil:
			return nil, &Error{Cause: CauseCanceled, Stderr: errText, Err: ctx.Err()}
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return nil, &Error{Cause: CauseTimeout, Stderr: errText, Err: fmt.Errorf("no result after %s", inv.cfg.Timeout)}
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			e := &Error{Cause: CauseExit, ExitCode: exitErr.ExitCode(), Stderr: errText, Err: runErr}
			if resp, err := DecodeResponse(stdout); err == nil && !resp.Success {
				e.Response = resp
			}
			return nil, e
		}
		// The runtime vanished between probe and launch.
		return nil, &Error{Cause: CauseUnavailable, Stderr: errText, Err: runErr}
	}

	resp, err := DecodeResponse(stdout)
	if err != nil {
		return nil, &Error{Cause: CauseOutput, Stderr: errText, Err: err}
	}
	return resp, nil
}

func checkArtifacts(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			return errors.New("scoring script or model path is not configured")
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("required file %s: %w", p, err)
		}
	}
	return nil
}
