// SPDX-License-Identifier: MIT

package transcode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/watchthefall/portal/internal/log"
	"github.com/watchthefall/portal/internal/procgroup"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_transcode_start_total",
		Help: "Total number of ffmpeg process starts",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_transcode_exit_total",
		Help: "Total number of ffmpeg process exits",
	}, []string{"reason"})
)

// MinOutputBytes is the sanity floor for a finished render. A "successful"
// exit that leaves a file at or below this size almost always means the
// encoder was killed mid-write by the OOM killer, which can masquerade as a
// clean exit in constrained environments.
const MinOutputBytes = 1000

// tailLines is how much of the stderr tail goes into a failure message.
const tailLines = 8

// Runner executes ffmpeg for a single render. It is stateless across runs
// and safe for concurrent use.
type Runner struct {
	Bin     string
	Timeout time.Duration
	// KillGrace is how long after SIGTERM the group gets before SIGKILL.
	KillGrace time.Duration
	Opts      Options
}

// NewRunner returns a Runner for the given ffmpeg binary.
func NewRunner(bin string, timeout time.Duration, opts Options) *Runner {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Runner{Bin: bin, Timeout: timeout, KillGrace: 5 * time.Second, Opts: opts}
}

// Run executes one transcode to completion and verifies the output artifact.
// It blocks the calling goroutine for up to the configured timeout. A timeout
// is a hard failure; there are no retries at this level.
func (r *Runner) Run(ctx context.Context, req Request) error {
	logger := log.WithContext(ctx, log.WithComponent("transcode"))

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := BuildArgs(req, r.Opts)
	ring := NewLineRing(256)

	cmd := exec.Command(r.Bin, args...) // #nosec G204 -- binary path comes from validated config
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		startTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("transcode: capture stderr: %w", err)
	}

	// Stream stderr into the bounded ring rather than buffering it wholesale.
	var ioWg sync.WaitGroup
	ioWg.Add(1)
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = ring.Write(scanner.Bytes())
			_, _ = ring.Write([]byte("\n"))
		}
	}()

	logger.Info().Str("command", cmd.String()).Msg("starting ffmpeg")
	if err := cmd.Start(); err != nil {
		startTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("transcode: start ffmpeg: %w", err)
	}
	startTotal.WithLabelValues("ok").Inc()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-runCtx.Done():
		timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
		kill := r.killGroup(cmd, logger)
		waitErr = <-waitCh
		// The group is reaped; a SIGKILL fired after this point could hit a
		// recycled pgid.
		kill.Stop()
	}
	ioWg.Wait()

	if timedOut {
		exitTotal.WithLabelValues("timeout").Inc()
		logger.Error().Dur("timeout", timeout).Msg("ffmpeg timed out")
		return &EngineError{Timeout: true, Tail: ring.ErrorTail(tailLines)}
	}

	exitCode := 0
	if waitErr != nil {
		exitCode = 1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}
	if exitCode != 0 {
		exitTotal.WithLabelValues("error").Inc()
		logger.Error().
			Int(log.FieldExitCode, exitCode).
			Strs("stderr", ring.LastN(20)).
			Msg("ffmpeg failed")
		return &EngineError{ExitCode: exitCode, Tail: ring.ErrorTail(tailLines)}
	}

	if verify := verifyOutput(req.OutputPath); verify != "" {
		exitTotal.WithLabelValues("verify_failed").Inc()
		logger.Error().
			Str(log.FieldOutputPath, req.OutputPath).
			Str("verify", verify).
			Msg("output verification failed after clean exit")
		return &EngineError{Verify: verify, Tail: ring.ErrorTail(tailLines)}
	}

	exitTotal.WithLabelValues("clean").Inc()
	return nil
}

// verifyOutput returns a diagnostic string when the artifact is unusable,
// empty string when it passes.
func verifyOutput(path string) string {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return "output file not created (likely killed by low memory)"
	case info.Size() <= MinOutputBytes:
		return fmt.Sprintf("output file too small (%d bytes, likely killed by low memory)", info.Size())
	}
	return ""
}

// killGroup sends SIGTERM and arms a SIGKILL escalation for the grace
// period. The caller must Stop the returned timer once the process is
// reaped, before the pgid can be reused.
func (r *Runner) killGroup(cmd *exec.Cmd, logger zerolog.Logger) *time.Timer {
	grace := r.KillGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	logger.Debug().Msg("sending SIGTERM to ffmpeg process group")
	_ = procgroup.Kill(cmd, syscall.SIGTERM)
	return time.AfterFunc(grace, func() {
		_ = procgroup.Kill(cmd, syscall.SIGKILL)
	})
}
