// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/watchthefall/portal/internal/log"
	"github.com/watchthefall/portal/internal/memguard"
	"github.com/watchthefall/portal/internal/store"
	"github.com/watchthefall/portal/internal/transcode"
)

var tracer = otel.Tracer("github.com/watchthefall/portal/internal/jobs")

var jobOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "portal_job_outcome_total",
	Help: "Terminal job outcomes by result",
}, []string{"result"})

// maxErrorChars bounds the job-visible error message.
const maxErrorChars = 300

// Manager implements the asynchronous execution contract: Submit persists a
// queued job and returns; a per-job goroutine performs the work and writes
// exactly one terminal status.
type Manager struct {
	deps     Deps
	settings Settings
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

// NewManager wires an orchestrator from its collaborators.
func NewManager(deps Deps, settings Settings) *Manager {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if settings.MaxConcurrent < 1 {
		settings.MaxConcurrent = 1
	}
	return &Manager{
		deps:     deps,
		settings: settings,
		sem:      semaphore.NewWeighted(int64(settings.MaxConcurrent)),
	}
}

// Submit creates a job for the given source file and schedules its execution.
// The job is visible to readers before Submit returns; execution runs on its
// own goroutine and never blocks the caller. Store failures propagate to the
// caller since no background work has started yet.
func (m *Manager) Submit(ctx context.Context, sourcePath, template, aspectRatio string) (string, error) {
	jobID := newJobID()
	aspect := transcode.NormalizeAspect(aspectRatio)

	job := &store.Job{
		ID:             jobID,
		SourceFilename: filepath.Base(sourcePath),
		Template:       template,
		AspectRatio:    aspect,
		Status:         store.StatusQueued,
		CreatedAt:      m.deps.Clock().UTC(),
	}
	if err := m.deps.Store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("jobs: create job: %w", err)
	}

	logger := log.WithComponent("jobs").With().Str(log.FieldJobID, jobID).Logger()
	logger.Info().
		Str(log.FieldTemplate, template).
		Str(log.FieldAspectRatio, aspect).
		Str("source", job.SourceFilename).
		Msg("job submitted")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Detached from the submitting request: the job outlives it.
		m.execute(log.ContextWithJobID(context.Background(), jobID), jobID, sourcePath, template, aspect)
	}()

	return jobID, nil
}

// GetStatus returns the job record, or store.ErrNotFound.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (*store.Job, error) {
	return m.deps.Store.GetJob(ctx, jobID)
}

// Recent returns the most recent jobs.
func (m *Manager) Recent(ctx context.Context, limit int) ([]*store.Job, error) {
	return m.deps.Store.ListRecent(ctx, limit)
}

// Wait blocks until all in-flight executions have finished. Used for
// graceful shutdown and by tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// execute runs one job to a terminal status. Every exit path, including a
// panic in a collaborator, ends in exactly one terminal status write.
func (m *Manager) execute(ctx context.Context, jobID, sourcePath, template, aspect string) {
	ctx, span := tracer.Start(ctx, "job.execute", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.template", template),
		attribute.String("job.aspect_ratio", aspect),
	))
	defer span.End()

	logger := log.WithContext(ctx, log.WithComponent("jobs"))

	outputName, err := func() (name string, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				retErr = fmt.Errorf("internal error: %v", r)
			}
		}()
		return m.runJob(ctx, jobID, sourcePath, template, aspect)
	}()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		jobOutcomeTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("job failed")
		m.writeTerminal(ctx, jobID, store.StatusFailed, "", truncate(err.Error(), maxErrorChars))
		return
	}

	span.SetStatus(codes.Ok, "")
	jobOutcomeTotal.WithLabelValues("completed").Inc()
	logger.Info().Str(log.FieldOutputPath, outputName).Msg("job completed")
	m.writeTerminal(ctx, jobID, store.StatusCompleted, outputName, "")
}

// runJob is the failable body of execution: admission, status flip, memory
// guard, asset resolution, transcode, output promotion.
func (m *Manager) runJob(ctx context.Context, jobID, sourcePath, template, aspect string) (string, error) {
	// Admission: wait for a worker slot. The job stays queued while waiting.
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire worker slot: %w", err)
	}
	defer m.sem.Release(1)

	logger := log.WithContext(ctx, log.WithComponent("jobs"))

	if err := m.deps.Store.UpdateStatus(ctx, jobID, store.StatusProcessing, "", ""); err != nil {
		return "", fmt.Errorf("mark processing: %w", err)
	}
	logger.Info().Str(log.FieldTemplate, template).Msg("processing started")

	// Pre-flight memory check before committing to a subprocess.
	reading, err := m.deps.Guard.Check()
	if err != nil {
		// The guard is advisory; a failed read is logged, not fatal.
		logger.Warn().Err(err).Msg("memory check unavailable, proceeding")
	} else if reading.Level == memguard.LevelInsufficient {
		return "", reading.Err()
	}

	overlays := m.deps.Resolver.Resolve(template)
	w, h := transcode.TargetDims(aspect)

	outputName := fmt.Sprintf("%s_%s.mp4", template, jobID)
	tempPath := filepath.Join(m.settings.TempDir, outputName)

	// Scoped cleanup: the temp artifact goes away on every exit path, and a
	// removal failure never masks the run's own diagnostic.
	defer func() {
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str(log.FieldPath, tempPath).Msg("temp file cleanup failed")
		}
	}()

	req := transcode.Request{
		InputPath:     sourcePath,
		OutputPath:    tempPath,
		Width:         w,
		Height:        h,
		TemplatePath:  overlays.TemplatePath,
		WatermarkPath: overlays.WatermarkPath,
	}
	if err := m.deps.Engine.Run(ctx, req); err != nil {
		return "", err
	}

	if err := os.Rename(tempPath, filepath.Join(m.settings.OutputDir, outputName)); err != nil {
		return "", fmt.Errorf("promote output: %w", err)
	}
	return outputName, nil
}

// writeTerminal records the terminal status. An already-terminal job means a
// defect in this package's own sequencing; it is logged loudly rather than
// swallowed.
func (m *Manager) writeTerminal(ctx context.Context, jobID string, status store.Status, outputName, errMsg string) {
	if err := m.deps.Store.UpdateStatus(ctx, jobID, status, outputName, errMsg); err != nil {
		logger := log.WithContext(ctx, log.WithComponent("jobs"))
		logger.Error().
			Err(err).
			Str(log.FieldNewStatus, string(status)).
			Msg("terminal status write failed")
	}
}

// newJobID returns a short unique identifier (12 hex chars).
func newJobID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:6])
}

// truncate cuts s to at most n bytes on a rune boundary so the stored
// error message stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
