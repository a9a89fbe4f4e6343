// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchthefall/portal/internal/assets"
	"github.com/watchthefall/portal/internal/memguard"
	"github.com/watchthefall/portal/internal/store"
	"github.com/watchthefall/portal/internal/transcode"
)

const mb = 1024 * 1024

type fakeGuard struct {
	reading memguard.Reading
	err     error
}

func (g *fakeGuard) Check() (memguard.Reading, error) { return g.reading, g.err }

func okGuard() *fakeGuard {
	return &fakeGuard{reading: memguard.Reading{Level: memguard.LevelOK, AvailableBytes: 512 * mb}}
}

type fakeResolver struct{ overlays assets.Overlays }

func (r *fakeResolver) Resolve(string) assets.Overlays { return r.overlays }

// fakeEngine simulates the transcoder. Unless failing, it writes a valid
// output artifact. gate, when set, blocks the run until released.
type fakeEngine struct {
	err   error
	small bool
	gate  chan struct{}

	mu    chan struct{} // buffered-1 token guarding calls
	calls int
	last  transcode.Request
}

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{mu: make(chan struct{}, 1)}
	e.mu <- struct{}{}
	return e
}

func (e *fakeEngine) Run(ctx context.Context, req transcode.Request) error {
	<-e.mu
	e.calls++
	e.last = req
	e.mu <- struct{}{}

	if e.gate != nil {
		<-e.gate
	}
	if e.err != nil {
		return e.err
	}
	size := 2048
	if e.small {
		size = 10
	}
	return os.WriteFile(req.OutputPath, make([]byte, size), 0o644)
}

func (e *fakeEngine) callCount() int {
	<-e.mu
	n := e.calls
	e.mu <- struct{}{}
	return n
}

func (e *fakeEngine) lastRequest() transcode.Request {
	<-e.mu
	req := e.last
	e.mu <- struct{}{}
	return req
}

type fixture struct {
	m      *Manager
	store  *store.MemoryStore
	engine *fakeEngine
	guard  *fakeGuard
	out    string
	tmp    string
}

func newFixture(t *testing.T, maxConcurrent int) *fixture {
	t.Helper()
	f := &fixture{
		store:  store.NewMemoryStore(),
		engine: newFakeEngine(),
		guard:  okGuard(),
		out:    t.TempDir(),
		tmp:    t.TempDir(),
	}
	f.m = NewManager(
		Deps{Store: f.store, Guard: f.guard, Resolver: &fakeResolver{}, Engine: f.engine},
		Settings{OutputDir: f.out, TempDir: f.tmp, MaxConcurrent: maxConcurrent},
	)
	return f
}

func waitTerminal(t *testing.T, s store.Store, jobID string) *store.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return nil
}

func TestSubmitVisibleImmediately(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.gate = make(chan struct{})

	// first job occupies the only worker slot
	first, err := f.m.Submit(context.Background(), "/u/a.mp4", "ScotlandWTF", "9:16")
	require.NoError(t, err)

	// second job is visible and queued while waiting for admission
	second, err := f.m.Submit(context.Background(), "/u/b.mp4", "IrelandWTF", "1:1")
	require.NoError(t, err)

	job, err := f.m.GetStatus(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, job.Status)

	close(f.engine.gate)
	waitTerminal(t, f.store, first)
	waitTerminal(t, f.store, second)
	f.m.Wait()
}

func TestLifecycleCompleted(t *testing.T) {
	f := newFixture(t, 2)

	id, err := f.m.Submit(context.Background(), "/uploads/clip.mp4", "ScotlandWTF", "1:1")
	require.NoError(t, err)
	require.Len(t, id, 12)

	job := waitTerminal(t, f.store, id)
	f.m.Wait()

	require.Equal(t, store.StatusCompleted, job.Status)
	assert.Equal(t, fmt.Sprintf("ScotlandWTF_%s.mp4", id), job.OutputPath)
	assert.Empty(t, job.ErrorMessage)
	assert.Equal(t, "clip.mp4", job.SourceFilename)
	assert.Equal(t, "1:1", job.AspectRatio)

	// output artifact promoted to the output area, temp gone
	info, err := os.Stat(filepath.Join(f.out, job.OutputPath))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(transcode.MinOutputBytes))
	_, err = os.Stat(filepath.Join(f.tmp, job.OutputPath))
	assert.True(t, os.IsNotExist(err))

	// engine saw the square canvas
	req := f.engine.lastRequest()
	assert.Equal(t, 1080, req.Width)
	assert.Equal(t, 1080, req.Height)
	assert.Equal(t, "/uploads/clip.mp4", req.InputPath)
}

func TestUnrecognizedAspectDefaults(t *testing.T) {
	f := newFixture(t, 1)

	id, err := f.m.Submit(context.Background(), "/u/clip.mp4", "ScotlandWTF", "21:9")
	require.NoError(t, err)
	job := waitTerminal(t, f.store, id)
	f.m.Wait()

	assert.Equal(t, "9:16", job.AspectRatio)
	req := f.engine.lastRequest()
	assert.Equal(t, 1080, req.Width)
	assert.Equal(t, 1920, req.Height)
}

func TestGuardRefusalSkipsEngine(t *testing.T) {
	f := newFixture(t, 1)
	f.guard.reading = memguard.Reading{Level: memguard.LevelInsufficient, AvailableBytes: 80 * mb}

	id, err := f.m.Submit(context.Background(), "/u/clip.mp4", "ScotlandWTF", "9:16")
	require.NoError(t, err)
	job := waitTerminal(t, f.store, id)
	f.m.Wait()

	assert.Equal(t, store.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "insufficient memory")
	assert.Empty(t, job.OutputPath)
	assert.Equal(t, 0, f.engine.callCount())
}

func TestGuardReadErrorProceeds(t *testing.T) {
	f := newFixture(t, 1)
	f.guard.err = errors.New("proc unreadable")

	id, err := f.m.Submit(context.Background(), "/u/clip.mp4", "ScotlandWTF", "9:16")
	require.NoError(t, err)
	job := waitTerminal(t, f.store, id)
	f.m.Wait()

	assert.Equal(t, store.StatusCompleted, job.Status)
	assert.Equal(t, 1, f.engine.callCount())
}

func TestEngineFailureRecorded(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.err = &transcode.EngineError{ExitCode: 1, Tail: []string{"Error opening input file"}}

	id, err := f.m.Submit(context.Background(), "/u/clip.mp4", "ScotlandWTF", "16:9")
	require.NoError(t, err)
	job := waitTerminal(t, f.store, id)
	f.m.Wait()

	assert.Equal(t, store.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "exited with code 1")
	assert.Contains(t, job.ErrorMessage, "Error opening input file")
	assert.LessOrEqual(t, len(job.ErrorMessage), maxErrorChars+3)
	assert.Empty(t, job.OutputPath)
}

func TestEngineFailureMessageStaysValidUTF8(t *testing.T) {
	f := newFixture(t, 1)
	// Input filenames end up in the engine diagnostic, so the message can
	// carry multi-byte runes straddling the truncation point.
	f.engine.err = errors.New("a" + strings.Repeat("ü", maxErrorChars))

	id, err := f.m.Submit(context.Background(), "/u/Grüße.mp4", "ScotlandWTF", "9:16")
	require.NoError(t, err)
	job := waitTerminal(t, f.store, id)
	f.m.Wait()

	assert.Equal(t, store.StatusFailed, job.Status)
	assert.True(t, utf8.ValidString(job.ErrorMessage))
	assert.True(t, strings.HasSuffix(job.ErrorMessage, "..."))
	assert.LessOrEqual(t, len(job.ErrorMessage), maxErrorChars+3)
}

func TestEnginePanicBecomesFailure(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.err = nil
	panicking := &panicEngine{}
	f.m.deps.Engine = panicking

	id, err := f.m.Submit(context.Background(), "/u/clip.mp4", "ScotlandWTF", "9:16")
	require.NoError(t, err)
	job := waitTerminal(t, f.store, id)
	f.m.Wait()

	assert.Equal(t, store.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "internal error")
}

type panicEngine struct{}

func (p *panicEngine) Run(context.Context, transcode.Request) error {
	panic("encoder exploded")
}

func TestTempCleanupOnFailure(t *testing.T) {
	f := newFixture(t, 1)
	f.m.deps.Engine = &litteringEngine{inner: f.engine}
	f.engine.err = &transcode.EngineError{ExitCode: 137}

	id, err := f.m.Submit(context.Background(), "/u/clip.mp4", "ScotlandWTF", "9:16")
	require.NoError(t, err)
	waitTerminal(t, f.store, id)
	f.m.Wait()

	entries, err := os.ReadDir(f.tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp area must be clean after failure")
}

// litteringEngine writes a partial artifact before failing, like a killed
// encoder would.
type litteringEngine struct{ inner *fakeEngine }

func (l *litteringEngine) Run(ctx context.Context, req transcode.Request) error {
	_ = os.WriteFile(req.OutputPath, []byte("partial"), 0o644)
	return l.inner.err
}

func TestStatusMonotonicUnderPolling(t *testing.T) {
	f := newFixture(t, 2)

	id, err := f.m.Submit(context.Background(), "/u/clip.mp4", "ScotlandWTF", "9:16")
	require.NoError(t, err)

	rank := map[store.Status]int{
		store.StatusQueued:     0,
		store.StatusProcessing: 1,
		store.StatusCompleted:  2,
		store.StatusFailed:     2,
	}
	lastRank := -1
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.m.GetStatus(context.Background(), id)
		require.NoError(t, err)
		r := rank[job.Status]
		require.GreaterOrEqual(t, r, lastRank, "status must never move backward")
		lastRank = r
		if job.Status.IsTerminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 2, lastRank)
	f.m.Wait()
}

func TestSubmitStoreFailurePropagates(t *testing.T) {
	f := newFixture(t, 1)
	// sabotage: pre-create every plausible ID is impossible, so wrap the store
	f.m.deps.Store = &failingStore{Store: f.store}

	_, err := f.m.Submit(context.Background(), "/u/clip.mp4", "ScotlandWTF", "9:16")
	assert.Error(t, err)
	f.m.Wait()
}

type failingStore struct {
	store.Store
}

func (s *failingStore) CreateJob(context.Context, *store.Job) error {
	return errors.New("disk full")
}

func TestRecentAndEvents(t *testing.T) {
	f := newFixture(t, 2)

	id, err := f.m.Submit(context.Background(), "/u/clip.mp4", "ScotlandWTF", "9:16")
	require.NoError(t, err)
	waitTerminal(t, f.store, id)
	f.m.Wait()

	jobs, err := f.m.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)

	events, err := f.store.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	// creation, processing, terminal
	require.GreaterOrEqual(t, len(events), 3)
}
