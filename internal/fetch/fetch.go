// SPDX-License-Identifier: MIT

// Package fetch downloads remote clips into the shared output area via an
// external extractor binary. It is a collaborator of the processing pipeline,
// not part of it: fetched files land next to rendered outputs and can then be
// submitted as jobs like any upload.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/watchthefall/portal/internal/log"
	"github.com/watchthefall/portal/internal/procgroup"
	"github.com/watchthefall/portal/internal/transcode"
)

// ErrTooManyURLs is returned when a batch exceeds the per-call cap.
var ErrTooManyURLs = errors.New("fetch: too many urls in one batch")

// Result reports the outcome for one URL.
type Result struct {
	URL string
	Err error
}

// Fetcher runs the extractor sequentially, one URL at a time, to bound the
// memory footprint on a constrained host.
type Fetcher struct {
	Bin       string
	OutputDir string
	// MaxURLs caps a single batch; the default is 5.
	MaxURLs int
	// Timeout bounds each individual download.
	Timeout time.Duration

	mu sync.Mutex
}

// New returns a Fetcher with defaults filled in.
func New(bin, outputDir string, maxURLs int, timeout time.Duration) *Fetcher {
	if bin == "" {
		bin = "yt-dlp"
	}
	if maxURLs < 1 {
		maxURLs = 5
	}
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	return &Fetcher{Bin: bin, OutputDir: outputDir, MaxURLs: maxURLs, Timeout: timeout}
}

// FetchAll downloads the given URLs sequentially. The whole batch is rejected
// up front when it exceeds the cap or contains a non-http(s) URL; individual
// download failures are reported per URL and do not abort the rest.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]Result, error) {
	if len(urls) == 0 {
		return nil, errors.New("fetch: no urls provided")
	}
	if len(urls) > f.MaxURLs {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyURLs, len(urls), f.MaxURLs)
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("fetch: invalid url %q", raw)
		}
	}

	// One batch at a time; sequential within the batch.
	f.mu.Lock()
	defer f.mu.Unlock()

	results := make([]Result, 0, len(urls))
	for _, u := range urls {
		results = append(results, Result{URL: u, Err: f.fetchOne(ctx, u)})
	}
	return results, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) error {
	logger := log.WithComponent("fetch")

	runCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	ring := transcode.NewLineRing(64)
	args := []string{
		"--no-playlist",
		"--no-progress",
		"-f", "mp4",
		"-o", f.OutputDir + "/%(title)s_%(id)s.%(ext)s",
		rawURL,
	}
	cmd := exec.Command(f.Bin, args...) // #nosec G204 -- binary path comes from validated config
	procgroup.Set(cmd)
	cmd.Stdout = ring
	cmd.Stderr = ring

	logger.Info().Str("url", rawURL).Msg("fetching remote clip")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("fetch: start %s: %w", f.Bin, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		if err != nil {
			tail := ring.ErrorTail(5)
			logger.Error().Err(err).Strs("output", tail).Str("url", rawURL).Msg("fetch failed")
			return fmt.Errorf("fetch: %s failed: %v", f.Bin, err)
		}
		return nil
	case <-runCtx.Done():
		_ = procgroup.Kill(cmd, syscall.SIGKILL)
		<-waitCh
		logger.Error().Str("url", rawURL).Msg("fetch timed out")
		return fmt.Errorf("fetch: timed out after %s", f.Timeout)
	}
}
