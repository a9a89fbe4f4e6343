// SPDX-License-Identifier: MIT

// Package assets maps brand identifiers to the overlay files used during a
// render: the full-canvas template frame and the per-brand corner watermark.
package assets

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/watchthefall/portal/internal/log"
)

// WatermarkSubdir is where per-brand watermark images live inside the
// template directory.
const WatermarkSubdir = "watermarks"

// templateFile is the well-known full-canvas overlay.
const templateFile = "template.png"

// Overlays holds the resolved asset paths. Either may be empty; a missing
// asset skips that overlay rather than failing the job.
type Overlays struct {
	TemplatePath  string
	WatermarkPath string
}

// Resolver resolves brand names against the on-disk template catalog. The
// watermark directory listing is cached and invalidated by a filesystem
// watch; when the watch cannot be established the resolver falls back to
// listing the directory on every call.
type Resolver struct {
	TemplateDir string

	mu      sync.RWMutex
	names   []string
	fresh   bool
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewResolver builds a resolver rooted at templateDir and tries to start the
// watermark directory watch.
func NewResolver(templateDir string) *Resolver {
	r := &Resolver{TemplateDir: templateDir, done: make(chan struct{})}

	logger := log.WithComponent("assets")
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("fsnotify unavailable, watermark listing uncached")
		return r
	}
	if err := watcher.Add(r.watermarkDir()); err != nil {
		logger.Debug().Err(err).Str(log.FieldPath, r.watermarkDir()).Msg("watermark dir not watchable, listing uncached")
		_ = watcher.Close()
		return r
	}
	r.watcher = watcher
	go r.watch()
	return r
}

// Close stops the directory watch.
func (r *Resolver) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	return r.watcher.Close()
}

func (r *Resolver) watermarkDir() string {
	return filepath.Join(r.TemplateDir, WatermarkSubdir)
}

func (r *Resolver) watch() {
	for {
		select {
		case <-r.done:
			return
		case _, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.mu.Lock()
			r.fresh = false
			r.mu.Unlock()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logger := log.WithComponent("assets")
			logger.Warn().Err(err).Msg("watermark watch error")
		}
	}
}

// Resolve returns the overlay paths for a brand. Lookup is a case-insensitive
// substring match between the normalised brand name (trailing "wtf" stripped)
// and the watermark filenames; first match wins, no match is not an error.
func (r *Resolver) Resolve(template string) Overlays {
	var o Overlays

	tpl := filepath.Join(r.TemplateDir, templateFile)
	if _, err := os.Stat(tpl); err == nil {
		o.TemplatePath = tpl
	}

	if template == "" {
		return o
	}
	needle := strings.TrimSuffix(strings.ToLower(template), "wtf")
	for _, name := range r.watermarkNames() {
		if strings.Contains(strings.ToLower(name), needle) {
			o.WatermarkPath = filepath.Join(r.watermarkDir(), name)
			break
		}
	}
	return o
}

// Brands lists the brand names derivable from the watermark catalog, sorted.
func (r *Resolver) Brands() []string {
	names := r.watermarkNames()
	brands := make([]string, 0, len(names))
	for _, name := range names {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if base != "" {
			brands = append(brands, base)
		}
	}
	sort.Strings(brands)
	return brands
}

func (r *Resolver) watermarkNames() []string {
	if r.watcher != nil {
		r.mu.RLock()
		if r.fresh {
			names := r.names
			r.mu.RUnlock()
			return names
		}
		r.mu.RUnlock()
	}

	names := listDir(r.watermarkDir())

	if r.watcher != nil {
		r.mu.Lock()
		r.names = names
		r.fresh = true
		r.mu.Unlock()
	}
	return names
}

func listDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
