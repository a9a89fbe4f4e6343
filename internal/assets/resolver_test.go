// SPDX-License-Identifier: MIT

package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))
}

func setupCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "template.png"))
	writeFile(t, filepath.Join(dir, WatermarkSubdir, "scotland_logo.png"))
	writeFile(t, filepath.Join(dir, WatermarkSubdir, "ireland_logo.png"))
	return dir
}

func TestResolveWatermarkMatch(t *testing.T) {
	dir := setupCatalog(t)
	r := NewResolver(dir)
	defer func() { _ = r.Close() }()

	o := r.Resolve("ScotlandWTF")
	assert.Equal(t, filepath.Join(dir, "template.png"), o.TemplatePath)
	assert.Equal(t, filepath.Join(dir, WatermarkSubdir, "scotland_logo.png"), o.WatermarkPath)
}

func TestResolveCaseInsensitive(t *testing.T) {
	dir := setupCatalog(t)
	r := NewResolver(dir)
	defer func() { _ = r.Close() }()

	o := r.Resolve("IRELANDwtf")
	assert.Equal(t, filepath.Join(dir, WatermarkSubdir, "ireland_logo.png"), o.WatermarkPath)
}

func TestResolveNoMatchDegrades(t *testing.T) {
	dir := setupCatalog(t)
	r := NewResolver(dir)
	defer func() { _ = r.Close() }()

	o := r.Resolve("NowhereWTF")
	assert.Empty(t, o.WatermarkPath)
	assert.NotEmpty(t, o.TemplatePath) // template still resolves
}

func TestResolveMissingCatalog(t *testing.T) {
	r := NewResolver(filepath.Join(t.TempDir(), "absent"))
	defer func() { _ = r.Close() }()

	o := r.Resolve("ScotlandWTF")
	assert.Empty(t, o.TemplatePath)
	assert.Empty(t, o.WatermarkPath)
}

func TestResolveEmptyTemplateSkipsWatermark(t *testing.T) {
	dir := setupCatalog(t)
	r := NewResolver(dir)
	defer func() { _ = r.Close() }()

	o := r.Resolve("")
	assert.Empty(t, o.WatermarkPath)
}

func TestCacheInvalidation(t *testing.T) {
	dir := setupCatalog(t)
	r := NewResolver(dir)
	defer func() { _ = r.Close() }()

	assert.Empty(t, r.Resolve("WalesWTF").WatermarkPath)

	writeFile(t, filepath.Join(dir, WatermarkSubdir, "wales_logo.png"))

	// the watch invalidates asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Resolve("WalesWTF").WatermarkPath != "" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("new watermark never became visible")
}

func TestBrands(t *testing.T) {
	dir := setupCatalog(t)
	r := NewResolver(dir)
	defer func() { _ = r.Close() }()

	assert.Equal(t, []string{"ireland_logo", "scotland_logo"}, r.Brands())
}
