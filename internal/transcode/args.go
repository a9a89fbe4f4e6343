// SPDX-License-Identifier: MIT

// Package transcode builds and supervises the external ffmpeg process that
// rescales a clip to a target canvas and composites brand overlays onto it.
package transcode

import (
	"fmt"
	"strings"
)

// Aspect ratio identifiers accepted from clients.
const (
	AspectPortrait  = "9:16"
	AspectSquare    = "1:1"
	AspectLandscape = "16:9"
)

// TargetDims maps an aspect-ratio string to the output canvas. Unrecognised
// values fall back to the portrait default deterministically.
func TargetDims(aspect string) (w, h int) {
	switch aspect {
	case AspectPortrait:
		return 1080, 1920
	case AspectSquare:
		return 1080, 1080
	case AspectLandscape:
		return 1920, 1080
	default:
		return 1080, 1920
	}
}

// NormalizeAspect returns the canonical aspect string, substituting the
// portrait default for anything unrecognised.
func NormalizeAspect(aspect string) string {
	switch aspect {
	case AspectPortrait, AspectSquare, AspectLandscape:
		return aspect
	default:
		return AspectPortrait
	}
}

// Request describes one transcode run.
type Request struct {
	InputPath  string
	OutputPath string
	Width      int
	Height     int

	// Overlay assets; empty paths skip that compositing step.
	TemplatePath  string
	WatermarkPath string
}

// Options are the encoder policy knobs. LowMemory trades fidelity for
// survivability under the memory ceiling: one encoder thread, fast preset,
// bounded mux queue.
type Options struct {
	LowMemory bool
}

// BuildFilter constructs the ffmpeg filter graph: aspect-preserving scale
// with letterbox padding, then the optional template and watermark overlays.
func BuildFilter(req Request) string {
	w, h := req.Width, req.Height
	filters := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black", w, h, w, h),
	}

	if req.TemplatePath != "" {
		filters = append(filters,
			fmt.Sprintf("movie='%s',scale=%d:%d[template];[0:v][template]overlay=0:0", escapeFilterPath(req.TemplatePath), w, h))
	}

	if req.WatermarkPath != "" {
		// Watermark sized to a quarter of the canvas width, anchored
		// bottom-right with a 5% margin, alpha reduced to 0.15.
		wmWidth := w / 4
		margin := w / 20
		wmX := w - wmWidth - margin
		filters = append(filters,
			fmt.Sprintf("movie='%s',scale=%d:-1,format=rgba,colorchannelmixer=aa=0.15[wm];[0:v][wm]overlay=%d:H-h-%d",
				escapeFilterPath(req.WatermarkPath), wmWidth, wmX, h/20))
	}

	return strings.Join(filters, ";")
}

// BuildArgs constructs the full ffmpeg argument list for a run. No shell is
// involved anywhere, so paths need no quoting beyond the filter-graph escape.
func BuildArgs(req Request, opts Options) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error", // stderr is captured, keep it signal only
		"-nostats",
		"-y",
		"-i", req.InputPath,
		"-filter_complex", BuildFilter(req),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
	}

	if opts.LowMemory {
		args = append(args,
			"-threads", "1",
			"-preset", "ultrafast",
			"-crf", "28",
			"-max_muxing_queue_size", "512",
		)
	} else {
		args = append(args,
			"-preset", "medium",
			"-crf", "23",
		)
	}

	args = append(args,
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		req.OutputPath,
	)
	return args
}

// escapeFilterPath escapes the characters ffmpeg's filter parser treats
// specially inside a quoted movie= source.
func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	p = strings.ReplaceAll(p, `'`, `\'`)
	return strings.ReplaceAll(p, `:`, `\:`)
}
