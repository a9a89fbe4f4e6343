// SPDX-License-Identifier: MIT

package transcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetDims(t *testing.T) {
	cases := []struct {
		aspect string
		w, h   int
	}{
		{"9:16", 1080, 1920},
		{"1:1", 1080, 1080},
		{"16:9", 1920, 1080},
		{"4:3", 1080, 1920},
		{"", 1080, 1920},
		{"garbage", 1080, 1920},
	}
	for _, tc := range cases {
		t.Run(tc.aspect, func(t *testing.T) {
			w, h := TargetDims(tc.aspect)
			assert.Equal(t, tc.w, w)
			assert.Equal(t, tc.h, h)
		})
	}
}

func TestNormalizeAspect(t *testing.T) {
	assert.Equal(t, "1:1", NormalizeAspect("1:1"))
	assert.Equal(t, "16:9", NormalizeAspect("16:9"))
	assert.Equal(t, "9:16", NormalizeAspect("9:16"))
	assert.Equal(t, "9:16", NormalizeAspect("2:1"))
	assert.Equal(t, "9:16", NormalizeAspect(""))
}

func TestBuildFilterBaseline(t *testing.T) {
	f := BuildFilter(Request{Width: 1080, Height: 1080})
	assert.Equal(t, "scale=1080:1080:force_original_aspect_ratio=decrease,pad=1080:1080:(ow-iw)/2:(oh-ih)/2:black", f)
}

func TestBuildFilterWithOverlays(t *testing.T) {
	f := BuildFilter(Request{
		Width:         1080,
		Height:        1920,
		TemplatePath:  "/data/templates/template.png",
		WatermarkPath: "/data/templates/watermarks/scotland_logo.png",
	})

	assert.Contains(t, f, "movie='/data/templates/template.png',scale=1080:1920[template]")
	assert.Contains(t, f, "[0:v][template]overlay=0:0")

	// 25% width = 270, 5% margin = 54: x anchor = 1080-270-54
	assert.Contains(t, f, "scale=270:-1,format=rgba,colorchannelmixer=aa=0.15[wm]")
	assert.Contains(t, f, "[wm]overlay=756:H-h-96")
}

func TestBuildFilterEscapesPaths(t *testing.T) {
	f := BuildFilter(Request{Width: 100, Height: 100, TemplatePath: "/tmp/o'brien:v1.png"})
	assert.Contains(t, f, `movie='/tmp/o\'brien\:v1.png'`)
}

func TestBuildArgsLowMemory(t *testing.T) {
	args := BuildArgs(Request{InputPath: "in.mp4", OutputPath: "out.mp4", Width: 1080, Height: 1920}, Options{LowMemory: true})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-threads 1")
	assert.Contains(t, joined, "-preset ultrafast")
	assert.Contains(t, joined, "-max_muxing_queue_size 512")
	assert.Contains(t, joined, "-movflags +faststart")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-c:a aac")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestBuildArgsDefaultQuality(t *testing.T) {
	args := BuildArgs(Request{InputPath: "in.mp4", OutputPath: "out.mp4", Width: 1080, Height: 1080}, Options{})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-preset medium")
	assert.Contains(t, joined, "-crf 23")
	assert.NotContains(t, joined, "-threads 1")
}
