// SPDX-License-Identifier: MIT

package transcode

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestEngineErrorMessages(t *testing.T) {
	timeout := &EngineError{Timeout: true}
	assert.Contains(t, timeout.Error(), "timed out")

	verify := &EngineError{Verify: "output file not created (likely killed by low memory)"}
	assert.Contains(t, verify.Error(), "likely killed by low memory")

	exit := &EngineError{ExitCode: 137, Tail: []string{"Killed"}}
	assert.Contains(t, exit.Error(), "code 137")
	assert.Contains(t, exit.Error(), "Killed")
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	// ffmpeg stderr quotes input filenames verbatim, so the tail can hold
	// multi-byte runes at any byte offset.
	line := "a" + strings.Repeat("ä", maxDiagnosticChars)
	e := &EngineError{ExitCode: 1, Tail: []string{line}}

	msg := e.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, "...")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))

	// Cutting inside a two-byte rune backs up to the boundary.
	got := truncate("aä", 2)
	assert.Equal(t, "a...", got)
	assert.True(t, utf8.ValidString(got))
}
