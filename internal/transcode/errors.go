// SPDX-License-Identifier: MIT

package transcode

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxDiagnosticChars bounds the job-visible failure text. The full tail is
// still logged for operators.
const maxDiagnosticChars = 300

// EngineError describes a failed transcode run: a non-zero exit, a timeout,
// or an output that did not survive verification.
type EngineError struct {
	ExitCode int
	Timeout  bool
	// Verify is set when the process exited cleanly but the output artifact
	// was missing or undersized.
	Verify string
	// Tail is the bounded trailing excerpt of the stderr stream.
	Tail []string
}

func (e *EngineError) Error() string {
	var msg string
	switch {
	case e.Timeout:
		msg = "transcode timed out"
	case e.Verify != "":
		msg = e.Verify
	default:
		msg = fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	}
	if len(e.Tail) > 0 {
		msg += ": " + truncate(strings.Join(e.Tail, " | "), maxDiagnosticChars)
	}
	return msg
}

// truncate cuts s to at most n bytes on a rune boundary; stderr carries
// filenames, so a byte-index cut could leave invalid UTF-8 behind.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
