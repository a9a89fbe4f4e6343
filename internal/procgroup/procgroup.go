// SPDX-License-Identifier: MIT

// Package procgroup spawns subprocesses in their own process group so a kill
// reaches the whole tree, not just the direct child. ffmpeg and yt-dlp both
// fork helpers that would otherwise survive a timeout.
package procgroup
