// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	FieldJobID     = "job_id"
	FieldComponent = "component"
	FieldEvent     = "event"

	FieldTemplate    = "template"
	FieldAspectRatio = "aspect_ratio"
	FieldExitCode    = "exit_code"

	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	FieldPath       = "path"
	FieldOutputPath = "output_path"
)
