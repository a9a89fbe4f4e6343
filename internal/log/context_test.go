// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestJobIDRoundTrip(t *testing.T) {
	ctx := ContextWithJobID(context.Background(), "abc123def456")
	assert.Equal(t, "abc123def456", JobIDFromContext(ctx))

	assert.Equal(t, "", JobIDFromContext(context.Background()))
	assert.Equal(t, "", JobIDFromContext(nil)) //nolint:staticcheck // nil-safety contract
}

func TestWithContextAddsJobID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithJobID(context.Background(), "deadbeef0001")
	out := WithContext(ctx, logger)
	out.Info().Msg("hello")

	assert.True(t, strings.Contains(buf.String(), `"job_id":"deadbeef0001"`))
}

func TestWithContextNoFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	out := WithContext(context.Background(), logger)
	out.Info().Msg("plain")
	assert.False(t, strings.Contains(buf.String(), "job_id"))
}
