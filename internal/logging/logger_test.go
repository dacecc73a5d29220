package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fadedpez/cantina/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, WARN)

	logger.Info("hidden %d", 1)
	logger.Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "logger_test.go")
}

func TestLogErrorCoded(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, DEBUG)

	err := types.WrapError(types.ErrCorruptDocument, "could not decode economy", errors.New("bad byte"))
	logger.LogError(err, "namespace", "economy")

	out := buf.String()
	assert.Contains(t, out, "Code: CORRUPT_DOCUMENT")
	assert.Contains(t, out, "Cause: bad byte")
	assert.Contains(t, out, "namespace: economy")
}

func TestLogErrorPlain(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, DEBUG)

	logger.LogError(errors.New("boom"))

	assert.Contains(t, buf.String(), "Unexpected error: boom")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}
