package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", &buf)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	logger.WithField("offset", 42).Warn("chunk skipped")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "chunk skipped")
	assert.Contains(t, out, "offset=42")
}

func TestSetLevel(t *testing.T) {
	testCases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"DEBUG":   logrus.DebugLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"bogus":   logrus.InfoLevel,
	}
	for level, want := range testCases {
		logger := Discard()
		SetLevel(logger, level)
		assert.Equal(t, want, logger.GetLevel(), level)
	}
}
