package log

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newDiscardEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestNew(t *testing.T) {
	t.Run("valid level", func(t *testing.T) {
		logger := New(io.Discard, "debug")
		assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	})

	t.Run("invalid level falls back to info and warns", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, "loud")
		assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
		assert.Contains(t, buf.String(), "Invalid log level 'loud'")
	})
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")
	Component(logger, "dispatch").Info("hello")
	assert.Contains(t, buf.String(), "component=dispatch")
}

func TestNewBadgerLogrusAdapter(t *testing.T) {
	adapter := NewBadgerLogrusAdapter(newDiscardEntry())
	assert.NotNil(t, adapter)
	assert.Equal(t, "badger", adapter.Data["subsystem"])
}

func TestBadgerLogrusAdapter_Methods(t *testing.T) {
	adapter := NewBadgerLogrusAdapter(newDiscardEntry())

	assert.NotPanics(t, func() { adapter.Errorf("error %s", "test") })
	assert.NotPanics(t, func() { adapter.Warningf("warning %d", 42) })
	assert.NotPanics(t, func() { adapter.Infof("info %v", true) })
	assert.NotPanics(t, func() { adapter.Debugf("debug") })
}
