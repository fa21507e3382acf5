package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfigureOutputJSON tests that the json format emits one object per line
func TestConfigureOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ConfigureOutput(&buf, "debug", "json"))
	t.Cleanup(func() { _ = ConfigureOutput(&bytes.Buffer{}, "info", "text") })

	logrus.WithField("partition", "boot").Debug("Building partition")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boot", entry["partition"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

// TestConfigureRejectsBadInput tests level and format validation
func TestConfigureRejectsBadInput(t *testing.T) {
	assert.Error(t, ConfigureOutput(&bytes.Buffer{}, "loud", "text"))
	assert.Error(t, ConfigureOutput(&bytes.Buffer{}, "info", "xml"))
}
