package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/tablesight/internal/config"
)

func TestNewFormats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"text", func(t *testing.T, out string) {
			assert.Contains(t, out, "Hand closed")
			assert.Contains(t, out, "hand_id=7")
		}},
		{"logfmt", func(t *testing.T, out string) {
			assert.Contains(t, out, `msg="Hand closed"`)
			assert.Contains(t, out, "hand_id=7")
		}},
		{"json", func(t *testing.T, out string) {
			var line map[string]any
			require.NoError(t, json.Unmarshal([]byte(out), &line))
			assert.Equal(t, "Hand closed", line["msg"])
			assert.EqualValues(t, 7, line["hand_id"])
		}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, closer, err := New(config.Logging{Level: "info", Format: tt.format}, &buf)
			require.NoError(t, err)
			defer closer.Close()

			logger.Debug("Hidden")
			logger.Info("Hand closed", "hand_id", 7)
			assert.NotContains(t, buf.String(), "Hidden")
			tt.check(t, buf.String())
		})
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, _, err := New(config.Logging{Level: "loud", Format: "text"}, &bytes.Buffer{})
	assert.Error(t, err)
	_, _, err = New(config.Logging{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablesight.log")
	var buf bytes.Buffer
	logger, closer, err := New(config.Logging{Level: "debug", Format: "text", File: path}, &buf)
	require.NoError(t, err)

	logger.Debug("Cycle", "n", 1)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Cycle")
	assert.Empty(t, buf.String())
}
