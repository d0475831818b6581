package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		log, err := New(Config{Level: "info", Format: "json"})
		require.NoError(t, err)
		require.NotNil(t, log)
		log.Info("works")
	})

	t.Run("console format", func(t *testing.T) {
		log, err := New(Config{Level: "debug", Format: "console"})
		require.NoError(t, err)
		log.Debug("works")
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Config{Level: "loud", Format: "json"})
		assert.Error(t, err)
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "warden.log")
		log, err := New(Config{
			Level:  "info",
			Format: "json",
			File:   &FileConfig{Enabled: true, Path: path},
		})
		require.NoError(t, err)

		log.Info("written to file")
		_ = log.Sync() // stdout sync errors on some platforms

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "written to file")
	})
}

func TestWithHelpers(t *testing.T) {
	log := Nop()
	assert.NotNil(t, log.WithComponent("budget"))
	assert.NotNil(t, log.WithRequestID("req-1"))
}
