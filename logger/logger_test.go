package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/migadu/protonfusion/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json", "info")
	t.Cleanup(func() { globalLogger = nil })

	Info("capture created", "snapshot", "2026-01-02_03-04-05", "rules", 3)
	Debug("hidden at info level")

	out := buf.String()
	assert.Contains(t, out, `"msg":"capture created"`)
	assert.Contains(t, out, `"rules":3`)
	assert.NotContains(t, out, "hidden at info level")
}

func TestInitializeFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pf.log")
	f, err := Initialize(config.LoggingConfig{Output: path, Format: "console", Level: "debug"})
	require.NoError(t, err)
	require.NotNil(t, f)
	t.Cleanup(func() {
		f.Close()
		globalLogger = nil
	})

	Debug("debug line", "k", "v")
	assert.Equal(t, f.Name(), path)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "WARN", parseLogLevel("warning").String())
	assert.Equal(t, "INFO", parseLogLevel("bogus").String())
	assert.Equal(t, "ERROR", parseLogLevel("error").String())
}
