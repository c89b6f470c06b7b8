package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	logger, closer, err := New(Options{Name: "gateway", Dir: dir, Level: "debug", Console: &console})
	require.NoError(t, err)

	logger.WithFields(logrus.Fields{"operation": "POST /api/posts"}).Debug("rate limit exceeded")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "gateway.log"))
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "rate limit exceeded", entry["msg"])
	assert.Equal(t, "POST /api/posts", entry["operation"])
	assert.Equal(t, "debug", entry["level"])
	assert.Contains(t, console.String(), "rate limit exceeded")
}

func TestNew_Level(t *testing.T) {
	tests := map[string]logrus.Level{
		"":      logrus.InfoLevel,
		"debug": logrus.DebugLevel,
		"warn":  logrus.WarnLevel,
		"bogus": logrus.InfoLevel,
	}
	for level, want := range tests {
		logger, closer, err := New(Options{Name: "level", Dir: t.TempDir(), Level: level})
		require.NoError(t, err)
		assert.Equal(t, want, logger.GetLevel(), "level %q", level)
		require.NoError(t, closer.Close())
	}
}

func TestNew_RejectsPathInName(t *testing.T) {
	_, _, err := New(Options{Name: "../escape", Dir: t.TempDir()})

	assert.Error(t, err)
}

func TestAsyncFileWriter_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writer, err := NewAsyncFileWriter(path, 1024)
	require.NoError(t, err)

	_, err = writer.Write([]byte("line\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close())

	_, err = writer.Write([]byte("late\n"))
	assert.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
	assert.Equal(t, uint64(0), writer.Dropped())
}
