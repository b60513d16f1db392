package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempClipRemovedOnDispose(t *testing.T) {
	c, f, err := TempFile(filepath.Join(t.TempDir(), "tts"), "speech", ".mp3")
	require.NoError(t, err)
	_, _ = f.WriteString("ID3")
	require.NoError(t, f.Close())

	assert.FileExists(t, c.Path)
	c.Dispose()
	c.Dispose()
	assert.NoFileExists(t, c.Path)
}

func TestFileClipSurvivesDispose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thinking.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	File(path).Dispose()
	assert.FileExists(t, path)
}
