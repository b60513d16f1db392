// Package audio holds playable audio resources.
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Clip is an audio file on disk. Temporary clips are deleted on Dispose.
type Clip struct {
	Path string
	Temp bool

	once sync.Once
}

// File wraps an existing sound file that must outlive playback.
func File(path string) *Clip {
	return &Clip{Path: path}
}

// TempFile creates an empty temporary clip in dir with the given extension.
func TempFile(dir, prefix, ext string) (*Clip, *os.File, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(dir, prefix+"-*"+ext)
	if err != nil {
		return nil, nil, fmt.Errorf("create temp clip: %w", err)
	}
	return &Clip{Path: filepath.Clean(f.Name()), Temp: true}, f, nil
}

func (c *Clip) Dispose() {
	if c == nil || !c.Temp {
		return
	}
	c.once.Do(func() {
		_ = os.Remove(c.Path)
	})
}
