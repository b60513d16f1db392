// /internal/stream/ffmpeg.go
package stream

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

const (
	Channels   = 2
	SampleRate = 48000
	FrameSize  = 960 // 20ms at 48kHz
)

type ffmpegStream struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
	err  error
}

func (s *ffmpegStream) Close() error {
	s.once.Do(func() {
		s.ReadCloser.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return s.err
}

// Decode starts ffmpeg turning any audio file into raw 48 kHz stereo s16le.
// Closing the reader stops the process.
func Decode(ctx context.Context, ffmpeg, path string) (io.ReadCloser, error) {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-i", path,
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("command start error: %w", err)
	}
	return &ffmpegStream{ReadCloser: reader, cmd: cmd}, nil
}
