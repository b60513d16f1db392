// Package transcribe runs an external speech recognizer per utterance.
package transcribe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Subprocess starts Command for every utterance, writes s16le mono 16 kHz PCM
// to its stdin and reads JSON lines from stdout:
//
//	{"text": "recognized words"}
//	{"error": "recognizer message"}
//
// Error lines are logged; a failing exit ends the sequence with an error.
type Subprocess struct {
	Command []string
	Env     []string
	log     zerolog.Logger
}

func NewSubprocess(command []string, log zerolog.Logger) *Subprocess {
	return &Subprocess{Command: command, log: log}
}

type line struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

func (s *Subprocess) Transcribe(ctx context.Context, pcm io.Reader, userID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if len(s.Command) == 0 {
			yield("", errors.New("transcriber command not configured"))
			return
		}
		log := s.log.With().Str("user", userID).Logger()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
		if len(s.Env) > 0 {
			cmd.Env = append(cmd.Environ(), s.Env...)
		}
		cmd.WaitDelay = 2 * time.Second
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			yield("", fmt.Errorf("stdin pipe: %w", err))
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield("", fmt.Errorf("stdout pipe: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield("", fmt.Errorf("start transcriber: %w", err))
			return
		}

		fed := make(chan error, 1)
		go func() {
			_, err := io.Copy(stdin, pcm)
			stdin.Close()
			fed <- err
		}()

		stopped := false
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}
			var l line
			if err := json.Unmarshal(raw, &l); err != nil {
				log.Debug().Err(err).Bytes("line", raw).Msg("unparsable transcriber output")
				continue
			}
			if l.Error != "" {
				log.Warn().Str("error", l.Error).Msg("transcriber reported an error")
				continue
			}
			if l.Text != "" && !yield(l.Text, nil) {
				stopped = true
				break
			}
		}

		if stopped {
			cancel()
		} else {
			// drain after a scan error so the process is not blocked writing
			_, _ = io.Copy(io.Discard, stdout)
		}
		waitErr := cmd.Wait()
		if stopped || ctx.Err() != nil {
			return
		}

		// the feeder may still be blocked on pcm; it finishes once the caller
		// closes the stream
		var feedErr error
		select {
		case feedErr = <-fed:
		default:
		}
		if waitErr != nil {
			msg := strings.TrimSpace(stderr.String())
			yield("", fmt.Errorf("transcriber exited: %w: %s", waitErr, msg))
			return
		}
		if feedErr != nil && !errors.Is(feedErr, io.ErrClosedPipe) {
			yield("", fmt.Errorf("feed audio: %w", feedErr))
		}
	}
}
