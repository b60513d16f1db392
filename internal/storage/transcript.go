package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var unsafeFileChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// TranscriptLog appends recognized speech and spoken replies to one file per
// user per day: <dir>/YYYY-MM-DD/<name>-<id>.txt.
type TranscriptLog struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func NewTranscriptLog(dir string) *TranscriptLog {
	return &TranscriptLog{dir: dir, now: time.Now}
}

// Append writes one timestamped line.
func (t *TranscriptLog) Append(username, userID, text string) error {
	return t.write(username, userID, text)
}

// Event writes a marker line such as a join or leave.
func (t *TranscriptLog) Event(username, userID, event string) error {
	return t.write(username, userID, "*** "+event+" ***")
}

func (t *TranscriptLog) write(username, userID, text string) error {
	now := t.now()
	dayDir := filepath.Join(t.dir, now.Format(time.DateOnly))
	name := fmt.Sprintf("%s-%s.txt", unsafeFileChars.Replace(username), userID)
	line := fmt.Sprintf("[%s] %s\n", now.Format(time.TimeOnly), text)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dayDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
