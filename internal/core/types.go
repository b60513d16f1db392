// /internal/core/types.go
package core

import "github.com/keshon/mina/internal/storage"

// UtteranceContext describes who said something and where. Built once per
// recognized utterance and passed by value.
type UtteranceContext struct {
	UserID        string
	SessionID     string // guild id
	DisplayName   string
	SessionName   string
	CurrentStatus string
}

// SatelliteCommand is a media action forwarded to the user's companion agent.
type SatelliteCommand struct {
	Type    string
	Payload map[string]any
}

type Metadata struct {
	NewStatus string
}

// Plan is the sparse result of handling one utterance. The zero Plan is an
// explicit no-op.
type Plan struct {
	Speak            string
	PlayFile         string
	SatelliteCommand *SatelliteCommand
	Reminder         *storage.Reminder
	Timer            *storage.Reminder
	Metadata         Metadata
}

// IsEmpty reports whether the plan has no side effects.
func (p Plan) IsEmpty() bool {
	return p.Speak == "" &&
		p.PlayFile == "" &&
		p.SatelliteCommand == nil &&
		p.Reminder == nil &&
		p.Timer == nil &&
		p.Metadata.NewStatus == ""
}
