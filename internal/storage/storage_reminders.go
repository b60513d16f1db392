package storage

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Reminder struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	GuildID   string    `json:"guild_id"`
	Message   string    `json:"message"`
	RemindAt  time.Time `json:"remind_at"`
	CreatedAt time.Time `json:"created_at"`
	IsTimer   bool      `json:"is_timer,omitempty"`
}

// NewReminder builds an unsaved reminder with a fresh id.
func NewReminder(userID, guildID, message string, remindAt time.Time, isTimer bool) Reminder {
	return Reminder{
		ID:        uuid.NewString(),
		UserID:    userID,
		GuildID:   guildID,
		Message:   message,
		RemindAt:  remindAt,
		CreatedAt: time.Now(),
		IsTimer:   isTimer,
	}
}

// AddReminder appends the reminder and rewrites the list.
func (s *Storage) AddReminder(r Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders = append(s.reminders, r)
	s.persist(keyReminders, s.reminders)
}

// RemoveReminder deletes by id and reports whether it existed.
func (s *Storage) RemoveReminder(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.reminders, func(r Reminder) bool { return r.ID == id })
	if i < 0 {
		return false
	}
	s.reminders = slices.Delete(s.reminders, i, i+1)
	s.persist(keyReminders, s.reminders)
	return true
}

func (s *Storage) Reminder(id string) (Reminder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reminders {
		if r.ID == id {
			return r, true
		}
	}
	return Reminder{}, false
}

// UserReminders returns the user's reminders ordered by due time.
func (s *Storage) UserReminders(userID string) []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Reminder
	for _, r := range s.reminders {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Reminder) int { return a.RemindAt.Compare(b.RemindAt) })
	return out
}

// Reminders returns a copy of the whole list.
func (s *Storage) Reminders() []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.reminders)
}

// PruneReminders removes reminders due at or before cutoff and returns how
// many were dropped.
func (s *Storage) PruneReminders(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.reminders)
	s.reminders = slices.DeleteFunc(s.reminders, func(r Reminder) bool {
		return !r.RemindAt.After(cutoff)
	})
	removed := before - len(s.reminders)
	if removed > 0 {
		s.persist(keyReminders, s.reminders)
	}
	return removed
}
