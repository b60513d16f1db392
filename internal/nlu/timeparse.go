package nlu

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Scheduled is a parsed reminder or timer request.
type Scheduled struct {
	Message  string
	RemindAt time.Time
	IsTimer  bool
}

// greedy message so the split happens at the last "in"/"at"
var (
	reminderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)remind me (?:to )?(.+)(?:\s+in\s+(.+))`),
		regexp.MustCompile(`(?i)set a reminder (?:to |for )?(.+)(?:\s+in\s+(.+))`),
		regexp.MustCompile(`(?i)remind me (?:to )?(.+)(?:\s+at\s+(.+))`),
		regexp.MustCompile(`(?i)set a reminder (?:to |for )?(.+)(?:\s+at\s+(.+))`),
	}

	timerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)set a timer for (.+)`),
		regexp.MustCompile(`(?i)set timer for (.+)`),
		regexp.MustCompile(`(?i)^timer for (.+)`),
		regexp.MustCompile(`(?i)set a (.+) timer`),
		regexp.MustCompile(`(?i)set (.+) timer`),
	}

	durationPart = regexp.MustCompile(`(?i)(\d+)\s*(minute|min|hour|hr|day|week|second|sec)s?`)
	clockTime    = regexp.MustCompile(`(?i)(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
	tomorrowTime = regexp.MustCompile(`(?i)tomorrow(?:\s+at)?\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
	atWord       = regexp.MustCompile(`(?i)\bat\b`)

	numberWords = map[string]string{
		"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
		"six": "6", "seven": "7", "eight": "8", "nine": "9", "ten": "10",
		"eleven": "11", "twelve": "12", "twenty": "20", "thirty": "30",
		"forty": "40", "fifty": "50", "sixty": "60",
	}
	numberWordRe = regexp.MustCompile(`(?i)\b(one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|twenty|thirty|forty|fifty|sixty)\b`)
)

// ParseReminder parses "remind me to X in/at T" relative to the current time.
func ParseReminder(text string) *Scheduled {
	return ParseReminderAt(text, time.Now())
}

func ParseReminderAt(text string, now time.Time) *Scheduled {
	for _, re := range reminderPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		msg := strings.TrimSpace(m[1])
		if msg == "" || m[2] == "" {
			continue
		}
		if at, ok := ParseTime(m[2], now); ok {
			return &Scheduled{Message: msg, RemindAt: at}
		}
	}
	return nil
}

// ParseTimer parses "set a timer for T" and its variants.
func ParseTimer(text string) *Scheduled {
	return ParseTimerAt(text, time.Now())
}

func ParseTimerAt(text string, now time.Time) *Scheduled {
	for _, re := range timerPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if at, ok := ParseTime(strings.TrimSpace(m[1]), now); ok {
			return &Scheduled{Message: "Timer", RemindAt: at, IsTimer: true}
		}
	}
	return nil
}

// ParseTime understands durations ("1 hour 30 minutes"), "tomorrow at 9" and
// clock times ("at 5", "5:30", "5pm"). A clock time already past today means
// tomorrow. A bare number is rejected.
func ParseTime(s string, now time.Time) (time.Time, bool) {
	s = wordsToNumbers(strings.ToLower(s))

	if m := tomorrowTime.FindStringSubmatch(s); m != nil {
		return clockOn(now.AddDate(0, 0, 1), m[1], m[2], m[3])
	}

	if parts := durationPart.FindAllStringSubmatch(s, -1); len(parts) > 0 {
		at := now
		for _, p := range parts {
			n, err := strconv.Atoi(p[1])
			if err != nil {
				return time.Time{}, false
			}
			switch strings.ToLower(p[2]) {
			case "second", "sec":
				at = at.Add(time.Duration(n) * time.Second)
			case "minute", "min":
				at = at.Add(time.Duration(n) * time.Minute)
			case "hour", "hr":
				at = at.Add(time.Duration(n) * time.Hour)
			case "day":
				at = at.AddDate(0, 0, n)
			case "week":
				at = at.AddDate(0, 0, 7*n)
			}
		}
		return at, true
	}

	m := clockTime.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	if !atWord.MatchString(s) && m[2] == "" && m[3] == "" {
		return time.Time{}, false
	}

	at, ok := clockOn(now, m[1], m[2], m[3])
	if !ok {
		return time.Time{}, false
	}
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, true
}

func clockOn(day time.Time, hourStr, minuteStr, ampm string) (time.Time, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return time.Time{}, false
	}
	minute := 0
	if minuteStr != "" {
		if minute, err = strconv.Atoi(minuteStr); err != nil {
			return time.Time{}, false
		}
	}

	switch strings.ToLower(ampm) {
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	y, mo, d := day.Date()
	return time.Date(y, mo, d, hour, minute, 0, 0, day.Location()), true
}

func wordsToNumbers(s string) string {
	return numberWordRe.ReplaceAllStringFunc(s, func(w string) string {
		return numberWords[strings.ToLower(w)]
	})
}
