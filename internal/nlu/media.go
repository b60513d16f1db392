package nlu

import (
	"regexp"
	"strings"
)

var (
	nonWord    = regexp.MustCompile(`[^\w\s]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// checked in order; NEXT precedes PLAY so "play next song" skips
var mediaRules = []struct {
	intent   IntentType
	patterns []*regexp.Regexp
}{
	{MediaNext, compileAll(
		`\b(skip|next)\b`,
		`\b(skip|next)\s+(song|track|one|this)\b`,
		`\bplay\s+next\s+(song|track|one)\b`,
		`\bgo\s+forward\b`,
	)},
	{MediaPrev, compileAll(
		`\b(previous|prev|back)\b`,
		`\bgo\s+back\b`,
		`\b(previous|last)\s+(song|track|one)\b`,
		`\bplay\s+previous\s+(song|track|one)\b`,
	)},
	{MediaPause, compileAll(
		`\b(pause|stop|halt)\b`,
		`\b(pause|stop)\s+(music|song|track|it|this)\b`,
		`\bturn\s+(off|down)\s+(the\s+)?music\b`,
	)},
	{MediaPlay, compileAll(
		`\b(play|resume|start)\b`,
		`\b(play|resume|start)\s+(music|song|track|it|this)\b`,
		`\bturn\s+on\s+(the\s+)?music\b`,
	)},
	{MediaInfo, compileAll(
		`\bwhat\s+(song|track)\s+is\s+(this|playing)\b`,
		`\bwhat\s+is\s+this\s+(song|track)\b`,
		`\bwhat\s+am\s+i\s+(listening|listening to)\b`,
		`\bwhat(?:s| is| s)\s+playing\b`,
		`\bwhat(?:s| is| s)\s+this\b.*\b(song|track)\b`,
	)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// ParseMedia maps a media request to a concrete media intent, IntentNone when
// nothing fits.
func ParseMedia(text string) IntentType {
	t := strings.ToLower(text)
	t = nonWord.ReplaceAllString(t, " ")
	t = strings.TrimSpace(whitespace.ReplaceAllString(t, " "))
	if t == "" {
		return IntentNone
	}

	for _, rule := range mediaRules {
		for _, re := range rule.patterns {
			if re.MatchString(t) {
				return rule.intent
			}
		}
	}
	return IntentNone
}
