// Package nlu is the heuristic language layer: wake-word normalization and
// gating, trigger confidence, music/chat scoring, media intent parsing and
// reminder/timer time parsing. Everything the pipeline needs goes through the
// Classifier interface so the heuristics can be replaced wholesale.
package nlu

import (
	"regexp"
	"strings"
	"time"
)

type IntentType string

const (
	IntentNone  IntentType = ""
	MediaPlay   IntentType = "MEDIA_PLAY"
	MediaPause  IntentType = "MEDIA_PAUSE"
	MediaNext   IntentType = "MEDIA_NEXT"
	MediaPrev   IntentType = "MEDIA_PREV"
	MediaInfo   IntentType = "MEDIA_INFO"
	ReminderSet IntentType = "REMINDER_SET"
	TimerSet    IntentType = "TIMER_SET"
	Chat        IntentType = "CHAT"
)

type Domain string

const (
	DomainMusic Domain = "music"
	DomainChat  Domain = "chat"
)

// MaxPrefixWords is how deep into an utterance the wake word may appear.
const MaxPrefixWords = 4

type Intent struct {
	Type              IntentType
	Domain            Domain
	Confidence        float64
	TriggerConfidence float64
}

// Analysis is the outcome of gating and scoring one utterance.
type Analysis struct {
	Normalized  string
	Triggered   bool
	PrefixWords int
	Remainder   string // text after the wake word
	Intent      Intent
}

// Classifier is the whole heuristic capability the pipeline depends on.
type Classifier interface {
	// Classify normalizes, gates on the wake word and scores the remainder.
	Classify(text string) Analysis
	// Score rates text (already past the wake word) as music or chat.
	Score(text string) Intent
}

var (
	musicKeywords = []string{
		"pause", "play", "stop", "skip", "next", "previous", "prev",
		"volume", "louder", "quieter", "mute", "unmute", "shuffle",
		"repeat", "song", "music", "track",
		"paz", "paus",
	}

	questionIndicators = []string{
		"how", "what", "when", "where", "why", "who", "which",
		"can you", "could you", "would you", "will you",
		"do you", "are you", "is it", "tell me", "explain",
	}

	mediaInfoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)what'?s? (playing|this song|the song|this track|this music|on)`),
		regexp.MustCompile(`(?i)what song is (this|playing|on)`),
		regexp.MustCompile(`(?i)what (song|track|music) (is |are )?(this|playing|on)`),
		regexp.MustCompile(`(?i)(tell me |what's )?(the |this )?song (name|title)`),
		regexp.MustCompile(`(?i)who'?s? (singing|playing|the artist)`),
		regexp.MustCompile(`(?i)what'?s? this (song|track|music|playing)`),
	}

	speakerLabel   = regexp.MustCompile(`^\s*[^:\d]{1,32}:\s+`)
	leadingPunct   = regexp.MustCompile(`^[\s,.!?;:\-]+`)
	questionMarker = regexp.MustCompile(`(?i)\?|how|what|when|where|why|who|can you|could you|tell me`)
	commandOpener  = regexp.MustCompile(`(?i)^(play|pause|stop|skip|next|tell|what|show|can|please)`)
)

// Heuristic is the default pattern-scoring Classifier.
type Heuristic struct {
	wake       string
	wakeRe     *regexp.Regexp
	normalizer *wakeNormalizer
	now        func() time.Time
}

// NewHeuristic builds a classifier for the canonical wake word and the
// spellings speech recognition tends to produce for it.
func NewHeuristic(wake string, variants []string) *Heuristic {
	return &Heuristic{
		wake:       wake,
		wakeRe:     regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(wake) + `\b`),
		normalizer: newWakeNormalizer(wake, variants),
		now:        time.Now,
	}
}

func (h *Heuristic) Classify(text string) Analysis {
	spoken := speakerLabel.ReplaceAllString(text, "")
	normalized := h.normalizer.normalize(spoken)

	a := Analysis{Normalized: normalized}

	loc := h.wakeRe.FindStringIndex(normalized)
	if loc == nil {
		return a
	}

	a.PrefixWords = len(strings.Fields(normalized[:loc[0]]))
	if a.PrefixWords > MaxPrefixWords {
		return a
	}

	a.Remainder = strings.TrimSpace(leadingPunct.ReplaceAllString(normalized[loc[1]:], ""))
	if a.Remainder == "" {
		return a
	}

	a.Triggered = true
	a.Intent = h.Score(a.Remainder)
	a.Intent.TriggerConfidence = TriggerConfidence(a.PrefixWords, a.Remainder)

	now := h.now()
	switch {
	case ParseReminderAt(a.Remainder, now) != nil:
		a.Intent.Type = ReminderSet
	case ParseTimerAt(a.Remainder, now) != nil:
		a.Intent.Type = TimerSet
	case a.Intent.Domain == DomainMusic:
		a.Intent.Type = ParseMedia(a.Remainder)
	default:
		a.Intent.Type = Chat
	}
	return a
}

// TriggerConfidence estimates whether the wake word was meant for us.
func TriggerConfidence(prefixWords int, remainder string) float64 {
	c := 1.0
	if prefixWords > 1 {
		c -= float64(prefixWords-1) * 0.15
	}
	if questionMarker.MatchString(remainder) {
		c += 0.2
	}
	switch n := len(strings.Fields(remainder)); {
	case n < 3:
		c -= 0.3
	case n >= 5:
		c += 0.1
	}
	if commandOpener.MatchString(remainder) {
		c += 0.15
	}
	return clamp01(c)
}

func (h *Heuristic) Score(text string) Intent {
	lower := strings.ToLower(text)
	short := len(strings.Fields(text)) <= 2

	music := 0
	for _, kw := range musicKeywords {
		if strings.Contains(lower, kw) {
			music++
		}
	}
	if short {
		music += 2
	}
	for _, re := range mediaInfoPatterns {
		if re.MatchString(text) {
			music += 10
			break
		}
	}

	chat := 0
	for _, q := range questionIndicators {
		if strings.Contains(lower, q) {
			chat++
		}
	}
	if strings.Contains(lower, "?") {
		chat += 2
	}

	total := float64(music + chat + 1)
	switch {
	case music > chat:
		return Intent{Domain: DomainMusic, Confidence: min(float64(music)/total, 0.95)}
	case chat > music:
		return Intent{Domain: DomainChat, Confidence: min(float64(chat)/total, 0.95)}
	case short:
		return Intent{Domain: DomainMusic, Confidence: 0.5}
	default:
		return Intent{Domain: DomainChat, Confidence: 0.5}
	}
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
