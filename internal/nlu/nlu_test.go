package nlu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier() *Heuristic {
	return NewHeuristic("Mina", []string{"meena", "nina", "mena", "minae"})
}

func TestNormalize(t *testing.T) {
	n := newWakeNormalizer("Mina", []string{"meena", "nina", "mena", "minae"})

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"variant replaced", "Meena what time is it", "Mina what time is it"},
		{"lone minae pauses", "Minae.", "Mina pause"},
		{"misheard opener", "mean a pause", "Mina pause"},
		{"meet up opener", "meet up skip", "Mina skip"},
		{"variant with clipped pause", "nina paz", "Mina pause"},
		{"standalone paus", "Mina paus the song", "Mina pause the song"},
		{"conversational mean untouched", "I mean, listen to me nina", "I mean, listen to me nina"},
		{"mean with far verb untouched", "mean that we should all play later", "mean that we should all play later"},
		{"unrelated text", "hello there", "hello there"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.normalize(tt.input))
		})
	}
}

func TestClassifyWakeGate(t *testing.T) {
	c := newTestClassifier()

	a := c.Classify("hey there Mina what is the capital of France")
	require.True(t, a.Triggered)
	assert.Equal(t, 2, a.PrefixWords)
	assert.Greater(t, a.Intent.TriggerConfidence, 0.6)
	assert.Equal(t, "what is the capital of France", a.Remainder)

	a = c.Classify("so I was telling him that Mina should play more")
	assert.False(t, a.Triggered)
	assert.Equal(t, 6, a.PrefixWords)

	assert.False(t, c.Classify("nothing to see here").Triggered)
	assert.False(t, c.Classify("Mina").Triggered)
}

func TestClassifySpeakerLabel(t *testing.T) {
	a := newTestClassifier().Classify("Alex: Mina skip this song")
	require.True(t, a.Triggered)
	assert.Equal(t, "skip this song", a.Remainder)
	assert.Equal(t, MediaNext, a.Intent.Type)
}

func TestMediaInfoOverridesQuestion(t *testing.T) {
	a := newTestClassifier().Classify("Mina, what's playing right now?")
	require.True(t, a.Triggered)
	assert.Equal(t, DomainMusic, a.Intent.Domain)
	assert.Greater(t, a.Intent.Confidence, 0.6)
	assert.Equal(t, MediaInfo, a.Intent.Type)
}

func TestScore(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		text   string
		domain Domain
	}{
		{"pause", DomainMusic},
		{"skip the song", DomainMusic},
		{"how tall is the eiffel tower?", DomainChat},
		{"tell me a story about dragons", DomainChat},
		{"good morning", DomainMusic}, // short phrases lean music
		{"good morning to you all", DomainChat},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := c.Score(tt.text)
			assert.Equal(t, tt.domain, got.Domain)
			assert.LessOrEqual(t, got.Confidence, 0.95)
		})
	}
}

func TestTriggerConfidence(t *testing.T) {
	assert.InDelta(t, 1.0, TriggerConfidence(0, "what is the weather like today"), 1e-9)
	assert.InDelta(t, 0.7, TriggerConfidence(0, "hello friend"), 1e-9)
	assert.InDelta(t, 0.7, TriggerConfidence(3, "banana bread recipe"), 1e-9)
	assert.InDelta(t, 0.25, TriggerConfidence(4, "ok"), 1e-9)
}

func TestParseMedia(t *testing.T) {
	tests := map[string]IntentType{
		"play next song":           MediaNext,
		"skip":                     MediaNext,
		"go back":                  MediaPrev,
		"pause the music":          MediaPause,
		"turn off the music":       MediaPause,
		"resume":                   MediaPlay,
		"what's playing right now": MediaInfo,
		"what song is this":        MediaInfo,
		"volume":                   IntentNone,
		"":                         IntentNone,
	}
	for text, want := range tests {
		assert.Equal(t, want, ParseMedia(text), text)
	}
}

func TestParseReminder(t *testing.T) {
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

	r := ParseReminderAt("remind me to call mom in ten minutes", now)
	require.NotNil(t, r)
	assert.Equal(t, "call mom", r.Message)
	assert.Equal(t, now.Add(10*time.Minute), r.RemindAt)

	r = ParseReminderAt("set a reminder for the oven in 1 hour 30 minutes", now)
	require.NotNil(t, r)
	assert.Equal(t, "the oven", r.Message)
	assert.Equal(t, now.Add(90*time.Minute), r.RemindAt)

	r = ParseReminderAt("remind me to stretch at 9am", now)
	require.NotNil(t, r)
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), r.RemindAt)

	assert.Nil(t, ParseReminderAt("remind me to relax", now))
	assert.Nil(t, ParseReminderAt("what is the time", now))
}

func TestParseTimer(t *testing.T) {
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

	for _, text := range []string{"set a timer for 5 minutes", "timer for five minutes", "set a 5 minute timer"} {
		tm := ParseTimerAt(text, now)
		require.NotNil(t, tm, text)
		assert.True(t, tm.IsTimer)
		assert.Equal(t, now.Add(5*time.Minute), tm.RemindAt, text)
	}
	assert.Nil(t, ParseTimerAt("set a timer", now))
}

func TestParseTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"30 seconds", now.Add(30 * time.Second), true},
		{"2 days", now.AddDate(0, 0, 2), true},
		{"at 3pm", time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC), true},
		{"at 1:15pm", time.Date(2025, 6, 2, 13, 15, 0, 0, time.UTC), true},
		{"16:45", time.Date(2025, 6, 1, 16, 45, 0, 0, time.UTC), true},
		{"tomorrow at 3pm", time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC), true},
		{"5", time.Time{}, false},
		{"at 25", time.Time{}, false},
		{"soon", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTime(tt.in, now)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNumberToWords(t *testing.T) {
	assert.Equal(t, "zero", NumberToWords("0"))
	assert.Equal(t, "seven minutes", NumberToWords("7 minutes"))
	assert.Equal(t, "fifteen and forty two", NumberToWords("15 and 42"))
	assert.Equal(t, "thirty", NumberToWords("30"))
	assert.Equal(t, "120 minutes", NumberToWords("120 minutes"))

	assert.Equal(t, "forty five seconds", SpokenDuration(45*time.Second))
	assert.Equal(t, "ten minutes", SpokenDuration(10*time.Minute))
}
