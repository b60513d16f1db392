package ai

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxReplyBytes bounds what gets handed to speech synthesis.
const maxReplyBytes = 2800

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	markdown   = strings.NewReplacer("**", "", "__", "", "`", "")
	quotePairs = map[rune]rune{'"': '"', '\'': '\'', '“': '”', '‘': '’'}
)

// isGarbageResponse catches error pages and refusals some free providers
// return with a 200 status.
func isGarbageResponse(s string) bool {
	if len(strings.TrimSpace(s)) < 2 {
		return true
	}
	l := strings.ToLower(s)
	return strings.Contains(l, "<html") || strings.Contains(l, "not allowed")
}

func truncate(b []byte) string {
	const n = 200
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func unquote(s string) string {
	first, size := utf8.DecodeRuneInString(s)
	last, lastSize := utf8.DecodeLastRuneInString(s)
	if len(s) <= size || quotePairs[first] != last {
		return s
	}
	return strings.TrimSpace(s[size : len(s)-lastSize])
}

// cutAtRune shortens s to at most n bytes without splitting a rune, preferring
// the end of a sentence.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	s = s[:n]
	if i := strings.LastIndexAny(s, ".!?"); i > n/2 {
		return s[:i+1]
	}
	return s
}

// cleanReply turns a model reply into speakable text: no reasoning blocks,
// no wrapping quotes, no markdown emphasis.
func cleanReply(reply string) string {
	reply = strings.TrimSpace(thinkBlock.ReplaceAllString(reply, ""))
	reply = unquote(reply)
	reply = markdown.Replace(reply)
	return cutAtRune(reply, maxReplyBytes)
}
