package nlu

import (
	"regexp"
	"strings"
)

const commandVerbs = `pause|play|stop|skip|next|previous|prev`

var (
	conversationalMean = regexp.MustCompile(`(?i)^(i\s+)?mean[,\s]`)
	meanPrefix         = regexp.MustCompile(`(?i)^(i\s+)?mean[,\s]*`)
	hasCommandVerb     = regexp.MustCompile(`(?i)\b(` + commandVerbs + `)\b`)
	standalonePaus     = regexp.MustCompile(`(?i)\b(paz|paus)\b`)

	// recognizers turn a lone clipped "Mina, pause" into this
	loneMinae = regexp.MustCompile(`(?i)^minae[.!?\s]*$`)

	// misheard "<wake> <verb>" at the very start of an utterance
	misheardOpeners = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^mean[\s-]*a\s+(` + commandVerbs + `)`),
		regexp.MustCompile(`(?i)^mean[\s-]*up\s+(` + commandVerbs + `)`),
		regexp.MustCompile(`(?i)^meet[\s-]*up\s+(` + commandVerbs + `)`),
		regexp.MustCompile(`(?i)^meaner\s+(` + commandVerbs + `)`),
	}
)

// wakeNormalizer folds recognizer spellings of the wake word into one token.
type wakeNormalizer struct {
	wake      string
	variants  *regexp.Regexp // nil when there are no variants
	wakePause *regexp.Regexp
}

func newWakeNormalizer(wake string, variants []string) *wakeNormalizer {
	quoted := make([]string, 0, len(variants))
	for _, v := range variants {
		if v = strings.TrimSpace(v); v != "" {
			quoted = append(quoted, regexp.QuoteMeta(v))
		}
	}

	n := &wakeNormalizer{wake: wake}
	all := append([]string{regexp.QuoteMeta(wake)}, quoted...)
	n.wakePause = regexp.MustCompile(`(?i)\b(` + strings.Join(all, "|") + `)\s*(paus|paz)\b`)
	if len(quoted) > 0 {
		n.variants = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	}
	return n
}

func (n *wakeNormalizer) normalize(text string) string {
	trimmed := strings.TrimSpace(text)

	// "I mean, ..." is conversation unless a command verb follows closely
	if conversationalMean.MatchString(trimmed) {
		after := strings.TrimSpace(meanPrefix.ReplaceAllString(trimmed, ""))
		words := strings.Fields(after)
		if len(words) > 3 {
			words = words[:3]
		}
		if !hasCommandVerb.MatchString(strings.Join(words, " ")) {
			return text
		}
	}

	if loneMinae.MatchString(trimmed) {
		return n.wake + " pause"
	}

	out := text
	for _, re := range misheardOpeners {
		out = re.ReplaceAllString(out, n.wake+" ${1}")
	}
	out = n.wakePause.ReplaceAllString(out, n.wake+" pause")
	if n.variants != nil {
		out = n.variants.ReplaceAllString(out, n.wake)
	}
	return standalonePaus.ReplaceAllString(out, "pause")
}
