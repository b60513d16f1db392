package nlu

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

var (
	ones  = []string{"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}
	teens = []string{"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen"}
	tens  = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}

	digits = regexp.MustCompile(`\b\d+\b`)
)

// NumberToWords spells out every number below 100 in text so speech engines
// read it naturally. Larger numbers stay as digits.
func NumberToWords(text string) string {
	return digits.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(m)
		if err != nil || n >= 100 {
			return m
		}
		return spell(n)
	})
}

func spell(n int) string {
	switch {
	case n == 0:
		return "zero"
	case n < 10:
		return ones[n]
	case n < 20:
		return teens[n-10]
	case n%10 == 0:
		return tens[n/10]
	default:
		return tens[n/10] + " " + ones[n%10]
	}
}

// SpokenDuration renders d as "<n> seconds" under a minute, else "<n> minutes",
// with n spelled out.
func SpokenDuration(d time.Duration) string {
	secs := int(math.Round(d.Seconds()))
	if secs < 60 {
		return NumberToWords(fmt.Sprintf("%d seconds", secs))
	}
	mins := int(math.Round(d.Minutes()))
	return NumberToWords(fmt.Sprintf("%d minutes", mins))
}
