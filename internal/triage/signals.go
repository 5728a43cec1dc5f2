package triage

import (
	"regexp"
	"strings"
	"unicode"
)

// Content signal names.
const (
	SignalURL       = "url"
	SignalPhone     = "phone"
	SignalCharFlood = "char_flood"
	SignalWordFlood = "word_flood"
)

var (
	// urlPattern matches http/https URLs, www. URLs, and bare domains on
	// common TLDs. The bare-domain variant requires a trailing "/" so that
	// "v2.0" or "3.14" do not match.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches formats like +1-555-123-4567, (555) 123-4567 and
	// 555.123.4567, anchored to whitespace so short numbers do not match.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// contentCheck pairs a signal name with its detector.
type contentCheck struct {
	name  string
	match func(string) bool
}

// contentChecks run in order; every match is reported.
var contentChecks = []contentCheck{
	{name: SignalURL, match: urlPattern.MatchString},
	{name: SignalPhone, match: phonePattern.MatchString},
	{name: SignalCharFlood, match: hasCharFlood},
	{name: SignalWordFlood, match: hasWordFlood},
}

// ContentSignals returns the names of all content checks the text trips.
func ContentSignals(text string) []string {
	var signals []string
	for _, c := range contentChecks {
		if c.match(text) {
			signals = append(signals, c.name)
		}
	}
	return signals
}

// hasCharFlood reports whether text contains 5 or more consecutive identical
// characters. RE2 has no backreferences, hence the scan.
func hasCharFlood(text string) bool {
	const threshold = 5

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood reports whether the same word appears 3 or more times in a
// row, ignoring case.
func hasWordFlood(text string) bool {
	const threshold = 3

	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}
