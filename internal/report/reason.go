package report

import "strings"

// ClassifyReason maps free text to a Reason. The input is trimmed and
// lower-cased, then looked up among the known labels; anything that is not
// an exact label is ReasonOther.
func ClassifyReason(text string) Reason {
	r, err := parseName(reasonLabels, strings.ToLower(strings.TrimSpace(text)), "reason")
	if err != nil || r == ReasonUnidentified {
		return ReasonOther
	}
	return r
}

// isYes reports whether a yes/no answer is affirmative. Only "yes" and "y"
// count; everything else is a no.
func isYes(text string) bool {
	switch strings.ToLower(text) {
	case "yes", "y":
		return true
	}
	return false
}
