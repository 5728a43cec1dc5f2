package report

import "strconv"

// Details holds the answers collected after the reason question. It is either
// GenericDetails or *BlackmailDetails depending on the branch taken.
type Details interface {
	// reviewLines renders the answers for the review step.
	reviewLines() []string
}

// GenericDetails is the free-text description collected for every reason
// except blackmail.
type GenericDetails struct {
	Text string
}

func (d GenericDetails) reviewLines() []string {
	return []string{"Details: " + d.Text}
}

// BlackmailDetails holds the three yes/no answers of the blackmail branch. A
// field is nil until its question has been answered.
type BlackmailDetails struct {
	PreviousBlackmail    *bool
	ThreatToSafety       *bool
	ContactedAuthorities *bool
}

// Complete reports whether all three questions have been answered.
func (d *BlackmailDetails) Complete() bool {
	return d.PreviousBlackmail != nil && d.ThreatToSafety != nil && d.ContactedAuthorities != nil
}

func (d *BlackmailDetails) reviewLines() []string {
	return []string{
		"Previous Blackmail: " + formatAnswer(d.PreviousBlackmail),
		"Threat to Safety: " + formatAnswer(d.ThreatToSafety),
		"Contacted Authorities: " + formatAnswer(d.ContactedAuthorities),
	}
}

func formatAnswer(b *bool) string {
	if b == nil {
		return "unanswered"
	}
	return strconv.FormatBool(*b)
}

func boolPtr(b bool) *bool { return &b }
