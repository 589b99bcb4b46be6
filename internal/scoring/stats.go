// Package scoring grades a participant's side of a conversation.
//
// Grading runs in two stages. Features (error counts, vocabulary tiers,
// coherence) are extracted by an external model and may be missing or wrong;
// the grade itself is a pure function of those features plus local word
// statistics, so it is reproducible and testable with fixed inputs.
package scoring

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Stats are the locally computed word statistics for one participant.
type Stats struct {
	TotalWords         int     `json:"totalWords"`
	UniqueWords        int     `json:"uniqueWords"`
	TotalMessages      int     `json:"totalMessages"`
	AvgWordsPerMessage float64 `json:"avgWordsPerMessage"`
	LengthMultiplier   float64 `json:"lengthMultiplier"`
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’'
}

// Words splits text into word tokens. Punctuation and emoji separate words
// and are not counted.
func Words(text string) []string {
	return strings.FieldsFunc(norm.NFC.String(text), func(r rune) bool { return !isWordRune(r) })
}

// ComputeStats derives word statistics from a participant's messages.
// Blank messages are ignored.
func ComputeStats(messages []string) Stats {
	var st Stats
	folder := cases.Fold() // Casers are stateful; one per call
	seen := make(map[string]struct{})
	for _, m := range messages {
		if strings.TrimSpace(m) == "" {
			continue
		}
		st.TotalMessages++
		for _, w := range Words(m) {
			st.TotalWords++
			seen[folder.String(w)] = struct{}{}
		}
	}
	st.UniqueWords = len(seen)
	if st.TotalMessages > 0 {
		st.AvgWordsPerMessage = float64(st.TotalWords) / float64(st.TotalMessages)
	}
	st.LengthMultiplier = LengthMultiplier(st.AvgWordsPerMessage)
	return st
}

// LengthMultiplier rewards longer answers: <3 words per message 0.70,
// [3,5) 0.85, [5,9] 1.00, above 9 1.05.
func LengthMultiplier(avgWords float64) float64 {
	switch {
	case avgWords < 3:
		return 0.70
	case avgWords < 5:
		return 0.85
	case avgWords <= 9:
		return 1.00
	default:
		return 1.05
	}
}
