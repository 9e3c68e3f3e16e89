package resolve

import "strings"

// marker is one recognizable verdict pattern in model prose.
type marker struct {
	pattern string
	outcome bool
}

// markers are tried in order; the first pattern present in the transcript
// wins. Emphatic and structured forms come before bare words so a transcript
// like "**FALSE**, even though some sources said true" still resolves false.
var markers = []marker{
	{"**true**", true},
	{"**false**", false},
	{"outcome: true", true},
	{"outcome: false", false},
	{"\"outcome\": true", true},
	{"\"outcome\": false", false},
	{"the answer is yes", true},
	{"the answer is no", false},
	{"answer: yes", true},
	{"answer: no", false},
	{"verdict: true", true},
	{"verdict: false", false},
	{"resolves yes", true},
	{"resolves no", false},
	{"true", true},
	{"false", false},
}

// ExtractOutcome scans a model transcript for a boolean verdict. It returns
// (outcome, true) on the first marker match, or (false, false) when no
// marker is present, in which case no resolution may be written.
func ExtractOutcome(transcript string) (outcome, ok bool) {
	t := strings.ToLower(transcript)
	for _, m := range markers {
		if strings.Contains(t, m.pattern) {
			return m.outcome, true
		}
	}
	return false, false
}
