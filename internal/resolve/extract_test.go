package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractOutcome(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		want       bool
		wantOK     bool
	}{
		{"emphatic true only", "**TRUE**", true, true},
		{"emphatic false", "after review the verdict is **FALSE**", false, true},
		{"emphatic beats bare word", "**FALSE**, even though some sources said true", false, true},
		{"structured field", `{"outcome": false, "confidence": 0.9}`, false, true},
		{"colon form", "Outcome: true\nConfidence: high", true, true},
		{"natural yes", "Based on the evidence, the answer is yes.", true, true},
		{"natural no", "the answer is no, the event did not occur", false, true},
		{"verdict form", "Verdict: FALSE", false, true},
		{"bare true", "I conclude this is true.", true, true},
		{"case insensitive", "**true**", true, true},
		{"no marker", "The evidence is inconclusive either way.", false, false},
		{"empty", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractOutcome(tt.transcript)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
