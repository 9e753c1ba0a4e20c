package consolidate

import (
	"strings"
	"unicode"

	"github.com/engramdev/engram/internal/model"
)

// stopwords are excluded from the overlap signal; they match everything.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "was": true, "are": true, "has": true, "have": true,
	"had": true, "not": true, "but": true, "from": true, "they": true,
	"its": true, "were": true, "been": true, "about": true, "into": true,
	"when": true, "then": true, "than": true, "will": true, "would": true,
}

// recordTokens builds the keyword/entity token set a record is about:
// content words plus payload entities.
func recordTokens(m *model.Memory) map[string]bool {
	set := make(map[string]bool)
	addTokens(set, m.Content)
	switch p := m.Payload.(type) {
	case *model.EpisodicPayload:
		addTokens(set, p.Event)
		addTokens(set, p.Location)
		for _, name := range p.Participants {
			addTokens(set, name)
		}
	case *model.SemanticPayload:
		addTokens(set, p.Subject)
		addTokens(set, p.Object)
		addTokens(set, p.Category)
	case *model.ProceduralPayload:
		for _, step := range p.Steps {
			addTokens(set, step)
		}
	case *model.EmotionalPayload:
		addTokens(set, p.Trigger)
	}
	return set
}

func addTokens(set map[string]bool, text string) {
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(tok) < 3 || stopwords[tok] {
			continue
		}
		set[tok] = true
	}
}

// jaccard is intersection over union of two token sets, in [0,1].
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
