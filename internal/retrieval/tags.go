package retrieval

import (
	"strings"
	"unicode"
)

// TagRule maps a set of synonyms to one canonical sensor tag.
type TagRule struct {
	Canonical string
	Synonyms  []string
}

// Vocabulary is an ordered tag table. Extraction order follows table order.
type Vocabulary []TagRule

// DefaultVocabulary covers the common process instrumentation tags.
var DefaultVocabulary = Vocabulary{
	{Canonical: "Vibration", Synonyms: []string{"vib", "vibration"}},
	{Canonical: "Temperature", Synonyms: []string{"temp", "temperature"}},
	{Canonical: "Conductivity", Synonyms: []string{"cond", "conductivity"}},
	{Canonical: "Pressure", Synonyms: []string{"press", "pressure", "psi"}},
	{Canonical: "Flow", Synonyms: []string{"flow"}},
	{Canonical: "Level", Synonyms: []string{"level"}},
	{Canonical: "pH", Synonyms: []string{"ph", "acidity", "alkalinity"}},
	{Canonical: "Current", Synonyms: []string{"amp", "current"}},
	{Canonical: "Speed", Synonyms: []string{"rpm", "speed"}},
	{Canonical: "Moisture", Synonyms: []string{"moist", "moisture", "humidity"}},
}

// Extract returns the canonical tags mentioned in query, de-duplicated, in
// vocabulary order.
//
// Synonyms are matched case-insensitively against the words of the query.
// Synonyms of two letters or fewer must be a whole word, longer ones must
// start a word. This keeps "ph" out of "phase", "amp" out of "example" and
// "press" out of "compressor" while still reading "temps" or "vib1".
func (v Vocabulary) Extract(query string) []string {
	lower := strings.ToLower(query)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tags []string
	for _, rule := range v {
		for _, syn := range rule.Synonyms {
			if matches(lower, words, strings.ToLower(syn)) {
				tags = append(tags, rule.Canonical)
				break
			}
		}
	}
	return tags
}

func matches(lower string, words []string, syn string) bool {
	if strings.ContainsFunc(syn, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		// multi-word synonym
		return strings.Contains(lower, syn)
	}

	whole := len([]rune(syn)) <= 2
	for _, w := range words {
		if w == syn || (!whole && strings.HasPrefix(w, syn)) {
			return true
		}
	}
	return false
}
