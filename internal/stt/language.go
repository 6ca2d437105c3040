package stt

import "strings"

// Keyword markers for the Nigerian languages the service handles. The
// heuristic only runs when the provider itself did not report a detected
// language.
var languageMarkers = []struct {
	tag      string
	keywords []string
}{
	{"pcm", []string{"watin", "dey", "no be", "abeg", "wahala", "how far"}},
	{"ha", []string{"wuta", "gobara", "hatsari", "taimako", "gaggawa"}},
	{"yo", []string{"ina", "ijamba", "iranwo", "pajawiri", "jowo"}},
	{"ig", []string{"oku", "ihe mberede", "enyemaka", "biko", "ngwa ngwa"}},
}

// DetectLanguage guesses a language tag from transcript content, falling back
// to the configured tag when nothing matches.
func DetectLanguage(text, fallback string) string {
	lowered := strings.ToLower(text)
	for _, marker := range languageMarkers {
		for _, kw := range marker.keywords {
			if strings.Contains(lowered, kw) {
				return marker.tag
			}
		}
	}
	return fallback
}
