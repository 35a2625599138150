package engine

import "strings"

// Whisper-family models hallucinate these fillers on silence or breath
// noise. They never carry intent, so they are dropped before planning.
var hallucinatedTranscripts = map[string]struct{}{
	"obrigado":            {},
	"muito obrigado":      {},
	"de nada":             {},
	"valeu":               {},
	"thank you":           {},
	"thanks":              {},
	"thanks for watching": {},
	"you're welcome":      {},
	"bye":                 {},
	"tchau":               {},
	"...":                 {},
	"[silêncio]":          {},
	"[pausa]":             {},
}

// dropTranscript reports transcripts too short or too canned to act on.
func dropTranscript(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if _, ok := hallucinatedTranscripts[t]; ok {
		return true
	}
	t = strings.Trim(t, ".!?… ")
	if len([]rune(t)) < 2 {
		return true
	}
	_, ok := hallucinatedTranscripts[t]
	return ok
}
