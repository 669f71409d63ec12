package recog

import (
	"strings"

	"github.com/falalabs/fala-core/internal/textnorm"
)

// Portuguese-only diacritics. Their presence in a transcript is a strong
// signal regardless of word content.
const ptDiacritics = "ãõçáéíóúâêôà"

var ptFunctionWords = map[string]struct{}{
	"o": {}, "os": {}, "as": {}, "um": {}, "uma": {}, "de": {}, "do": {},
	"da": {}, "em": {}, "no": {}, "na": {}, "que": {}, "nao": {}, "sim": {},
	"eu": {}, "voce": {}, "ele": {}, "ela": {}, "nos": {}, "por": {},
	"para": {}, "com": {}, "bom": {}, "boa": {}, "obrigado": {},
	"obrigada": {}, "ola": {}, "tudo": {}, "bem": {}, "dia": {},
	"noite": {}, "tarde": {}, "muito": {}, "fala": {}, "favor": {},
}

var enFunctionWords = map[string]struct{}{
	"the": {}, "an": {}, "of": {}, "to": {}, "in": {}, "is": {}, "are": {},
	"you": {}, "i": {}, "he": {}, "she": {}, "we": {}, "they": {}, "it": {},
	"and": {}, "that": {}, "this": {}, "for": {}, "with": {}, "good": {},
	"morning": {}, "thank": {}, "thanks": {}, "hello": {}, "yes": {},
	"very": {}, "please": {}, "how": {}, "what": {}, "my": {}, "your": {},
}

// InferLanguage classifies a transcript as Portuguese or English after a
// single recognition pass, rather than re-running recognition per language.
// Diacritics decide immediately; otherwise closed function-word lists vote
// and ties fall back to the caller's preferred language.
func InferLanguage(text, preferred string) string {
	fallback := baseTag(preferred)
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	if strings.ContainsAny(strings.ToLower(text), ptDiacritics) {
		return "pt"
	}

	var pt, en int
	for _, tok := range strings.Fields(textnorm.Normalize(text)) {
		if _, ok := ptFunctionWords[tok]; ok {
			pt++
		}
		if _, ok := enFunctionWords[tok]; ok {
			en++
		}
	}
	switch {
	case pt > en:
		return "pt"
	case en > pt:
		return "en"
	default:
		return fallback
	}
}

// baseTag reduces a BCP 47 tag like "pt-PT" to its primary subtag.
func baseTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return "pt"
	}
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return tag[:i]
	}
	return tag
}
