package assess

import "strings"

// Phoneme pairs a written fragment with a learner-friendly sound hint.
type Phoneme struct {
	Letters string `json:"letters"`
	Sound   string `json:"sound"`
}

// Portuguese consonant clusters that must stay together at the start of a
// syllable.
var protectedClusters = map[string]bool{
	"ch": true, "lh": true, "nh": true, "qu": true, "gu": true,
	"rr": true, "ss": true,
	"br": true, "cr": true, "dr": true, "fr": true, "gr": true,
	"pr": true, "tr": true, "vr": true,
	"bl": true, "cl": true, "fl": true, "gl": true, "pl": true,
}

const vowels = "aeiouáéíóúâêôãõàü"

func isVowel(r rune) bool {
	return strings.ContainsRune(vowels, r)
}

// Syllabify splits a single word with a vowel-anchored heuristic: each
// syllable is anchored on a vowel run, a lone consonant between vowels
// starts the next syllable, and multi-consonant runs split before the last
// consonant unless the trailing pair is a protected cluster. Display-only;
// never affects scoring.
func Syllabify(word string) []string {
	rs := []rune(strings.ToLower(word))
	if len(rs) == 0 {
		return nil
	}
	var syls []string
	start := 0
	i := 0
	for i < len(rs) {
		if !isVowel(rs[i]) {
			i++
			continue
		}
		for i < len(rs) && isVowel(rs[i]) {
			i++
		}
		j := i
		for j < len(rs) && !isVowel(rs[j]) {
			j++
		}
		if j >= len(rs) {
			// Trailing consonants close the final syllable.
			syls = append(syls, string(rs[start:]))
			return syls
		}
		cut := j - 1
		switch {
		case j-i == 1:
			cut = i
		case protectedClusters[string(rs[j-2:j])]:
			cut = j - 2
		}
		syls = append(syls, string(rs[start:cut]))
		start = cut
		i = j
	}
	if start < len(rs) {
		syls = append(syls, string(rs[start:]))
	}
	return syls
}

// SyllabifyPhrase syllabifies each word of a phrase in order.
func SyllabifyPhrase(phrase string) []string {
	var out []string
	for _, w := range strings.Fields(phrase) {
		out = append(out, Syllabify(w)...)
	}
	return out
}

// Digraphs are matched before single letters.
var phonemeDigraphs = map[string]string{
	"ch": "sh as in 'show'",
	"lh": "lli as in 'million'",
	"nh": "ny as in 'canyon'",
	"rr": "strong guttural r",
	"ss": "soft s",
	"qu": "k",
	"gu": "g as in 'get'",
	"ão": "nasal 'ow'",
	"õe": "nasal 'oy'",
	"ãe": "nasal 'eye'",
	"am": "nasal 'ung'",
	"em": "nasal 'eng'",
}

var phonemeLetters = map[rune]string{
	'a': "ah", 'á': "ah (stressed)", 'â': "uh", 'ã': "nasal ah", 'à': "ah",
	'e': "eh", 'é': "eh (open)", 'ê': "ay",
	'i': "ee", 'í': "ee (stressed)",
	'o': "oh", 'ó': "aw", 'ô': "oh (closed)", 'õ': "nasal oh",
	'u': "oo", 'ú': "oo (stressed)", 'ü': "oo",
	'b': "b", 'c': "k", 'ç': "s", 'd': "d", 'f': "f",
	'g': "g", 'h': "(silent)", 'j': "zh as in 'measure'", 'k': "k",
	'l': "l", 'm': "m", 'n': "n", 'p': "p", 'q': "k",
	'r': "light r", 's': "s", 't': "t", 'v': "v", 'w': "w",
	'x': "sh", 'y': "ee", 'z': "z",
}

// Phonemes produces a digraph-aware letter-to-sound breakdown of a phrase.
// Display-only; never affects scoring.
func Phonemes(phrase string) []Phoneme {
	rs := []rune(strings.ToLower(phrase))
	var out []Phoneme
	for i := 0; i < len(rs); {
		if rs[i] == ' ' {
			i++
			continue
		}
		if i+1 < len(rs) {
			pair := string(rs[i : i+2])
			if sound, ok := phonemeDigraphs[pair]; ok {
				out = append(out, Phoneme{Letters: pair, Sound: sound})
				i += 2
				continue
			}
		}
		if sound, ok := phonemeLetters[rs[i]]; ok {
			out = append(out, Phoneme{Letters: string(rs[i]), Sound: sound})
		}
		i++
	}
	return out
}
