// Package textnorm holds the text normalization utilities shared by the
// recognition session and the pronunciation assessor: case folding,
// punctuation stripping, diacritic removal, digit-to-word restoration and
// canonicalization of known recognizer mis-transcriptions.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lower-cases, strips punctuation and collapses whitespace.
// Diacritics are preserved; see StripDiacritics.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// StripDiacritics decomposes to NFD and drops combining marks, so "não"
// compares equal to "nao".
func StripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Canonical applies Normalize then StripDiacritics. Canonical forms are
// what the assessor scores against.
func Canonical(s string) string {
	return StripDiacritics(Normalize(s))
}

var numberWordsPT = map[string]string{
	"0": "zero", "1": "um", "2": "dois", "3": "três", "4": "quatro",
	"5": "cinco", "6": "seis", "7": "sete", "8": "oito", "9": "nove",
	"10": "dez", "11": "onze", "12": "doze", "20": "vinte", "100": "cem",
}

var numberWordsEN = map[string]string{
	"0": "zero", "1": "one", "2": "two", "3": "three", "4": "four",
	"5": "five", "6": "six", "7": "seven", "8": "eight", "9": "nine",
	"10": "ten", "11": "eleven", "12": "twelve", "20": "twenty", "100": "hundred",
}

// RestoreNumberWords converts digit tokens back to spelled-out number words.
// Some recognizers emit "4" for a spoken number word, which would never
// match an expected phrase written out in full. Unknown digit strings are
// left as-is. lang is a BCP 47 tag; anything Portuguese maps to the pt
// table, everything else to the en table.
func RestoreNumberWords(s, lang string) string {
	table := numberWordsEN
	if strings.HasPrefix(strings.ToLower(lang), "pt") {
		table = numberWordsPT
	}
	fields := strings.Fields(s)
	for i, f := range fields {
		if word, ok := table[f]; ok {
			fields[i] = word
		}
	}
	return strings.Join(fields, " ")
}

// variants maps a canonical word or phrase to transcriptions recognizers
// are known to produce for it. Lookup is accent-insensitive. The table
// rewards well-known recognizer quirks without penalizing the learner.
var variants = map[string][]string{
	"obrigado":  {"obrigadu", "brigado", "obrigado u"},
	"obrigada":  {"obrigada a", "brigada"},
	"não":       {"nao", "now", "nown"},
	"bom dia":   {"bon dia", "bom gia", "bom dea"},
	"boa tarde": {"boa tard", "boa tarji"},
	"boa noite": {"boa noiche", "boa noit"},
	"por favor": {"por favour", "pur favor", "porfavor"},
	"até logo":  {"ate logo", "a te logo", "ate logu"},
	"tudo bem":  {"tudo bein", "tudu bem", "todo bem"},
	"de nada":   {"di nada", "the nada"},
	"desculpa":  {"disculpa", "desculpe a"},
	"sim":       {"seem", "sin"},
	"água":      {"agua", "a gua"},
}

// IsKnownVariant reports whether heard is a listed phonetic variant of
// expected. Both sides are compared in canonical (accent-insensitive) form.
// The relation is intentionally asymmetric: the table maps expected
// canonical forms to observed mishearings, not the other way around.
func IsKnownVariant(expected, heard string) bool {
	ce := Canonical(expected)
	ch := Canonical(heard)
	for canonical, list := range variants {
		if Canonical(canonical) != ce {
			continue
		}
		for _, v := range list {
			if Canonical(v) == ch {
				return true
			}
		}
	}
	return false
}

// CanonicalizeVariants rewrites any whole-phrase variant in s back to its
// canonical spelling before comparison, so downstream scoring sees the
// intended word.
func CanonicalizeVariants(s string) string {
	cs := Canonical(s)
	for canonical, list := range variants {
		for _, v := range list {
			if Canonical(v) == cs {
				return Normalize(canonical)
			}
		}
	}
	return Normalize(s)
}
