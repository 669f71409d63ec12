package assess

import (
	"strings"
	"testing"
)

func TestExactMatch(t *testing.T) {
	a := New(DefaultConfig())
	res := a.Assess("bom dia", "bom dia")
	if !res.ExactMatch {
		t.Fatal("expected exact match")
	}
	if res.Score != 100 {
		t.Fatalf("expected score 100, got %d", res.Score)
	}
	if res.Feedback.Level != TierExcellent {
		t.Fatalf("expected excellent tier, got %s", res.Feedback.Level)
	}
	if res.Feedback.ReplayAudio {
		t.Fatal("excellent result must not ask for a replay")
	}
}

func TestKnownVariantScores95(t *testing.T) {
	a := New(DefaultConfig())
	res := a.Assess("obrigado", "obrigadu")
	if res.ExactMatch {
		t.Fatal("variant is not an exact match")
	}
	if res.Score != 95 {
		t.Fatalf("expected score 95, got %d", res.Score)
	}
	if res.Feedback.Level != TierGood {
		t.Fatalf("expected good tier, got %s", res.Feedback.Level)
	}
	if res.Feedback.ReplayAudio {
		t.Fatal("variant result must not ask for a replay")
	}
}

func TestAccentInsensitiveMatch(t *testing.T) {
	a := New(DefaultConfig())
	res := a.Assess("não", "nao")
	if !res.ExactMatch || res.Score != 100 {
		t.Fatalf("accent-stripped forms must match exactly, got score %d", res.Score)
	}
}

func TestEmptyHeard(t *testing.T) {
	a := New(DefaultConfig())
	res := a.Assess("não", "")
	if res.Score != 0 {
		t.Fatalf("expected score 0, got %d", res.Score)
	}
	if res.Feedback.Level != TierNeedsWork {
		t.Fatalf("expected needs_work tier, got %s", res.Feedback.Level)
	}
	if !res.Feedback.ReplayAudio {
		t.Fatal("needs_work must ask for a replay")
	}
	found := false
	for _, tip := range res.Feedback.Tips {
		if strings.Contains(tip, "slowly") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a syllabified hint in tips, got %v", res.Feedback.Tips)
	}
}

func TestEmptyExpected(t *testing.T) {
	a := New(DefaultConfig())
	res := a.Assess("", "whatever")
	if res.Score != 0 {
		t.Fatalf("malformed input must yield zero score, got %d", res.Score)
	}
}

func TestScoreBounds(t *testing.T) {
	a := New(DefaultConfig())
	pairs := [][2]string{
		{"obrigado", "xyz"},
		{"a", "completely different phrase"},
		{"bom dia", "bom di"},
		{"até logo", "ate logu"},
	}
	for _, p := range pairs {
		res := a.Assess(p[0], p[1])
		if res.Score < 0 || res.Score > 100 {
			t.Fatalf("Assess(%q, %q) score %d out of bounds", p[0], p[1], res.Score)
		}
	}
}

func TestSimilaritySymmetry(t *testing.T) {
	// Outside the variant table, the distance-based score is symmetric.
	a, b := "carvalho", "cavalo"
	if s1, s2 := similarityScore(a, b), similarityScore(b, a); s1 != s2 {
		t.Fatalf("similarity not symmetric: %d != %d", s1, s2)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"obrigado", "obrigadu", 1},
		{"bom dia", "bom dia", 0},
	}
	for _, tc := range cases {
		if got := levenshtein([]rune(tc.a), []rune(tc.b)); got != tc.want {
			t.Fatalf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCharErrors(t *testing.T) {
	errs := charErrors("gato", "gabo", 3)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}
	if errs[0].Type != ErrWrong || errs[0].Position != 2 {
		t.Fatalf("unexpected descriptor: %+v", errs[0])
	}

	errs = charErrors("gato", "gat", 3)
	if len(errs) != 1 || errs[0].Type != ErrMissing {
		t.Fatalf("expected one missing descriptor, got %v", errs)
	}

	errs = charErrors("gat", "gato", 3)
	if len(errs) != 1 || errs[0].Type != ErrExtra {
		t.Fatalf("expected one extra descriptor, got %v", errs)
	}
}

func TestCharErrorsCapped(t *testing.T) {
	errs := charErrors("aaaaaaaa", "bbbbbbbb", 3)
	if len(errs) != 3 {
		t.Fatalf("expected descriptor cap at 3, got %d", len(errs))
	}
}

func TestSyllabify(t *testing.T) {
	cases := []struct {
		word string
		want []string
	}{
		{"fala", []string{"fa", "la"}},
		{"obrigado", []string{"o", "bri", "ga", "do"}},
		{"não", []string{"não"}},
		{"carvalho", []string{"car", "va", "lho"}},
	}
	for _, tc := range cases {
		got := Syllabify(tc.word)
		if len(got) != len(tc.want) {
			t.Fatalf("Syllabify(%q) = %v, want %v", tc.word, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("Syllabify(%q) = %v, want %v", tc.word, got, tc.want)
			}
		}
	}
}

func TestPhonemesDigraphAware(t *testing.T) {
	ph := Phonemes("chave")
	if len(ph) == 0 || ph[0].Letters != "ch" {
		t.Fatalf("expected leading digraph 'ch', got %v", ph)
	}
	for _, p := range ph {
		if p.Sound == "" {
			t.Fatalf("phoneme without sound: %+v", p)
		}
	}
}

func TestBreakdownCached(t *testing.T) {
	a := New(DefaultConfig())
	first := a.Assess("obrigado", "obrigado")
	second := a.Assess("obrigado", "brigadu")
	if len(first.Syllables) == 0 || len(second.Syllables) != len(first.Syllables) {
		t.Fatalf("expected identical cached breakdowns, got %v vs %v", first.Syllables, second.Syllables)
	}
}
