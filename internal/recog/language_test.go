package recog

import "testing"

func TestInferLanguageDiacritics(t *testing.T) {
	if got := InferLanguage("não sei", "en-US"); got != "pt" {
		t.Fatalf("diacritics must force pt, got %q", got)
	}
	if got := InferLanguage("olá, tudo bem?", "en"); got != "pt" {
		t.Fatalf("expected pt, got %q", got)
	}
}

func TestInferLanguageFunctionWords(t *testing.T) {
	cases := []struct {
		text, preferred, want string
	}{
		{"thank you very much for the help", "pt-PT", "en"},
		{"obrigado por tudo", "en-US", "pt"},
		{"good morning how are you", "pt", "en"},
		{"eu falo um pouco", "en", "pt"},
		// The vote runs per token, so multi-word phrases must count
		// through their individual words.
		{"por favor", "en-US", "pt"},
	}
	for _, tc := range cases {
		if got := InferLanguage(tc.text, tc.preferred); got != tc.want {
			t.Fatalf("InferLanguage(%q, %q) = %q, want %q", tc.text, tc.preferred, got, tc.want)
		}
	}
}

func TestInferLanguageTieFallsBackToPreferred(t *testing.T) {
	if got := InferLanguage("xyzzy plugh", "pt-PT"); got != "pt" {
		t.Fatalf("tie must fall back to preferred, got %q", got)
	}
	if got := InferLanguage("", "en-GB"); got != "en" {
		t.Fatalf("empty text must fall back to preferred, got %q", got)
	}
}

func TestBaseTag(t *testing.T) {
	cases := map[string]string{
		"pt-PT": "pt",
		"en_US": "en",
		"PT":    "pt",
		"":      "pt",
	}
	for in, want := range cases {
		if got := baseTag(in); got != want {
			t.Fatalf("baseTag(%q) = %q, want %q", in, got, want)
		}
	}
}
