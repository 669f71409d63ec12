// Package assess scores how close a transcribed attempt is to an expected
// phrase and produces tiered, actionable feedback. It performs no I/O and
// holds no state beyond its configuration and a breakdown cache, which makes
// it deterministic for any given input pair.
package assess

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/falalabs/fala-core/internal/textnorm"
)

// Config holds the assessor tunables.
type Config struct {
	ExcellentScore int `yaml:"excellent_score"` // tier boundary, 0-100
	GoodScore      int `yaml:"good_score"`
	FairScore      int `yaml:"fair_score"`
	MaxErrors      int `yaml:"max_errors"` // character-level descriptors reported
	CacheSize      int `yaml:"cache_size"` // per-phrase breakdown cache entries
}

func DefaultConfig() Config {
	return Config{
		ExcellentScore: 95,
		GoodScore:      80,
		FairScore:      60,
		MaxErrors:      3,
		CacheSize:      256,
	}
}

// Tier labels a feedback level.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierFair      Tier = "fair"
	TierNeedsWork Tier = "needs_work"
)

// CharErrorType classifies a character-level mismatch.
type CharErrorType string

const (
	ErrWrong   CharErrorType = "wrong"
	ErrMissing CharErrorType = "missing"
	ErrExtra   CharErrorType = "extra"
)

// CharError describes one character-level mismatch with a suggestion the UI
// can show directly.
type CharError struct {
	Type       CharErrorType `json:"type"`
	Position   int           `json:"position"`
	Suggestion string        `json:"suggestion"`
}

// Feedback is the tiered message attached to a result.
type Feedback struct {
	Level       Tier     `json:"level"`
	Message     string   `json:"message"`
	Label       string   `json:"label"`
	Tips        []string `json:"tips,omitempty"`
	ReplayAudio bool     `json:"replay_audio"`
}

// Result is the immutable outcome of one assessment.
type Result struct {
	Expected           string      `json:"expected"`
	Heard              string      `json:"heard"`
	NormalizedExpected string      `json:"normalized_expected"`
	NormalizedHeard    string      `json:"normalized_heard"`
	ExactMatch         bool        `json:"exact_match"`
	Score              int         `json:"score"`
	Errors             []CharError `json:"errors,omitempty"`
	Feedback           Feedback    `json:"feedback"`
	Syllables          []string    `json:"syllables,omitempty"`
	Phonemes           []Phoneme   `json:"phonemes,omitempty"`
}

type breakdown struct {
	syllables []string
	phonemes  []Phoneme
}

// Assessor scores attempts. Safe for concurrent use.
type Assessor struct {
	cfg   Config
	cache *lru.Cache[string, breakdown]
}

func New(cfg Config) *Assessor {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 3
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	// Lesson phrases repeat across attempts and learners, so breakdowns are
	// worth caching.
	cache, _ := lru.New[string, breakdown](size)
	return &Assessor{cfg: cfg, cache: cache}
}

// Assess compares heard text against the expected phrase. Malformed input
// (empty expected or heard) yields a zero-score result rather than an
// error.
func (a *Assessor) Assess(expected, heard string) Result {
	normExpected := textnorm.Canonical(expected)
	normHeard := textnorm.Canonical(heard)

	res := Result{
		Expected:           expected,
		Heard:              heard,
		NormalizedExpected: normExpected,
		NormalizedHeard:    normHeard,
	}
	bd := a.breakdownFor(expected)
	res.Syllables = bd.syllables
	res.Phonemes = bd.phonemes

	switch {
	case normExpected == "":
		res.Score = 0
		res.Feedback = a.feedback(TierNeedsWork, res)
		return res
	case normHeard == "":
		res.Score = 0
		res.Feedback = a.feedback(TierNeedsWork, res)
		return res
	case normExpected == normHeard:
		res.ExactMatch = true
		res.Score = 100
		res.Feedback = a.feedback(TierExcellent, res)
		return res
	case textnorm.IsKnownVariant(expected, heard):
		// A listed recognizer quirk: near-perfect, but not flawless, so it
		// lands in the good tier rather than excellent.
		res.Score = 95
		res.Feedback = a.feedback(TierGood, res)
		return res
	}

	res.Score = similarityScore(normExpected, normHeard)
	res.Errors = charErrors(normExpected, normHeard, a.cfg.MaxErrors)
	res.Feedback = a.feedback(a.tierFor(res.Score), res)
	return res
}

func (a *Assessor) tierFor(score int) Tier {
	switch {
	case score >= a.cfg.ExcellentScore:
		return TierExcellent
	case score >= a.cfg.GoodScore:
		return TierGood
	case score >= a.cfg.FairScore:
		return TierFair
	default:
		return TierNeedsWork
	}
}

func (a *Assessor) feedback(tier Tier, res Result) Feedback {
	fb := Feedback{Level: tier}
	switch tier {
	case TierExcellent:
		fb.Message = "Perfect pronunciation!"
		fb.Label = "🌟 Excellent"
	case TierGood:
		fb.Message = "Very close, that sounded great."
		fb.Label = "👍 Good"
	case TierFair:
		fb.Message = "Getting there, but a few sounds were off."
		fb.Label = "🙂 Fair"
		fb.ReplayAudio = true
	default:
		fb.Message = "Let's try that one again."
		fb.Label = "💪 Keep practicing"
		fb.ReplayAudio = true
	}

	for _, e := range res.Errors {
		fb.Tips = append(fb.Tips, e.Suggestion)
	}
	if tier == TierNeedsWork && len(res.Syllables) > 0 {
		fb.Tips = append(fb.Tips, "Try saying it slowly: "+joinSyllables(res.Syllables))
	}
	return fb
}

// similarityScore converts Levenshtein distance into an integer 0-100.
func similarityScore(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 100
	}
	sim := 1 - float64(levenshtein(ra, rb))/float64(longest)
	if sim < 0 {
		sim = 0
	} else if sim > 1 {
		sim = 1
	}
	return int(sim * 100)
}

// levenshtein computes classic single-character edit distance with a
// two-row dynamic programming table.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// charErrors walks expected and heard positions in lock-step and reports up
// to max mismatches, classifying each as a substitution, an extra heard
// character, or a missing expected character.
func charErrors(expected, heard string, max int) []CharError {
	re, rh := []rune(expected), []rune(heard)
	longest := len(re)
	if len(rh) > longest {
		longest = len(rh)
	}
	var errs []CharError
	for i := 0; i < longest && len(errs) < max; i++ {
		switch {
		case i >= len(rh):
			errs = append(errs, CharError{
				Type:       ErrMissing,
				Position:   i,
				Suggestion: fmt.Sprintf("The sound %q is missing near the end.", string(re[i])),
			})
		case i >= len(re):
			errs = append(errs, CharError{
				Type:       ErrExtra,
				Position:   i,
				Suggestion: fmt.Sprintf("There was an extra %q sound.", string(rh[i])),
			})
		case re[i] != rh[i]:
			errs = append(errs, CharError{
				Type:       ErrWrong,
				Position:   i,
				Suggestion: fmt.Sprintf("Try %q instead of %q.", string(re[i]), string(rh[i])),
			})
		}
	}
	return errs
}

func (a *Assessor) breakdownFor(expected string) breakdown {
	key := textnorm.Normalize(expected)
	if key == "" {
		return breakdown{}
	}
	if cached, ok := a.cache.Get(key); ok {
		return cached
	}
	bd := breakdown{
		syllables: SyllabifyPhrase(key),
		phonemes:  Phonemes(key),
	}
	a.cache.Add(key, bd)
	return bd
}

func joinSyllables(syls []string) string {
	out := ""
	for i, s := range syls {
		if i > 0 {
			out += " - "
		}
		out += s
	}
	return out
}
