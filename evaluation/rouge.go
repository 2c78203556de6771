package evaluation

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

type Score struct {
	Precision float64 `yaml:"precision"`
	Recall    float64 `yaml:"recall"`
	F1        float64 `yaml:"f1"`
}

type Scores struct {
	Rouge1 Score `yaml:"rouge1"`
	Rouge2 Score `yaml:"rouge2"`
	RougeL Score `yaml:"rougeL"`
}

// ScoreReports compares a generated report against the golden report.
func ScoreReports(golden, generated string) Scores {
	ref, cand := Tokenize(golden), Tokenize(generated)
	return Scores{
		Rouge1: RougeN(ref, cand, 1),
		Rouge2: RougeN(ref, cand, 2),
		RougeL: RougeL(ref, cand),
	}
}

// Tokenize lowercases text, splits it on anything that is not a letter or
// digit, and stems tokens longer than three characters.
func Tokenize(text string) (tokens []string) {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || unicode.IsDigit(r))
	})
	for _, f := range fields {
		if len(f) > 3 {
			f = english.Stem(f, true)
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func RougeN(reference, candidate []string, n int) Score {
	ref, cand := ngrams(reference, n), ngrams(candidate, n)
	var refTotal, candTotal, overlap int
	for _, c := range ref {
		refTotal += c
	}
	for g, c := range cand {
		candTotal += c
		overlap += min(c, ref[g])
	}
	return newScore(overlap, candTotal, refTotal)
}

func ngrams(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], " ")]++
	}
	return counts
}

// RougeL scores the longest common subsequence of the token lists.
func RougeL(reference, candidate []string) Score {
	return newScore(lcs(reference, candidate), len(candidate), len(reference))
}

func lcs(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := range a {
		for j := range b {
			if a[i] == b[j] {
				curr[j+1] = prev[j] + 1
			} else {
				curr[j+1] = max(prev[j+1], curr[j])
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func newScore(overlap, candidateTotal, referenceTotal int) (s Score) {
	if candidateTotal > 0 {
		s.Precision = float64(overlap) / float64(candidateTotal)
	}
	if referenceTotal > 0 {
		s.Recall = float64(overlap) / float64(referenceTotal)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}
