package textproc

import (
	"math"
	"sort"

	"github.com/trendscout/backend/internal/storage/models"
)

// TopTerms ranks terms over a tokenized corpus by summed TF-IDF weight.
// idf is smoothed (ln((1+N)/(1+df)) + 1) and each document vector is L2
// normalized before summing. Ties are broken alphabetically.
func TopTerms(docs [][]string, k int) []models.TermWeight {
	if len(docs) == 0 || k <= 0 {
		return nil
	}

	df := make(map[string]int)
	tfs := make([]map[string]int, len(docs))
	for i, doc := range docs {
		tf := make(map[string]int, len(doc))
		for _, term := range doc {
			tf[term]++
		}
		for term := range tf {
			df[term]++
		}
		tfs[i] = tf
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for term, d := range df {
		idf[term] = math.Log((1+n)/(1+float64(d))) + 1
	}

	totals := make(map[string]float64, len(df))
	for _, tf := range tfs {
		var norm float64
		weights := make(map[string]float64, len(tf))
		for term, count := range tf {
			w := float64(count) * idf[term]
			weights[term] = w
			norm += w * w
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for term, w := range weights {
			totals[term] += w / norm
		}
	}

	terms := make([]models.TermWeight, 0, len(totals))
	for term, w := range totals {
		terms = append(terms, models.TermWeight{Term: term, Weight: w})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Weight != terms[j].Weight {
			return terms[i].Weight > terms[j].Weight
		}
		return terms[i].Term < terms[j].Term
	})

	if len(terms) > k {
		terms = terms[:k]
	}
	return terms
}

// Jaccard returns |a ∩ b| / |a ∪ b| over the distinct tokens of a and the
// term set b. Empty inputs yield 0.
func Jaccard(a []string, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	seen := make(map[string]struct{}, len(a))
	inter := 0
	for _, t := range a {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := b[t]; ok {
			inter++
		}
	}

	union := len(seen) + len(b) - inter
	return float64(inter) / float64(union)
}

func TermSet(terms []models.TermWeight) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t.Term] = struct{}{}
	}
	return set
}
