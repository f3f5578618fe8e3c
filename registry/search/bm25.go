package search

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// tokenize lowercases and splits text into alphanumeric terms. It is shared
// by document indexing and query scoring so both sides of the match use the
// identical vocabulary.
func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	return matches
}

// document is a tool's BM25 corpus entry: its tokenized name, description,
// and parameter descriptions, concatenated into one bag of terms.
type document struct {
	name  string
	terms []string
	freq  map[string]int
}

// bm25Index is a from-scratch Okapi BM25 index over the tool catalog's
// textual fields. No third-party BM25 implementation exists anywhere in the
// grounding corpus, so this is hand-rolled following the standard
// term-frequency-saturation formulation with k1=1.2, b=0.75.
type bm25Index struct {
	docs      []document
	docIndex  map[string]int
	df        map[string]int // document frequency per term
	avgDocLen float64
	n         int
}

// buildBM25Index constructs an index from a set of (name, text) pairs.
func buildBM25Index(corpus map[string]string) *bm25Index {
	idx := &bm25Index{
		docIndex: make(map[string]int, len(corpus)),
		df:       make(map[string]int),
	}
	names := make([]string, 0, len(corpus))
	for name := range corpus {
		names = append(names, name)
	}
	sort.Strings(names)

	var totalLen int
	for _, name := range names {
		terms := tokenize(corpus[name])
		freq := make(map[string]int, len(terms))
		for _, t := range terms {
			freq[t]++
		}
		idx.docIndex[name] = len(idx.docs)
		idx.docs = append(idx.docs, document{name: name, terms: terms, freq: freq})
		totalLen += len(terms)
		for t := range freq {
			idx.df[t]++
		}
	}
	idx.n = len(idx.docs)
	if idx.n > 0 {
		idx.avgDocLen = float64(totalLen) / float64(idx.n)
	}
	return idx
}

// IsEmpty reports whether the index has no documents.
func (idx *bm25Index) IsEmpty() bool {
	return idx == nil || idx.n == 0
}

// score returns raw BM25 scores for the query across all documents,
// omitting tools with a zero score.
func (idx *bm25Index) score(query string) map[string]float64 {
	scores := make(map[string]float64)
	if idx.IsEmpty() {
		return scores
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return scores
	}

	for _, doc := range idx.docs {
		var s float64
		docLen := float64(len(doc.terms))
		for _, qt := range queryTerms {
			tf := float64(doc.freq[qt])
			if tf == 0 {
				continue
			}
			df := float64(idx.df[qt])
			idf := math.Log(1 + (float64(idx.n)-df+0.5)/(df+0.5))
			denom := tf + bm25K1*(1-bm25B+bm25B*docLen/idx.avgDocLen)
			s += idf * (tf * (bm25K1 + 1) / denom)
		}
		if s > 0 {
			scores[doc.name] = s
		}
	}
	return scores
}

// normalizeMax scales scores into [0,1] by dividing by the maximum score
// present in the set. An empty or all-zero set is returned unchanged.
func normalizeMax(scores map[string]float64) map[string]float64 {
	var max float64
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if max == 0 {
		return scores
	}
	out := make(map[string]float64, len(scores))
	for k, v := range scores {
		out[k] = v / max
	}
	return out
}
