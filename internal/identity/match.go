package identity

import fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

// Match thresholds on the 0-100 token-set scale. Companies demand a tighter
// fit than skills and categories, whose vocabularies are smaller and noisier.
const (
	CompanyThreshold = 90
	NameThreshold    = 80
)

// BestMatch re-scores candidate names against a normalized query and returns
// the index of the best candidate with its score, or (-1, 0) when there are
// no candidates. Candidates must already be in comparison form (Normalize or
// NormalizeCompany). The coarse candidate query is cheap but imprecise; this
// re-score is the precise half of the two-stage design, and it is pure so
// the threshold behavior can be tested without a store.
func BestMatch(query string, candidates []string) (int, int) {
	bestIdx, bestScore := -1, 0
	for i, name := range candidates {
		score := fuzzy.TokenSetRatio(query, name)
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return bestIdx, bestScore
}
