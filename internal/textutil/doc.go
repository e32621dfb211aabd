// Package textutil provides the fuzzy matching and filename helpers shared by
// the scorer, the postprocess matcher and the library organizer.
//
// Ratio, TokenSetRatio and TokenSortRatio return integer scores
// in the 0-100 range and operate on Process'd text: accents folded, lowercase,
// punctuation collapsed to single spaces. Fingerprint and CosineSimilarity compare
// bags of words and order manual match candidates with equal scores.
package textutil
