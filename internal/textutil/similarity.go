package textutil

// CosineSimilarity returns the cosine of the angle between two fingerprints'
// term vectors, in [0, 1]. A nil or empty fingerprint scores 0.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	if len(a.tokens) > len(b.tokens) {
		a, b = b, a
	}
	var dot float64
	for token, count := range a.tokens {
		dot += count * b.tokens[token]
	}
	return dot / (a.norm * b.norm)
}
