package engine

import "math/rand"

// Shuffle permutes s in place with a Fisher-Yates pass.
func Shuffle[T any](r *rand.Rand, s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

// SampleUniqueIndices draws uniform indices in [0, poolSize) until count
// distinct values are collected or attemptCap draws are spent. The second
// return is false when the cap ran out first; that's a sampling failure,
// not a reason to panic.
func SampleUniqueIndices(r *rand.Rand, poolSize, count, attemptCap int) ([]int, bool) {
	if poolSize <= 0 || count < 0 {
		return nil, false
	}
	seen := make(map[int]bool, count)
	out := make([]int, 0, count)
	for attempts := 0; len(out) < count; attempts++ {
		if attempts >= attemptCap {
			return nil, false
		}
		idx := r.Intn(poolSize)
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out, true
}

// SampleIndex draws one uniform index in [0, poolSize).
func SampleIndex(r *rand.Rand, poolSize int) int {
	return r.Intn(poolSize)
}
