package jsondiff

import "drift-go/internal/canonical"

// Similarity scores how alike two documents are, in [0, 1].
//
// The score is 1 when the canonical serializations are identical. Otherwise
// it is the length of the longest common contiguous substring of the two
// serializations divided by the length of the longer one. Cost is
// O(len(a)·len(b)) time, so scoring multi-megabyte documents is slow.
func Similarity(a, b any) float64 {
	ca, err := canonical.Marshal(a)
	if err != nil {
		return 0
	}
	cb, err := canonical.Marshal(b)
	if err != nil {
		return 0
	}
	return StringSimilarity(string(ca), string(cb))
}

// StringSimilarity applies the Similarity measure to two strings, counting
// runes rather than bytes.
func StringSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return float64(LongestCommonSubstring(ra, rb)) / float64(longest)
}

// LongestCommonSubstring returns the length of the longest run of runes
// present in both a and b. Only two rows of the DP table are kept.
func LongestCommonSubstring(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return best
}
