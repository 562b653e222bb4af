// Package rank assigns standard competition ranks (1, 1, 3, 4, 4, 6) to
// pre-sorted scoreboard entries.
package rank

import "iter"

// Rank yields (rank, entry) pairs over entries, which must already be sorted
// descending by key. Entries with equal keys share a rank equal to the 1-based
// position of the first entry in the tie group. The sequence is lazy and can be
// ranged over any number of times.
func Rank[E any, K comparable](entries []E, key func(E) K) iter.Seq2[int, E] {
	return func(yield func(int, E) bool) {
		rank := 0
		var last K
		for i, e := range entries {
			k := key(e)
			if i == 0 || k != last {
				rank = i + 1
				last = k
			}
			if !yield(rank, e) {
				return
			}
		}
	}
}

// Constant yields every entry with the same fixed rank. It backs scoreboards
// whose viewer may see rows but not relative standing.
func Constant[E any](entries []E, rank int) iter.Seq2[int, E] {
	return func(yield func(int, E) bool) {
		for _, e := range entries {
			if !yield(rank, e) {
				return
			}
		}
	}
}
