// Package services – cell and idea partition arithmetic.
//
// These two functions are the pure foundation everything else builds on:
// CalculateCellSizes splits a participant count into cells of 3–7 people, and
// CalculateIdeaSizes spreads an idea count across cells as evenly as
// possible. Both are deterministic and allocation-only; shuffling and
// assignment happen in the formation service.
package services

// Cell sizing constants. The target is 5 with a legal range of [3,7];
// remainders of 1 or 2 are absorbed into an oversized cell rather than left
// as an isolated pair.
const (
	cellTargetSize = 5
	cellMinSize    = 3
	cellMaxSize    = 7
)

// CalculateCellSizes partitions n participants into cell sizes.
//
// The output always sums to n, and no size is 1 or 2 except the single-cell
// fallback for pools smaller than 3. Examples: 8 → [5 3], 14 → [5 5 4],
// 15 → [5 5 5], 6 → [6], 12 → [5 7].
func CalculateCellSizes(n int) []int {
	full := n / cellTargetSize
	rem := n % cellTargetSize

	if full == 0 {
		// Tiny pool: a single undersized cell is the accepted fallback.
		return []int{n}
	}

	switch {
	case rem == 0:
		sizes := make([]int, full)
		for i := range sizes {
			sizes[i] = cellTargetSize
		}
		return sizes
	case rem >= cellMinSize:
		sizes := make([]int, full, full+1)
		for i := range sizes {
			sizes[i] = cellTargetSize
		}
		return append(sizes, rem)
	default:
		// rem is 1 or 2: fold it into one oversized cell (6 or 7) instead
		// of leaving one or two people alone.
		sizes := make([]int, full-1, full)
		for i := range sizes {
			sizes[i] = cellTargetSize
		}
		return append(sizes, cellTargetSize+rem)
	}
}

// CalculateIdeaSizes partitions total ideas across cellCount cells as evenly
// as possible: the first total%cellCount entries get one extra idea.
//
// The output length equals cellCount and sums to total; max-min ≤ 1.
// A total of 0 yields an empty slice.
func CalculateIdeaSizes(total, cellCount int) []int {
	if total == 0 || cellCount <= 0 {
		return []int{}
	}
	base := total / cellCount
	extra := total % cellCount

	sizes := make([]int, cellCount)
	for i := range sizes {
		sizes[i] = base
		if i < extra {
			sizes[i]++
		}
	}
	return sizes
}
