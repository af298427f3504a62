package safeconv

import (
	"math"
	"time"
)

// IntSliceToInt64Slice widens tokenizer ids for tensor consumption.
func IntSliceToInt64Slice(input []int) []int64 {
	out := make([]int64, len(input))
	for i, v := range input {
		out[i] = int64(v)
	}
	return out
}

// Int64SliceToIntSlice narrows ids with clamping into the int range.
func Int64SliceToIntSlice(input []int64) []int {
	out := make([]int, len(input))
	for i, v := range input {
		if v > math.MaxInt {
			out[i] = math.MaxInt
		} else {
			out[i] = int(v)
		}
	}
	return out
}

// Uint32SliceToInt64Slice widens rust tokenizer ids for tensor consumption.
func Uint32SliceToInt64Slice(input []uint32) []int64 {
	out := make([]int64, len(input))
	for i, v := range input {
		out[i] = int64(v)
	}
	return out
}

// DurationToU64 converts a duration to an unsigned nanoseconds counter.
// Negative durations map to 0.
func DurationToU64(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d) // #nosec G115 negatives handled above
}
