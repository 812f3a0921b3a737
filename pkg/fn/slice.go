package fn

// Map returns f applied to every element of items.
func Map[T, U any](items []T, f func(T) U) []U {
	out := make([]U, 0, len(items))
	for _, v := range items {
		out = append(out, f(v))
	}
	return out
}

// Filter keeps the elements accepted by keep, in order. Nil when none are.
func Filter[T any](items []T, keep func(T) bool) []T {
	var kept []T
	for _, v := range items {
		if keep(v) {
			kept = append(kept, v)
		}
	}
	return kept
}

// Unique drops repeats, keeping each value where it first appeared.
func Unique[T comparable](items []T) []T {
	seen := make(map[T]bool, len(items))
	return Filter(items, func(v T) bool {
		if seen[v] {
			return false
		}
		seen[v] = true
		return true
	})
}

// Take returns the first n elements, or all of them when there are fewer.
func Take[T any](items []T, n int) []T {
	return items[:max(0, min(n, len(items)))]
}
