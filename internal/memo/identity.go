package memo

// SameSlice reports whether a and b are the same slice: same length and same
// backing array start. Zero-length slices are treated as interchangeable.
func SameSlice[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
