// Package memo provides a single-slot cache in front of a pure function.
//
// A Cell remembers the arguments and result of its most recent call only.
// Calling it again with arguments identical to the previous call returns the
// stored result without invoking the function; any other call replaces the
// slot. Cells are meant to be owned by exactly one call site and used from a
// single goroutine: sharing one cell between unrelated callers makes them
// evict each other's result on every call.
package memo

// Cell wraps fn with a one-entry cache keyed on argument identity.
type Cell[A, R any] struct {
	fn     func(A) R
	same   func(a, b A) bool
	filled bool
	args   A
	result R
}

// New returns a Cell that compares arguments with ==. A is typically a
// pointer to an immutable snapshot, or a small struct of such pointers.
func New[A comparable, R any](fn func(A) R) *Cell[A, R] {
	return NewFunc(fn, func(a, b A) bool { return a == b })
}

// NewFunc returns a Cell that uses same to decide whether two argument values
// are identical. same must be an identity check, not deep equality.
func NewFunc[A, R any](fn func(A) R, same func(a, b A) bool) *Cell[A, R] {
	if fn == nil {
		panic("memo: nil transform")
	}
	if same == nil {
		panic("memo: nil identity comparison")
	}
	return &Cell[A, R]{fn: fn, same: same}
}

// Get returns fn(args), reusing the previous result when args is identical to
// the previous call's arguments.
func (c *Cell[A, R]) Get(args A) R {
	if c.filled && c.same(c.args, args) {
		return c.result
	}
	result := c.fn(args)
	c.args = args
	c.result = result
	c.filled = true
	return result
}

// Pair is a two-argument tuple for cells whose transform takes two inputs.
type Pair[A, B any] struct {
	First  A
	Second B
}

// New2 returns a Cell over a two-argument function with comparable inputs.
// Call it with Get(memo.Pair[A, B]{a, b}) or through Func2.
func New2[A, B comparable, R any](fn func(A, B) R) *Cell[Pair[A, B], R] {
	return New(func(p Pair[A, B]) R { return fn(p.First, p.Second) })
}

// Func2 adapts a two-argument cell back into a plain function value.
func Func2[A, B, R any](c *Cell[Pair[A, B], R]) func(A, B) R {
	return func(a A, b B) R {
		return c.Get(Pair[A, B]{First: a, Second: b})
	}
}
