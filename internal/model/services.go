package model

import "encoding/json"

// ListStatus distinguishes a list that was never loaded from one that loaded
// with no items.
type ListStatus int

const (
	ListUnloaded ListStatus = iota
	ListEmpty
	ListPopulated
)

func (s ListStatus) String() string {
	switch s {
	case ListEmpty:
		return "empty"
	case ListPopulated:
		return "populated"
	default:
		return "unloaded"
	}
}

// List is a sequence that may not have been loaded yet. The zero value is
// unloaded.
type List[T any] struct {
	items  []T
	loaded bool
}

// Unloaded returns a list in the not-yet-loaded state.
func Unloaded[T any]() List[T] {
	return List[T]{}
}

// Loaded returns a loaded list holding items. A nil or empty items slice is a
// loaded, empty list.
func Loaded[T any](items []T) List[T] {
	return List[T]{items: items, loaded: true}
}

// Items returns the items and whether the list has been loaded.
func (l List[T]) Items() ([]T, bool) {
	return l.items, l.loaded
}

// Len returns the number of items; zero for unloaded lists.
func (l List[T]) Len() int {
	return len(l.items)
}

// Status reports the tagged state of the list.
func (l List[T]) Status() ListStatus {
	switch {
	case !l.loaded:
		return ListUnloaded
	case len(l.items) == 0:
		return ListEmpty
	default:
		return ListPopulated
	}
}

// MarshalJSON encodes an unloaded list as null and a loaded one as an array.
func (l List[T]) MarshalJSON() ([]byte, error) {
	if !l.loaded {
		return []byte("null"), nil
	}
	if l.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.items)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (l *List[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = List[T]{}
		return nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if items == nil {
		items = []T{}
	}
	*l = Loaded(items)
	return nil
}

// ServicesState is the service catalog slice of the store.
type ServicesState struct {
	Loading              bool
	Services             List[string]
	OperationsForService map[string][]string
	Error                error
}
