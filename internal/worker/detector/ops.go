// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package detector

// OpKind identifies a viewer operation.
type OpKind int

const (
	// LoadOp replaces the whole document with HTML.
	LoadOp OpKind = iota

	// InsertOp parses HTML as a fragment and inserts it into the element
	// keyed Parent, before the child keyed Before or at the end.
	InsertOp

	// RemoveOp removes the element keyed Key.
	RemoveOp

	// LoadedOp reports that the content applied to the element keyed Key
	// finished loading.
	LoadedOp
)

var opNames = map[OpKind]string{
	LoadOp:   "load",
	InsertOp: "insert",
	RemoveOp: "remove",
	LoadedOp: "loaded",
}

// String implements fmt.Stringer.
func (k OpKind) String() string {
	if name, ok := opNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseOpKind returns the kind with the given name.
func ParseOpKind(name string) (OpKind, bool) {
	for kind, n := range opNames {
		if n == name {
			return kind, true
		}
	}
	return 0, false
}

// Op is one operation on a viewer's document.
type Op struct {
	Kind   OpKind
	Key    string
	Parent string
	Before string
	HTML   string
}
