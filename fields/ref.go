package fields

import (
	"strconv"
)

// FieldRef identifies a streamer field either by its positional numeric id or
// by its registered name. Callers construct whichever variant is convenient;
// Resolve canonicalizes both to the numeric-string id used on the wire.
type FieldRef struct {
	id   int
	name string
	isID bool
}

// ID makes a FieldRef from a positional field id.
func ID(id int) FieldRef {
	return FieldRef{id: id, isID: true}
}

// Name makes a FieldRef from a field name. A numeric string is treated as an
// id, so Name("42") and ID(42) resolve identically.
func Name(name string) FieldRef {
	if id, err := strconv.Atoi(name); err == nil {
		return ID(id)
	}

	return FieldRef{name: name}
}

func (f FieldRef) String() string {
	if f.isID {
		return strconv.Itoa(f.id)
	}

	return f.name
}
