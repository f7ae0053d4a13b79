package entity

import "github.com/roach88/odatalink/internal/codec"

// FieldChange is one property whose value differs from the snapshot.
type FieldChange struct {
	Name string
	Old  any
	New  any
}

// Changes compares the values against the snapshot. Only properties present
// in both and unequal are reported, in declaration order.
func (e *Entity) Changes() []FieldChange {
	var out []FieldChange
	for _, p := range e.typ.Structural() {
		cur, ok := e.values[p.Name]
		if !ok {
			continue
		}
		old, ok := e.snapshot[p.Name]
		if !ok {
			continue
		}
		if codec.Equal(cur, old) {
			continue
		}
		out = append(out, FieldChange{Name: p.Name, Old: old, New: cur})
	}
	return out
}

// Modified reports whether a save would send anything: new entities always,
// persisted ones when they have field changes or pending bindings.
func (e *Entity) Modified() bool {
	if e.Is(StateNew) {
		return true
	}
	return len(e.bindOrder) > 0 || len(e.Changes()) > 0
}
