package observer

import (
	"fmt"
	"sort"
	"strings"
)

// Snapshot is an immutable capture of a record's fields at one point in time.
// Values are held in canonical form.
type Snapshot struct {
	names  []string
	values map[string]any
}

func NewSnapshot(fields []Field) Snapshot {
	s := Snapshot{
		names:  make([]string, 0, len(fields)),
		values: make(map[string]any, len(fields)),
	}
	for _, f := range fields {
		if _, dup := s.values[f.Name]; !dup {
			s.names = append(s.names, f.Name)
		}
		s.values[f.Name] = Canonical(f.Value)
	}
	return s
}

func (s Snapshot) Len() int {
	return len(s.names)
}

// Names returns field names in host order.
func (s Snapshot) Names() []string {
	return append([]string(nil), s.names...)
}

func (s Snapshot) Value(name string) (any, bool) {
	v, ok := s.values[name]
	if !ok {
		return nil, false
	}
	return Canonical(v), true
}

// DeltaTo returns the (field, value) pairs of current that are not present in
// s, keyed by field. Fields that only exist in s are not reported.
func (s Snapshot) DeltaTo(current Snapshot) Delta {
	delta := Delta{}
	for _, name := range current.names {
		now := current.values[name]
		before, ok := s.values[name]
		if ok && Equal(before, now) {
			continue
		}
		delta[name] = Canonical(now)
	}
	return delta
}

// Delta maps a changed field name to its current value.
type Delta map[string]any

// Canonical returns a copy of d with every value canonicalized.
func (d Delta) Canonical() Delta {
	out := make(Delta, len(d))
	for k, v := range d {
		out[k] = Canonical(v)
	}
	return out
}

// Equal compares two deltas as unordered field→value mappings.
func (d Delta) Equal(other Delta) bool {
	if len(d) != len(other) {
		return false
	}
	for k, v := range d {
		o, ok := other[k]
		if !ok || !Equal(v, o) {
			return false
		}
	}
	return true
}

func (d Delta) Fields() []string {
	names := make([]string, 0, len(d))
	for k := range d {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (d Delta) String() string {
	parts := make([]string, 0, len(d))
	for _, k := range d.Fields() {
		parts = append(parts, fmt.Sprintf("%s=%v", k, d[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
