package observer

import (
	"reflect"
	"strings"

	"github.com/jinzhu/inflection"
)

// EntityType identifies a persisted record schema by its Go struct type.
// It is comparable and can be used as a map key.
type EntityType struct {
	typ reflect.Type
}

// TypeOf returns the entity type of T. Pointer types resolve to their element.
func TypeOf[T any]() EntityType {
	return EntityOfType(reflect.TypeOf((*T)(nil)).Elem())
}

// EntityOf returns the entity type of the value v, dereferencing pointers.
func EntityOf(v any) EntityType {
	if v == nil {
		return EntityType{}
	}
	return EntityOfType(reflect.TypeOf(v))
}

// EntityOfType returns the entity type of t, dereferencing pointer types.
func EntityOfType(t reflect.Type) EntityType {
	if t == nil {
		return EntityType{}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return EntityType{typ: t}
}

func (e EntityType) Type() reflect.Type {
	return e.typ
}

func (e EntityType) IsZero() bool {
	return e.typ == nil
}

// Name is the bare struct name, e.g. "Player".
func (e EntityType) Name() string {
	if e.typ == nil {
		return ""
	}
	return e.typ.Name()
}

// QualifiedName includes the package path so that two packages declaring the
// same struct name never share subscription keys.
func (e EntityType) QualifiedName() string {
	if e.typ == nil {
		return ""
	}
	if pkg := e.typ.PkgPath(); pkg != "" {
		return pkg + "." + e.typ.Name()
	}
	return e.typ.String()
}

func (e EntityType) String() string {
	if e.typ == nil {
		return "<nil entity>"
	}
	return e.typ.String()
}

// FindEntity resolves a user supplied name ("Player", "player", "players")
// against the given entity types.
func FindEntity(types []EntityType, name string) (EntityType, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return EntityType{}, false
	}
	candidates := []string{name, inflection.Singular(name)}
	for _, t := range types {
		for _, c := range candidates {
			if strings.EqualFold(t.Name(), c) || strings.EqualFold(t.QualifiedName(), c) {
				return t, true
			}
		}
	}
	return EntityType{}, false
}
