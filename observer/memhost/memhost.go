// Package memhost is an in-memory observer.Host. Each test builds its own
// Host, so subscriptions and records never leak between tests.
//
// Records are pointers to structs carrying an integer or string field named
// ID. Integer ids are assigned on first Save when zero.
package memhost

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"gorm.io/gorm/schema"

	"github.com/atvirokodosprendimai/modelobserver/observer"
)

var ErrInvalidRecord = errors.New("invalid record")

type subscription struct {
	entity observer.EntityType
	kind   observer.EventKind
	fn     observer.Receiver
}

type Host struct {
	subs   map[string]subscription
	tables map[observer.EntityType]map[any]reflect.Value
	nextID map[observer.EntityType]int64
	namer  schema.Namer
}

func New() *Host {
	return &Host{
		subs:   make(map[string]subscription),
		tables: make(map[observer.EntityType]map[any]reflect.Value),
		nextID: make(map[observer.EntityType]int64),
		namer:  schema.NamingStrategy{},
	}
}

var _ observer.Host = (*Host)(nil)

func (h *Host) Connect(key string, entity observer.EntityType, kind observer.EventKind, fn observer.Receiver) error {
	if _, ok := h.subs[key]; ok {
		return fmt.Errorf("connect %s: %w", key, observer.ErrAlreadySubscribed)
	}
	h.subs[key] = subscription{entity: entity, kind: kind, fn: fn}
	return nil
}

func (h *Host) Disconnect(key string) {
	delete(h.subs, key)
}

// Subscriptions lists the connected keys in sorted order.
func (h *Host) Subscriptions() []string {
	keys := make([]string, 0, len(h.subs))
	for k := range h.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save inserts or updates instance and notifies persisted receivers.
func (h *Host) Save(instance any) error {
	rv, idField, err := recordValue(instance)
	if err != nil {
		return err
	}
	entity := observer.EntityOf(instance)
	table := h.table(entity)

	created := false
	if idField.IsZero() {
		if err := h.assignID(entity, idField); err != nil {
			return err
		}
		created = true
	}
	id := observer.NormalizeID(idField.Interface())
	if _, exists := table[id]; !exists {
		created = true
	}
	if n, ok := id.(int64); ok && n > h.nextID[entity] {
		h.nextID[entity] = n
	}
	table[id] = clone(rv)

	h.dispatch(observer.Event{Entity: entity, Kind: observer.EventPersisted, ID: id, Created: created, Instance: instance})
	return nil
}

// Delete removes instance and notifies deleted receivers. The instance keeps
// its ID field.
func (h *Host) Delete(instance any) error {
	_, idField, err := recordValue(instance)
	if err != nil {
		return err
	}
	entity := observer.EntityOf(instance)
	id := observer.NormalizeID(idField.Interface())
	table := h.table(entity)
	if _, ok := table[id]; !ok {
		return fmt.Errorf("delete %s %v: %w", entity.Name(), id, observer.ErrRecordNotFound)
	}
	delete(table, id)

	h.dispatch(observer.Event{Entity: entity, Kind: observer.EventDeleted, ID: id, Instance: instance})
	return nil
}

// Count returns the number of stored records of entity.
func (h *Host) Count(entity observer.EntityType) int {
	return len(h.tables[entity])
}

func (h *Host) Identify(instance any) (any, error) {
	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("identify: %w: nil pointer", ErrInvalidRecord)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("identify %T: %w: not a struct", instance, ErrInvalidRecord)
	}
	idField := rv.FieldByName("ID")
	if !idField.IsValid() {
		return nil, fmt.Errorf("identify %T: %w: no ID field", instance, ErrInvalidRecord)
	}
	if idField.IsZero() {
		return nil, nil
	}
	return observer.NormalizeID(idField.Interface()), nil
}

func (h *Host) Fields(instance any) ([]observer.Field, error) {
	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("fields: %w: nil pointer", ErrInvalidRecord)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("fields %T: %w: not a struct", instance, ErrInvalidRecord)
	}
	return h.fieldsOf(rv), nil
}

func (h *Host) Fetch(_ context.Context, entity observer.EntityType, id any) ([]observer.Field, error) {
	rv, ok := h.tables[entity][observer.NormalizeID(id)]
	if !ok {
		return nil, fmt.Errorf("fetch %s %v: %w", entity.Name(), id, observer.ErrRecordNotFound)
	}
	return h.fieldsOf(rv), nil
}

func (h *Host) fieldsOf(rv reflect.Value) []observer.Field {
	t := rv.Type()
	fields := make([]observer.Field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Name == "ID" {
			continue
		}
		fields = append(fields, observer.Field{
			Name:  h.namer.ColumnName("", sf.Name),
			Value: rv.Field(i).Interface(),
		})
	}
	return fields
}

func (h *Host) dispatch(ev observer.Event) {
	keys := h.Subscriptions()
	for _, k := range keys {
		sub, ok := h.subs[k]
		if !ok || sub.entity != ev.Entity || sub.kind != ev.Kind {
			continue
		}
		sub.fn(ev)
	}
}

func (h *Host) table(entity observer.EntityType) map[any]reflect.Value {
	t, ok := h.tables[entity]
	if !ok {
		t = make(map[any]reflect.Value)
		h.tables[entity] = t
	}
	return t
}

func (h *Host) assignID(entity observer.EntityType, idField reflect.Value) error {
	next := h.nextID[entity] + 1
	switch idField.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		idField.SetInt(next)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		idField.SetUint(uint64(next))
	default:
		return fmt.Errorf("save %s: %w: %s ID must be set by the caller", entity.Name(), ErrInvalidRecord, idField.Kind())
	}
	h.nextID[entity] = next
	return nil
}

func recordValue(instance any) (reflect.Value, reflect.Value, error) {
	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, reflect.Value{}, fmt.Errorf("%w: %T is not a pointer to struct", ErrInvalidRecord, instance)
	}
	rv = rv.Elem()
	idField := rv.FieldByName("ID")
	if !idField.IsValid() || !idField.CanSet() {
		return reflect.Value{}, reflect.Value{}, fmt.Errorf("%w: %T has no settable ID field", ErrInvalidRecord, instance)
	}
	return rv, idField, nil
}

// clone copies the struct and the backing storage of its exported slice and
// map fields.
func clone(rv reflect.Value) reflect.Value {
	out := reflect.New(rv.Type()).Elem()
	out.Set(rv)
	for i := 0; i < out.NumField(); i++ {
		f := out.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.Slice:
			if f.IsNil() {
				continue
			}
			cp := reflect.MakeSlice(f.Type(), f.Len(), f.Len())
			reflect.Copy(cp, f)
			f.Set(cp)
		case reflect.Map:
			if f.IsNil() {
				continue
			}
			cp := reflect.MakeMapWithSize(f.Type(), f.Len())
			iter := f.MapRange()
			for iter.Next() {
				cp.SetMapIndex(iter.Key(), iter.Value())
			}
			f.Set(cp)
		}
	}
	return out
}
