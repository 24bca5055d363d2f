package observer

import (
	"context"
	"errors"
	"fmt"
)

// Tracker holds the field snapshot of one explicitly observed record and
// answers delta queries against the record's current persisted state.
type Tracker struct {
	entity   EntityType
	id       any
	snapshot Snapshot
	store    Store
}

func newTracker(store Store, entity EntityType, id any, fields []Field) *Tracker {
	return &Tracker{
		entity:   entity,
		id:       id,
		snapshot: NewSnapshot(fields),
		store:    store,
	}
}

// fetchTracker snapshots the stored record of id.
func fetchTracker(ctx context.Context, store Store, entity EntityType, id any) (*Tracker, error) {
	fields, err := store.Fetch(ctx, entity, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, fmt.Errorf("track %s %v: %w", entity.Name(), id, ErrNotPersisted)
		}
		return nil, fmt.Errorf("track %s %v: %w", entity.Name(), id, err)
	}
	return newTracker(store, entity, id, fields), nil
}

func (t *Tracker) Entity() EntityType {
	return t.entity
}

func (t *Tracker) ID() any {
	return t.id
}

func (t *Tracker) Snapshot() Snapshot {
	return t.snapshot
}

// current returns the re-fetched snapshot, or deleted=true when the record
// no longer exists.
func (t *Tracker) current(ctx context.Context) (Snapshot, bool, error) {
	fields, err := t.store.Fetch(ctx, t.entity, t.id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Snapshot{}, true, nil
		}
		return Snapshot{}, false, fmt.Errorf("refetch %s %v: %w", t.entity.Name(), t.id, err)
	}
	return NewSnapshot(fields), false, nil
}

// Delta returns the fields whose persisted value differs from the snapshot.
// A deleted record yields an empty delta.
func (t *Tracker) Delta(ctx context.Context) (Delta, error) {
	cur, deleted, err := t.current(ctx)
	if err != nil {
		return nil, err
	}
	if deleted {
		return Delta{}, nil
	}
	return t.snapshot.DeltaTo(cur), nil
}

func (t *Tracker) IsCreated() bool {
	return false
}

func (t *Tracker) IsUpdated(ctx context.Context) (bool, error) {
	delta, err := t.Delta(ctx)
	if err != nil {
		return false, err
	}
	return len(delta) > 0, nil
}

func (t *Tracker) IsDeleted(ctx context.Context) (bool, error) {
	_, deleted, err := t.current(ctx)
	return deleted, err
}

// Status computes all three flags from a single re-fetch.
func (t *Tracker) Status(ctx context.Context) (Status, error) {
	cur, deleted, err := t.current(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{ID: t.id, Tracked: true, Deleted: deleted}
	if !deleted {
		st.Updated = len(t.snapshot.DeltaTo(cur)) > 0
	}
	return st, nil
}

func (t *Tracker) AssertDeltaEquals(ctx context.Context, expected Delta) error {
	actual, err := t.Delta(ctx)
	if err != nil {
		return err
	}
	want := expected.Canonical()
	if !actual.Equal(want) {
		return &DeltaMismatchError{Entity: t.entity, ID: t.id, Expected: want, Actual: actual}
	}
	return nil
}
