package observer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownEntityType   = errors.New("unknown entity type")
	ErrDuplicateEntityType = errors.New("duplicate entity type")
	ErrWrongEntityType     = errors.New("wrong entity type")
	ErrNotTracked          = errors.New("instance not tracked")
	ErrDeltaMismatch       = errors.New("delta mismatch")
	ErrUnexpectedChange    = errors.New("unexpected change")
	ErrAlreadySubscribed   = errors.New("entity type already subscribed")
	ErrRecordNotFound      = errors.New("record not found")
	ErrNotPersisted        = errors.New("instance not persisted")
)

// DeltaMismatchError reports a tracked delta that differs from the expected one.
type DeltaMismatchError struct {
	Entity   EntityType
	ID       any
	Expected Delta
	Actual   Delta
}

func (e *DeltaMismatchError) Error() string {
	var parts []string
	for _, name := range unionKeys(e.Expected, e.Actual) {
		want, wantOK := e.Expected[name]
		got, gotOK := e.Actual[name]
		switch {
		case !gotOK:
			parts = append(parts, fmt.Sprintf("%s: expected %v, field unchanged", name, want))
		case !wantOK:
			parts = append(parts, fmt.Sprintf("%s: unexpected change to %v", name, got))
		case !Equal(want, got):
			parts = append(parts, fmt.Sprintf("%s: expected %v, got %v", name, want, got))
		}
	}
	return fmt.Sprintf("%s %v: %s: %s", e.Entity.Name(), e.ID, ErrDeltaMismatch, strings.Join(parts, "; "))
}

func (e *DeltaMismatchError) Unwrap() error {
	return ErrDeltaMismatch
}

// UnexpectedChangeError is returned by AssertUntouched.
type UnexpectedChangeError struct {
	Entity  EntityType
	Created int
	Updated int
	Deleted int
}

func (e *UnexpectedChangeError) Error() string {
	return fmt.Sprintf("%s: %s: created=%d updated=%d deleted=%d",
		e.Entity.Name(), ErrUnexpectedChange, e.Created, e.Updated, e.Deleted)
}

func (e *UnexpectedChangeError) Unwrap() error {
	return ErrUnexpectedChange
}

func unionKeys(a, b Delta) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
