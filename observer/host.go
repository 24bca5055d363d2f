package observer

import (
	"context"
	"fmt"
)

type EventKind uint8

const (
	EventPersisted EventKind = iota + 1
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventPersisted:
		return "persisted"
	case EventDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is the payload a Bus hands to a Receiver. Created is only meaningful
// for EventPersisted. Instance may be nil when the host resolved the affected
// rows without materializing them.
type Event struct {
	Entity   EntityType
	Kind     EventKind
	ID       any
	Created  bool
	Instance any
}

type Receiver func(Event)

// Bus is the host's change-notification mechanism. Receivers are invoked
// synchronously, in-line with the persist or delete that triggered them.
//
// Connect must fail with ErrAlreadySubscribed when key is already connected.
// Disconnect of an unknown key is a no-op.
type Bus interface {
	Connect(key string, entity EntityType, kind EventKind, fn Receiver) error
	Disconnect(key string)
}

// Field is a single column of a snapshot.
type Field struct {
	Name  string
	Value any
}

// Store gives the observer read access to the host's records.
//
// Identify returns a nil id for instances that were never persisted.
// Fetch returns ErrRecordNotFound when no record exists for id.
type Store interface {
	Identify(instance any) (any, error)
	Fields(instance any) ([]Field, error)
	Fetch(ctx context.Context, entity EntityType, id any) ([]Field, error)
}

type Host interface {
	Bus
	Store
}

// SubscriptionKey returns the dispatch key a ledger uses for entity and kind.
// It depends only on the entity type, so repeated subscribe/unsubscribe cycles
// always address the same registration.
func SubscriptionKey(entity EntityType, kind EventKind) string {
	switch kind {
	case EventDeleted:
		return "observe_post_delete_model_" + entity.QualifiedName()
	default:
		return "observe_post_save_model_" + entity.QualifiedName()
	}
}
