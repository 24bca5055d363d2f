package observer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerSet manages one Ledger per entity type for the lifetime of a single
// test. Close must run on every exit path; subscriptions are process wide.
type LedgerSet struct {
	id      string
	host    Host
	opts    []Option
	logger  *zap.Logger
	order   []EntityType
	ledgers map[EntityType]*Ledger
}

func NewLedgerSet(host Host, opts ...Option) *LedgerSet {
	id := uuid.NewString()
	o := buildOptions(opts)
	logger := o.logger.With(zap.String("scope_id", id))
	return &LedgerSet{
		id:      id,
		host:    host,
		opts:    append(append([]Option(nil), opts...), WithLogger(logger)),
		logger:  logger,
		ledgers: make(map[EntityType]*Ledger),
	}
}

// Open creates and subscribes a ledger for each entity type. Nothing from a
// failed call stays subscribed.
func (s *LedgerSet) Open(types ...EntityType) error {
	seen := make(map[EntityType]struct{}, len(types))
	for _, t := range types {
		if t.IsZero() {
			return fmt.Errorf("open ledgers: %w: zero entity type", ErrUnknownEntityType)
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("open ledgers: %w: %s", ErrDuplicateEntityType, t)
		}
		if _, dup := s.ledgers[t]; dup {
			return fmt.Errorf("open ledgers: %w: %s", ErrDuplicateEntityType, t)
		}
		seen[t] = struct{}{}
	}

	opened := make([]*Ledger, 0, len(types))
	for _, t := range types {
		l := NewLedger(t, s.host, s.opts...)
		if err := l.Subscribe(); err != nil {
			for _, o := range opened {
				o.Unsubscribe()
			}
			return fmt.Errorf("open ledgers: %w", err)
		}
		opened = append(opened, l)
	}
	for _, l := range opened {
		s.ledgers[l.entity] = l
		s.order = append(s.order, l.entity)
	}
	s.logger.Debug("ledgers opened", zap.Int("count", len(opened)))
	return nil
}

// Close unsubscribes every ledger. It never fails and may be called twice.
func (s *LedgerSet) Close() {
	for _, t := range s.order {
		s.ledgers[t].Unsubscribe()
	}
	s.logger.Debug("ledgers closed", zap.Int("count", len(s.order)))
}

func (s *LedgerSet) ID() string {
	return s.id
}

func (s *LedgerSet) Entities() []EntityType {
	return append([]EntityType(nil), s.order...)
}

func (s *LedgerSet) Len() int {
	return len(s.order)
}

func (s *LedgerSet) Ledger(t EntityType) (*Ledger, error) {
	l, ok := s.ledgers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, t)
	}
	return l, nil
}

// LedgerFor returns the ledger of entity type T.
func LedgerFor[T any](s *LedgerSet) (*Ledger, error) {
	return s.Ledger(TypeOf[T]())
}

// Lookup resolves a ledger by entity name, see FindEntity.
func (s *LedgerSet) Lookup(name string) (*Ledger, error) {
	t, ok := FindEntity(s.order, name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, name)
	}
	return s.ledgers[t], nil
}

// Default returns the only ledger of the set.
func (s *LedgerSet) Default() (*Ledger, error) {
	if len(s.order) != 1 {
		return nil, fmt.Errorf("%w: no default ledger among %d entity types", ErrUnknownEntityType, len(s.order))
	}
	return s.ledgers[s.order[0]], nil
}

func (s *LedgerSet) ResetAll() {
	for _, t := range s.order {
		s.ledgers[t].Reset()
	}
}

func (s *LedgerSet) AllUntouched() bool {
	for _, t := range s.order {
		if !s.ledgers[t].HasNoChanges() {
			return false
		}
	}
	return true
}

func (s *LedgerSet) AssertAllUntouched() error {
	var errs []error
	for _, t := range s.order {
		if err := s.ledgers[t].AssertUntouched(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *LedgerSet) Reports() []Report {
	out := make([]Report, 0, len(s.order))
	for _, t := range s.order {
		out = append(out, s.ledgers[t].Report())
	}
	return out
}
