package observer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Ledger accumulates create, update and delete notifications for exactly one
// entity type. It is not safe for concurrent use; the host bus is its only
// writer.
type Ledger struct {
	entity EntityType
	host   Host
	logger *zap.Logger

	created []any
	updated []any
	deleted []any
	tracked map[any]*Tracker

	subscribed bool
}

func NewLedger(entity EntityType, host Host, opts ...Option) *Ledger {
	o := buildOptions(opts)
	return &Ledger{
		entity:  entity,
		host:    host,
		logger:  o.logger.With(zap.String("entity", entity.Name())),
		tracked: make(map[any]*Tracker),
	}
}

func (l *Ledger) Entity() EntityType {
	return l.entity
}

func (l *Ledger) Subscribed() bool {
	return l.subscribed
}

// Subscribe connects the ledger to the host bus. Calling it again on a
// subscribed ledger does nothing; another ledger already subscribed for the
// same entity type makes it fail with ErrAlreadySubscribed.
func (l *Ledger) Subscribe() error {
	if l.subscribed {
		return nil
	}
	saveKey := SubscriptionKey(l.entity, EventPersisted)
	deleteKey := SubscriptionKey(l.entity, EventDeleted)

	if err := l.host.Connect(saveKey, l.entity, EventPersisted, l.receive); err != nil {
		return fmt.Errorf("subscribe %s: %w", l.entity.Name(), err)
	}
	if err := l.host.Connect(deleteKey, l.entity, EventDeleted, l.receive); err != nil {
		l.host.Disconnect(saveKey)
		return fmt.Errorf("subscribe %s: %w", l.entity.Name(), err)
	}
	l.subscribed = true
	l.logger.Debug("ledger subscribed", zap.String("save_key", saveKey), zap.String("delete_key", deleteKey))
	return nil
}

// Unsubscribe removes both registrations. It is safe to call at any time,
// including from cleanup paths after a failed test.
func (l *Ledger) Unsubscribe() {
	if !l.subscribed {
		return
	}
	l.host.Disconnect(SubscriptionKey(l.entity, EventPersisted))
	l.host.Disconnect(SubscriptionKey(l.entity, EventDeleted))
	l.subscribed = false
	l.logger.Debug("ledger unsubscribed")
}

func (l *Ledger) receive(ev Event) {
	if ev.Entity != l.entity {
		return
	}
	switch ev.Kind {
	case EventPersisted:
		l.OnPersisted(ev.ID, ev.Created)
	case EventDeleted:
		l.OnDeleted(ev.ID)
	}
}

func (l *Ledger) OnPersisted(id any, created bool) {
	id = NormalizeID(id)
	if created {
		l.created = append(l.created, id)
	} else {
		l.updated = append(l.updated, id)
	}
	l.logger.Debug("record persisted", zap.Any("id", id), zap.Bool("created", created))
}

func (l *Ledger) OnDeleted(id any) {
	id = NormalizeID(id)
	l.deleted = append(l.deleted, id)
	l.logger.Debug("record deleted", zap.Any("id", id))
}

func (l *Ledger) CreatedCount() int { return len(distinct(l.created)) }
func (l *Ledger) UpdatedCount() int { return len(distinct(l.updated)) }
func (l *Ledger) DeletedCount() int { return len(distinct(l.deleted)) }

// CreatedIDs returns the distinct created ids in first-seen order.
func (l *Ledger) CreatedIDs() []any { return distinct(l.created) }
func (l *Ledger) UpdatedIDs() []any { return distinct(l.updated) }
func (l *Ledger) DeletedIDs() []any { return distinct(l.deleted) }

func (l *Ledger) HasNoChanges() bool {
	return l.CreatedCount() == 0 && l.UpdatedCount() == 0 && l.DeletedCount() == 0
}

// Reset clears the logs and every tracked instance. The subscription stays.
func (l *Ledger) Reset() {
	l.created = nil
	l.updated = nil
	l.deleted = nil
	l.tracked = make(map[any]*Tracker)
	l.logger.Debug("ledger reset")
}

// Track snapshots the field values held by instance, which must already be
// stored. A later call for the same record replaces the earlier snapshot.
func (l *Ledger) Track(ctx context.Context, instance any) error {
	id, err := l.identify(instance)
	if err != nil {
		return err
	}
	if id == nil {
		return fmt.Errorf("track %s: %w", l.entity.Name(), ErrNotPersisted)
	}
	if _, err := fetchTracker(ctx, l.host, l.entity, id); err != nil {
		return err
	}
	fields, err := l.host.Fields(instance)
	if err != nil {
		return fmt.Errorf("track %s %v: %w", l.entity.Name(), id, err)
	}
	l.keep(newTracker(l.host, l.entity, id, fields))
	return nil
}

// TrackID snapshots the stored record of id.
func (l *Ledger) TrackID(ctx context.Context, id any) error {
	id = NormalizeID(id)
	if id == nil {
		return fmt.Errorf("track %s: %w", l.entity.Name(), ErrNotPersisted)
	}
	t, err := fetchTracker(ctx, l.host, l.entity, id)
	if err != nil {
		return err
	}
	l.keep(t)
	return nil
}

func (l *Ledger) keep(t *Tracker) {
	l.tracked[t.id] = t
	l.logger.Debug("record tracked", zap.Any("id", t.id), zap.Int("fields", t.snapshot.Len()))
}

func (l *Ledger) TrackAll(ctx context.Context, instances ...any) error {
	for _, inst := range instances {
		if err := l.Track(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

// Tracked returns the ids of tracked records.
func (l *Ledger) Tracked() []any {
	ids := make([]any, 0, len(l.tracked))
	for id := range l.tracked {
		ids = append(ids, id)
	}
	return ids
}

func (l *Ledger) Tracker(instance any) (*Tracker, error) {
	id, err := l.identify(instance)
	if err != nil {
		return nil, err
	}
	return l.TrackerOfID(id)
}

func (l *Ledger) TrackerOfID(id any) (*Tracker, error) {
	id = NormalizeID(id)
	t, ok := l.tracked[id]
	if !ok || id == nil {
		return nil, fmt.Errorf("%s %v: %w", l.entity.Name(), id, ErrNotTracked)
	}
	return t, nil
}

// StatusOf reports what happened to instance. Unsaved instances are untouched.
func (l *Ledger) StatusOf(ctx context.Context, instance any) (Status, error) {
	id, err := l.identify(instance)
	if err != nil {
		return Status{}, err
	}
	return l.StatusOfID(ctx, id)
}

// StatusOfID reports what happened to the record with id. Use it with an id
// captured before deletion when the host clears identifiers on delete.
func (l *Ledger) StatusOfID(ctx context.Context, id any) (Status, error) {
	id = NormalizeID(id)
	if id == nil {
		return Status{}, nil
	}
	if t, ok := l.tracked[id]; ok {
		return t.Status(ctx)
	}
	return Status{
		ID:      id,
		Created: contains(l.created, id),
		Updated: contains(l.updated, id),
		Deleted: contains(l.deleted, id),
	}, nil
}

func (l *Ledger) Delta(ctx context.Context, instance any) (Delta, error) {
	t, err := l.Tracker(instance)
	if err != nil {
		return nil, err
	}
	return t.Delta(ctx)
}

func (l *Ledger) DeltaOfID(ctx context.Context, id any) (Delta, error) {
	t, err := l.TrackerOfID(id)
	if err != nil {
		return nil, err
	}
	return t.Delta(ctx)
}

func (l *Ledger) AssertDelta(ctx context.Context, instance any, expected Delta) error {
	t, err := l.Tracker(instance)
	if err != nil {
		return err
	}
	return t.AssertDeltaEquals(ctx, expected)
}

func (l *Ledger) AssertDeltaOfID(ctx context.Context, id any, expected Delta) error {
	t, err := l.TrackerOfID(id)
	if err != nil {
		return err
	}
	return t.AssertDeltaEquals(ctx, expected)
}

func (l *Ledger) AssertUntouched() error {
	c, u, d := l.CreatedCount(), l.UpdatedCount(), l.DeletedCount()
	if c == 0 && u == 0 && d == 0 {
		return nil
	}
	return &UnexpectedChangeError{Entity: l.entity, Created: c, Updated: u, Deleted: d}
}

// Report is a JSON friendly summary of a ledger.
type Report struct {
	Entity     string `json:"entity"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Deleted    int    `json:"deleted"`
	CreatedIDs []any  `json:"created_ids"`
	UpdatedIDs []any  `json:"updated_ids"`
	DeletedIDs []any  `json:"deleted_ids"`
	Tracked    int    `json:"tracked"`
	Untouched  bool   `json:"untouched"`
}

func (l *Ledger) Report() Report {
	return Report{
		Entity:     l.entity.Name(),
		Created:    l.CreatedCount(),
		Updated:    l.UpdatedCount(),
		Deleted:    l.DeletedCount(),
		CreatedIDs: l.CreatedIDs(),
		UpdatedIDs: l.UpdatedIDs(),
		DeletedIDs: l.DeletedIDs(),
		Tracked:    len(l.tracked),
		Untouched:  l.HasNoChanges(),
	}
}

// identify resolves the normalized id of instance after checking its type.
func (l *Ledger) identify(instance any) (any, error) {
	if got := EntityOf(instance); got != l.entity {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongEntityType, l.entity, got)
	}
	id, err := l.host.Identify(instance)
	if err != nil {
		return nil, fmt.Errorf("identify %s: %w", l.entity.Name(), err)
	}
	if isZeroID(id) {
		return nil, nil
	}
	return NormalizeID(id), nil
}

func distinct(ids []any) []any {
	seen := make(map[any]struct{}, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func contains(ids []any, id any) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
