// Package gormhost adapts a *gorm.DB to observer.Host.
//
// The gorm callback processor of a *gorm.DB is shared by every session and
// transaction derived from it. gormhost installs one fixed set of callbacks per
// processor. The callbacks resolve the subscription table of their processor
// at run time, so every Host built over the same database sees the same
// subscriptions, and the table is dropped once the last Host is closed.
package gormhost

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/atvirokodosprendimai/modelobserver/observer"
)

const (
	collectCreate = "modelobserver:collect_create"
	afterCreate   = "modelobserver:after_create"
	collectUpdate = "modelobserver:collect_update"
	afterUpdate   = "modelobserver:after_update"
	collectDelete = "modelobserver:collect_delete"
	afterDelete   = "modelobserver:after_delete"

	targetsKey  = "modelobserver:targets"
	existingKey = "modelobserver:existing"
)

var (
	ErrNoPrimaryKey = errors.New("model has no primary key")
	ErrClosed       = errors.New("host closed")
)

type Option func(*Host)

func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

type Host struct {
	db     *gorm.DB
	bus    *dispatcher
	logger *zap.Logger
	closed bool
}

var _ observer.Host = (*Host)(nil)

// New installs the gormhost callbacks on db when they are not installed yet.
// Call Close when the Host is no longer needed.
func New(db *gorm.DB, opts ...Option) (*Host, error) {
	h := &Host{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	bus, err := acquire(db)
	if err != nil {
		return nil, err
	}
	h.bus = bus
	return h, nil
}

// Close disconnects the subscriptions made through h. It may be called twice.
func (h *Host) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	release(h)
	return nil
}

func (h *Host) Connect(key string, entity observer.EntityType, kind observer.EventKind, fn observer.Receiver) error {
	if h.closed {
		return fmt.Errorf("connect %s: %w", key, ErrClosed)
	}
	return h.bus.connect(h, key, entity, kind, fn)
}

func (h *Host) Disconnect(key string) {
	h.bus.disconnect(key)
}

// Subscriptions lists the connected keys of the underlying database.
func (h *Host) Subscriptions() []string {
	return h.bus.keys()
}

func (h *Host) Identify(instance any) (any, error) {
	sch, rv, err := h.parse(instance)
	if err != nil {
		return nil, fmt.Errorf("identify %T: %w", instance, err)
	}
	v, zero := sch.PrioritizedPrimaryField.ValueOf(context.Background(), rv)
	if zero {
		return nil, nil
	}
	return observer.NormalizeID(v), nil
}

func (h *Host) Fields(instance any) ([]observer.Field, error) {
	sch, rv, err := h.parse(instance)
	if err != nil {
		return nil, fmt.Errorf("fields %T: %w", instance, err)
	}
	return fieldsOf(context.Background(), sch, rv), nil
}

// Fetch loads the row with primary key id through the writer connection.
func (h *Host) Fetch(ctx context.Context, entity observer.EntityType, id any) ([]observer.Field, error) {
	dest := reflect.New(entity.Type())
	sch, rv, err := h.parse(dest.Interface())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", entity.Name(), err)
	}
	pk := sch.PrioritizedPrimaryField
	err = h.db.WithContext(ctx).
		Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: pk.DBName}, Value: id}).
		Take(dest.Interface()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("fetch %s %v: %w", entity.Name(), id, observer.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s %v: %w", entity.Name(), id, err)
	}
	return fieldsOf(ctx, sch, rv), nil
}

// parse resolves the schema of instance and an addressable struct value.
func (h *Host) parse(instance any) (*schema.Schema, reflect.Value, error) {
	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, reflect.Value{}, fmt.Errorf("nil %T", instance)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, reflect.Value{}, fmt.Errorf("%T is not a struct", instance)
	}
	if !rv.CanAddr() {
		cp := reflect.New(rv.Type()).Elem()
		cp.Set(rv)
		rv = cp
	}
	stmt := &gorm.Statement{DB: h.db}
	if err := stmt.Parse(rv.Addr().Interface()); err != nil {
		return nil, reflect.Value{}, err
	}
	if stmt.Schema.PrioritizedPrimaryField == nil {
		return nil, reflect.Value{}, fmt.Errorf("%s: %w", stmt.Schema.Name, ErrNoPrimaryKey)
	}
	return stmt.Schema, rv, nil
}

// fieldsOf reads every column except primary keys in declaration order.
// Relations have no column and are skipped.
func fieldsOf(ctx context.Context, sch *schema.Schema, rv reflect.Value) []observer.Field {
	fields := make([]observer.Field, 0, len(sch.Fields))
	for _, f := range sch.Fields {
		if f.DBName == "" || f.PrimaryKey {
			continue
		}
		fields = append(fields, observer.Field{Name: f.DBName, Value: f.ReflectValueOf(ctx, rv).Interface()})
	}
	return fields
}

type subscription struct {
	owner  *Host
	entity observer.EntityType
	kind   observer.EventKind
	fn     observer.Receiver
}

type dispatcher struct {
	mu    sync.Mutex
	subs  map[string]subscription
	hosts int
}

var (
	registryMu sync.Mutex
	registry   = make(map[any]*dispatcher)
)

func acquire(db *gorm.DB) (*dispatcher, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	cbs := db.Callback()
	d, ok := registry[cbs]
	if !ok {
		if err := install(db); err != nil {
			return nil, fmt.Errorf("install callbacks: %w", err)
		}
		d = &dispatcher{subs: make(map[string]subscription)}
		registry[cbs] = d
	}
	d.hosts++
	return d, nil
}

func release(h *Host) {
	registryMu.Lock()
	defer registryMu.Unlock()

	h.bus.disconnectOwner(h)
	h.bus.hosts--
	if h.bus.hosts > 0 {
		return
	}
	cbs := h.db.Callback()
	if registry[cbs] == h.bus {
		delete(registry, cbs)
	}
}

// lookup returns the subscription table of the processor running tx, or nil
// when no Host is open on it.
func lookup(tx *gorm.DB) *dispatcher {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[tx.Callback()]
}

func install(db *gorm.DB) error {
	cbs := db.Callback()
	if cbs.Create().Get(afterCreate) != nil {
		return nil
	}
	if err := cbs.Create().Before("gorm:create").Register(collectCreate, collectExisting); err != nil {
		return err
	}
	if err := cbs.Create().After("gorm:after_create").Register(afterCreate, emitCreated); err != nil {
		return err
	}
	if err := cbs.Update().Before("gorm:update").After("gorm:setup_reflect_value").
		Register(collectUpdate, collect(observer.EventPersisted)); err != nil {
		return err
	}
	if err := cbs.Update().After("gorm:after_update").Register(afterUpdate, emitCollected(observer.EventPersisted)); err != nil {
		return err
	}
	if err := cbs.Delete().Before("gorm:delete").After("gorm:delete_before_associations").
		Register(collectDelete, collect(observer.EventDeleted)); err != nil {
		return err
	}
	return cbs.Delete().After("gorm:after_delete").Register(afterDelete, emitCollected(observer.EventDeleted))
}

func (d *dispatcher) connect(owner *Host, key string, entity observer.EntityType, kind observer.EventKind, fn observer.Receiver) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[key]; ok {
		return fmt.Errorf("connect %s: %w", key, observer.ErrAlreadySubscribed)
	}
	d.subs[key] = subscription{owner: owner, entity: entity, kind: kind, fn: fn}
	return nil
}

func (d *dispatcher) disconnect(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, key)
}

func (d *dispatcher) disconnectOwner(owner *Host) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, s := range d.subs {
		if s.owner == owner {
			delete(d.subs, k)
		}
	}
}

func (d *dispatcher) keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.subs))
	for k := range d.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// receivers returns the subscriptions for entity and kind in key order.
func (d *dispatcher) receivers(entity observer.EntityType, kind observer.EventKind) []subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, 1)
	for k, s := range d.subs {
		if s.entity == entity && s.kind == kind {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]subscription, 0, len(keys))
	for _, k := range keys {
		out = append(out, d.subs[k])
	}
	return out
}

// subscribers resolves the subscriptions interested in the statement of tx.
func subscribers(tx *gorm.DB, kind observer.EventKind) (observer.EntityType, []subscription) {
	if tx.Statement.Schema == nil {
		return observer.EntityType{}, nil
	}
	d := lookup(tx)
	if d == nil {
		return observer.EntityType{}, nil
	}
	entity := observer.EntityOfType(tx.Statement.Schema.ModelType)
	return entity, d.receivers(entity, kind)
}

// upsert records which of the keys of an INSERT ... ON CONFLICT statement
// already existed before it ran.
type upsert struct {
	existing  map[any]struct{}
	doNothing bool
}

func collectExisting(tx *gorm.DB) {
	if tx.Error != nil {
		return
	}
	c, ok := tx.Statement.Clauses["ON CONFLICT"]
	if !ok {
		return
	}
	entity, subs := subscribers(tx, observer.EventPersisted)
	if len(subs) == 0 {
		return
	}
	onConflict, _ := c.Expression.(clause.OnConflict)
	existing, err := existingIDs(tx)
	if err != nil {
		subs[0].owner.logger.Warn("collect existing ids", zap.String("entity", entity.Name()), zap.Error(err))
		return
	}
	tx.InstanceSet(existingKey, upsert{existing: existing, doNothing: onConflict.DoNothing})
}

// emitCreated reports every inserted key as created. Keys of an upsert that
// already existed are reported as updated, or skipped when the conflict was
// ignored.
func emitCreated(tx *gorm.DB) {
	if tx.Error != nil || tx.RowsAffected == 0 {
		return
	}
	entity, subs := subscribers(tx, observer.EventPersisted)
	if len(subs) == 0 {
		return
	}
	pk := tx.Statement.Schema.PrioritizedPrimaryField
	if pk == nil {
		return
	}
	var up upsert
	if v, ok := tx.InstanceGet(existingKey); ok {
		up, _ = v.(upsert)
	}
	for _, id := range idsOf(tx.Statement.Context, pk, tx.Statement.ReflectValue) {
		_, existed := up.existing[id]
		if existed && up.doNothing {
			continue
		}
		send(subs, observer.Event{Entity: entity, Kind: observer.EventPersisted, ID: id, Created: !existed, Instance: tx.Statement.Model})
	}
}

// collect stores the ids a pending update or delete will touch. Conditional
// statements without a model primary key are resolved with the statement's
// own WHERE clause.
func collect(kind observer.EventKind) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		if tx.Error != nil {
			return
		}
		entity, subs := subscribers(tx, kind)
		if len(subs) == 0 {
			return
		}
		ids, err := targetIDs(tx)
		if err != nil {
			subs[0].owner.logger.Warn("collect target ids", zap.String("entity", entity.Name()), zap.Stringer("kind", kind), zap.Error(err))
			return
		}
		tx.InstanceSet(targetsKey, ids)
	}
}

func emitCollected(kind observer.EventKind) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		if tx.Error != nil || tx.RowsAffected == 0 {
			return
		}
		v, ok := tx.InstanceGet(targetsKey)
		if !ok {
			return
		}
		ids, _ := v.([]any)
		entity, subs := subscribers(tx, kind)
		for _, id := range ids {
			send(subs, observer.Event{Entity: entity, Kind: kind, ID: id, Instance: tx.Statement.Model})
		}
	}
}

// send delivers ev to every subscription, logging through the Host that
// connected it.
func send(subs []subscription, ev observer.Event) {
	for _, s := range subs {
		s.owner.logger.Debug("dispatch",
			zap.String("entity", ev.Entity.Name()),
			zap.Stringer("kind", ev.Kind),
			zap.Any("id", ev.ID),
			zap.Bool("created", ev.Created),
		)
		s.fn(ev)
	}
}

func targetIDs(tx *gorm.DB) ([]any, error) {
	stmt := tx.Statement
	pk := stmt.Schema.PrioritizedPrimaryField
	if pk == nil {
		return nil, ErrNoPrimaryKey
	}
	if ids := idsOf(stmt.Context, pk, stmt.ReflectValue); len(ids) > 0 {
		return ids, nil
	}

	q := tx.Session(&gorm.Session{NewDB: true}).Model(reflect.New(stmt.Schema.ModelType).Interface())
	if c, ok := stmt.Clauses["WHERE"]; ok {
		where, ok := c.Expression.(clause.Where)
		if !ok || len(where.Exprs) == 0 {
			return nil, nil
		}
		q = q.Clauses(where)
	} else if !stmt.AllowGlobalUpdate {
		return nil, nil
	}
	return pluckIDs(q, pk)
}

// existingIDs returns the keys of the statement's model value that are
// already stored.
func existingIDs(tx *gorm.DB) (map[any]struct{}, error) {
	stmt := tx.Statement
	pk := stmt.Schema.PrioritizedPrimaryField
	if pk == nil {
		return nil, ErrNoPrimaryKey
	}
	ids := idsOf(stmt.Context, pk, stmt.ReflectValue)
	if len(ids) == 0 {
		return nil, nil
	}
	q := tx.Session(&gorm.Session{NewDB: true}).
		Model(reflect.New(stmt.Schema.ModelType).Interface()).
		Where(clause.IN{Column: clause.Column{Table: clause.CurrentTable, Name: pk.DBName}, Values: ids})
	found, err := pluckIDs(q, pk)
	if err != nil {
		return nil, err
	}
	existing := make(map[any]struct{}, len(found))
	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

func pluckIDs(q *gorm.DB, pk *schema.Field) ([]any, error) {
	dest := reflect.New(reflect.SliceOf(pk.FieldType))
	if err := q.Pluck(pk.DBName, dest.Interface()).Error; err != nil {
		return nil, err
	}
	list := dest.Elem()
	ids := make([]any, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		ids = append(ids, observer.NormalizeID(list.Index(i).Interface()))
	}
	return ids, nil
}

// idsOf returns the non-zero primary keys held by a struct, slice or array value.
func idsOf(ctx context.Context, pk *schema.Field, rv reflect.Value) []any {
	rv = reflect.Indirect(rv)
	var ids []any
	add := func(v reflect.Value) {
		v = reflect.Indirect(v)
		if v.Kind() != reflect.Struct {
			return
		}
		if id, zero := pk.ValueOf(ctx, v); !zero {
			ids = append(ids, observer.NormalizeID(id))
		}
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			add(rv.Index(i))
		}
	case reflect.Struct:
		add(rv)
	}
	return ids
}
