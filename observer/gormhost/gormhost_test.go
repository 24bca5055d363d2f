package gormhost

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-faker/faker/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	zapobserver "go.uber.org/zap/zaptest/observer"
	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/atvirokodosprendimai/modelobserver/observer"
	"github.com/atvirokodosprendimai/modelobserver/observer/observertest"
)

type club struct {
	ID         uint
	Name       string
	Supporters int
	Members    []member `gorm:"foreignKey:ClubID"`
}

type member struct {
	ID        uint
	ClubID    uint
	FirstName string
	LastName  string
	Positions []string `gorm:"serializer:json"`
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "observer.sqlite") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&club{}, &member{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newHost(t *testing.T, db *gorm.DB) *Host {
	t.Helper()
	h, err := New(db, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func seedClub(t *testing.T, db *gorm.DB, players int) *club {
	t.Helper()
	c := &club{Name: faker.Word(), Supporters: 58000}
	for i := 0; i < players; i++ {
		c.Members = append(c.Members, member{FirstName: faker.FirstName(), LastName: faker.LastName()})
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed club: %v", err)
	}
	return c
}

func TestLedgerCountsCreateUpdateDelete(t *testing.T) {
	db := openDB(t)
	c := seedClub(t, db, 0)
	set := observertest.Observe(t, newHost(t, db), observer.TypeOf[member]())
	members := observertest.Ledger[member](t, set)

	ms := []*member{
		{ClubID: c.ID, FirstName: "Alberto", LastName: "Bianco"},
		{ClubID: c.ID, FirstName: "Carlo", LastName: "Dini"},
		{ClubID: c.ID, FirstName: "Enzo", LastName: "Ferri"},
	}
	for _, m := range ms {
		if err := db.Create(m).Error; err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := db.Model(ms[0]).Update("first_name", "Mario").Error; err != nil {
		t.Fatalf("update: %v", err)
	}
	ms[0].LastName = "Rossi"
	if err := db.Save(ms[0]).Error; err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.Delete(ms[2]).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}

	observertest.RequireCounts(t, members, 3, 1, 1)
	if members.HasNoChanges() {
		t.Fatal("expected changes")
	}
	ids := members.CreatedIDs()
	if len(ids) != 3 || ids[0] != int64(ms[0].ID) {
		t.Fatalf("unexpected created ids: %v", ids)
	}
}

func TestLedgerCountsCascadeDelete(t *testing.T) {
	db := openDB(t)
	c := seedClub(t, db, 3)
	set := observertest.Observe(t, newHost(t, db), observer.TypeOf[club](), observer.TypeOf[member]())

	if err := db.Select(clause.Associations).Delete(&club{ID: c.ID}).Error; err != nil {
		t.Fatalf("delete club: %v", err)
	}

	observertest.RequireCounts(t, observertest.Ledger[member](t, set), 0, 0, 3)
	observertest.RequireCounts(t, observertest.Ledger[club](t, set), 0, 0, 1)
}

func TestLedgerCountsBatchAndConditionalStatements(t *testing.T) {
	db := openDB(t)
	c := seedClub(t, db, 0)
	set := observertest.Observe(t, newHost(t, db), observer.TypeOf[member]())
	members := observertest.Ledger[member](t, set)

	batch := []member{
		{ClubID: c.ID, FirstName: "Mario", LastName: "Rossi"},
		{ClubID: c.ID, FirstName: "Mario", LastName: "Verdi"},
		{ClubID: c.ID, FirstName: "Mario", LastName: "Gialli"},
	}
	if err := db.Create(&batch).Error; err != nil {
		t.Fatalf("batch create: %v", err)
	}
	if err := db.Model(&member{}).Where("last_name <> ?", "Gialli").Update("first_name", "Luigi").Error; err != nil {
		t.Fatalf("conditional update: %v", err)
	}
	if err := db.Where("first_name = ?", "nobody").Delete(&member{}).Error; err != nil {
		t.Fatalf("empty delete: %v", err)
	}
	if err := db.Delete(&member{}, batch[2].ID).Error; err != nil {
		t.Fatalf("delete by id: %v", err)
	}

	observertest.RequireCounts(t, members, 3, 2, 1)
	deleted := members.DeletedIDs()
	if len(deleted) != 1 || deleted[0] != int64(batch[2].ID) {
		t.Fatalf("unexpected deleted ids: %v", deleted)
	}
}

func TestSaveFallbackCountsAsCreate(t *testing.T) {
	db := openDB(t)
	c := seedClub(t, db, 0)
	set := observertest.Observe(t, newHost(t, db), observer.TypeOf[member]())
	members := observertest.Ledger[member](t, set)

	if err := db.Save(&member{ID: 99, ClubID: c.ID, FirstName: "Mario", LastName: "Neri"}).Error; err != nil {
		t.Fatalf("save: %v", err)
	}
	res := db.Model(&member{ID: 1234}).Update("first_name", "ghost")
	if res.Error != nil {
		t.Fatalf("update: %v", res.Error)
	}

	observertest.RequireCounts(t, members, 1, 0, 0)
	observertest.RequireStatus(t, members, 99, observer.Status{Created: true})
}

func TestSaveWithAssociationsCountsOnlyNewMembers(t *testing.T) {
	db := openDB(t)
	c := seedClub(t, db, 2)
	set := observertest.Observe(t, newHost(t, db), observer.TypeOf[member]())
	members := observertest.Ledger[member](t, set)

	c.Members = append(c.Members, member{FirstName: "Mario", LastName: "Neri"})
	if err := db.Save(c).Error; err != nil {
		t.Fatalf("save club: %v", err)
	}

	observertest.RequireCounts(t, members, 1, 2, 0)
	created := members.CreatedIDs()
	if len(created) != 1 || created[0] != int64(c.Members[2].ID) {
		t.Fatalf("unexpected created ids: %v", created)
	}
	observertest.RequireStatus(t, members, c.Members[0].ID, observer.Status{Updated: true})
}

func TestUpsertOfStoredRecord(t *testing.T) {
	db := openDB(t)
	c := seedClub(t, db, 1)
	set := observertest.Observe(t, newHost(t, db), observer.TypeOf[member]())
	members := observertest.Ledger[member](t, set)

	stored := c.Members[0]
	stored.FirstName = "Giulio"
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&stored).Error; err != nil {
		t.Fatalf("upsert: %v", err)
	}
	observertest.RequireCounts(t, members, 0, 1, 0)
	observertest.RequireStatus(t, members, stored.ID, observer.Status{Updated: true})

	ignored := c.Members[0]
	ignored.FirstName = "Ignored"
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&ignored).Error; err != nil {
		t.Fatalf("insert or ignore: %v", err)
	}
	observertest.RequireCounts(t, members, 0, 1, 0)

	fresh := member{ClubID: c.ID, FirstName: "Mario", LastName: "Neri"}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		t.Fatalf("insert or ignore: %v", err)
	}
	observertest.RequireCounts(t, members, 1, 1, 0)
	observertest.RequireStatus(t, members, fresh.ID, observer.Status{Created: true})
}

func TestTrackedDeltaAccumulates(t *testing.T) {
	db := openDB(t)
	c := seedClub(t, db, 2)
	set := observertest.Observe(t, newHost(t, db), observer.TypeOf[member]())
	members := observertest.Ledger[member](t, set)
	ctx := context.Background()

	rossi, verdi := &c.Members[0], &c.Members[1]
	observertest.Track(t, members, rossi, verdi)

	rossi.LastName = "Arancioni"
	if err := db.Save(rossi).Error; err != nil {
		t.Fatalf("save: %v", err)
	}
	observertest.RequireDelta(t, members, rossi, observer.Delta{"last_name": "Arancioni"})

	rossi.FirstName = "Giulio"
	rossi.Positions = []string{"Forward", "Wing"}
	if err := db.Save(rossi).Error; err != nil {
		t.Fatalf("save: %v", err)
	}
	want := observer.Delta{"last_name": "Arancioni", "first_name": "Giulio", "positions": []string{"Forward", "Wing"}}
	observertest.RequireDelta(t, members, rossi, want)
	observertest.RequireStatus(t, members, rossi.ID, observer.Status{Updated: true})

	err := members.AssertDelta(ctx, rossi, observer.Delta{"foo": "bar"})
	if !errors.Is(err, observer.ErrDeltaMismatch) {
		t.Fatalf("expected delta mismatch, got %v", err)
	}

	observertest.RequireDelta(t, members, verdi, observer.Delta{})
	observertest.RequireStatus(t, members, verdi.ID, observer.Status{})
	if err := db.Delete(verdi).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}
	observertest.RequireStatus(t, members, verdi.ID, observer.Status{Deleted: true})
}

func TestStatusOfUntrackedRecords(t *testing.T) {
	db := openDB(t)
	dream := seedClub(t, db, 2)
	empty := seedClub(t, db, 0)
	set := observertest.Observe(t, newHost(t, db), observer.TypeOf[member]())
	members := observertest.Ledger[member](t, set)
	ctx := context.Background()

	neri := &member{ClubID: dream.ID, FirstName: "Mario", LastName: "Neri"}
	if err := db.Create(neri).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	bianchi := &member{ClubID: dream.ID, FirstName: "Mariooo", LastName: "Bianchi"}
	if err := db.Create(bianchi).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	bianchi.FirstName = "Mario"
	if err := db.Save(bianchi).Error; err != nil {
		t.Fatalf("save: %v", err)
	}
	rossi := &dream.Members[0]
	rossi.ClubID = empty.ID
	if err := db.Save(rossi).Error; err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.Delete(rossi).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}
	verdi := &dream.Members[1]
	rosa := &member{FirstName: "Mario", LastName: "Rosa"}

	cases := []struct {
		name string
		inst *member
		want observer.Status
	}{
		{name: "created", inst: neri, want: observer.Status{Created: true}},
		{name: "created and updated", inst: bianchi, want: observer.Status{Created: true, Updated: true}},
		{name: "updated and deleted", inst: rossi, want: observer.Status{Updated: true, Deleted: true}},
		{name: "untouched", inst: verdi, want: observer.Status{}},
		{name: "never saved", inst: rosa, want: observer.Status{}},
	}
	for _, tc := range cases {
		got, err := members.StatusOf(ctx, tc.inst)
		if err != nil {
			t.Fatalf("%s: status: %v", tc.name, err)
		}
		if got.Created != tc.want.Created || got.Updated != tc.want.Updated || got.Deleted != tc.want.Deleted {
			t.Fatalf("%s: unexpected status: got %+v want %+v", tc.name, got, tc.want)
		}
	}
}

func TestSubscriptionsAreSharedPerDatabase(t *testing.T) {
	db := openDB(t)
	first := newHost(t, db)
	second := newHost(t, db)

	t.Run("observed", func(t *testing.T) {
		observertest.Observe(t, first, observer.TypeOf[member]())

		l := observer.NewLedger(observer.TypeOf[member](), second)
		if err := l.Subscribe(); !errors.Is(err, observer.ErrAlreadySubscribed) {
			t.Fatalf("expected already subscribed, got %v", err)
		}
		if got := len(second.Subscriptions()); got != 2 {
			t.Fatalf("unexpected subscriptions: got %d want 2", got)
		}
	})

	if got := first.Subscriptions(); len(got) != 0 {
		t.Fatalf("expected no subscriptions after cleanup, got %v", got)
	}

	l := observer.NewLedger(observer.TypeOf[member](), second)
	if err := l.Subscribe(); err != nil {
		t.Fatalf("subscribe after cleanup: %v", err)
	}
	l.Unsubscribe()
}

func TestFieldsAndFetch(t *testing.T) {
	db := openDB(t)
	h := newHost(t, db)
	c := seedClub(t, db, 0)

	m := &member{ClubID: c.ID, FirstName: "Mario", LastName: "Rossi", Positions: []string{"Forward"}}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	fields, err := h.Fields(m)
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	want := []string{"club_id", "first_name", "last_name", "positions"}
	if len(names) != len(want) {
		t.Fatalf("unexpected fields: got %v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected fields: got %v want %v", names, want)
		}
	}

	fetched, err := h.Fetch(context.Background(), observer.TypeOf[member](), m.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !observer.Equal(fetched[3].Value, []string{"Forward"}) {
		t.Fatalf("unexpected positions: %#v", fetched[3].Value)
	}

	id, err := h.Identify(member{})
	if err != nil || id != nil {
		t.Fatalf("expected nil id for unsaved member, got %v %v", id, err)
	}
	if _, err := h.Fetch(context.Background(), observer.TypeOf[member](), 4242); !errors.Is(err, observer.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
	if clubFields, err := h.Fields(c); err != nil || len(clubFields) != 2 {
		t.Fatalf("expected relations to be skipped, got %v %v", clubFields, err)
	}
}

func TestCloseReleasesSubscriptionTable(t *testing.T) {
	db := openDB(t)
	first, err := New(db)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	second, err := New(db)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}

	l := observer.NewLedger(observer.TypeOf[member](), first)
	if err := l.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := second.Subscriptions(); len(got) != 0 {
		t.Fatalf("expected subscriptions of the closed host to be dropped, got %v", got)
	}
	if lookup(db) == nil {
		t.Fatal("expected subscription table while a host is open")
	}
	err = first.Connect("late", observer.TypeOf[member](), observer.EventPersisted, func(observer.Event) {})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed host, got %v", err)
	}

	if err := second.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if lookup(db) != nil {
		t.Fatal("expected subscription table to be released")
	}

	c := seedClub(t, db, 1)
	if c.Members[0].ID == 0 {
		t.Fatal("expected writes to keep working without a host")
	}

	third := newHost(t, db)
	set := observertest.Observe(t, third, observer.TypeOf[member]())
	if err := db.Create(&member{ClubID: c.ID, FirstName: "Mario", LastName: "Neri"}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	observertest.RequireCounts(t, observertest.Ledger[member](t, set), 1, 0, 0)
}

func TestDispatchLogsThroughSubscribingHost(t *testing.T) {
	db := openDB(t)
	newHost(t, db)

	core, logs := zapobserver.New(zapcore.DebugLevel)
	second, err := New(db, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	observertest.Observe(t, second, observer.TypeOf[member]())

	seedClub(t, db, 2)

	if got := logs.FilterMessage("dispatch").Len(); got != 2 {
		t.Fatalf("unexpected dispatch entries: got %d want 2", got)
	}
}
