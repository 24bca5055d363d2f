// Package observertest binds observer ledgers to the lifetime of a test.
package observertest

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/atvirokodosprendimai/modelobserver/observer"
)

// Observe opens one ledger per entity type on host and closes them when the
// test finishes, whether it passed or not.
func Observe(t testing.TB, host observer.Host, types ...observer.EntityType) *observer.LedgerSet {
	t.Helper()
	set := observer.NewLedgerSet(host, observer.WithLogger(zaptest.NewLogger(t)))
	if err := set.Open(types...); err != nil {
		t.Fatalf("open ledgers: %v", err)
	}
	t.Cleanup(set.Close)
	return set
}

func Ledger[T any](t testing.TB, set *observer.LedgerSet) *observer.Ledger {
	t.Helper()
	l, err := observer.LedgerFor[T](set)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	return l
}

// Track snapshots instances or fails the test.
func Track(t testing.TB, l *observer.Ledger, instances ...any) {
	t.Helper()
	if err := l.TrackAll(context.Background(), instances...); err != nil {
		t.Fatalf("track %s: %v", l.Entity().Name(), err)
	}
}

func RequireCounts(t testing.TB, l *observer.Ledger, created, updated, deleted int) {
	t.Helper()
	c, u, d := l.CreatedCount(), l.UpdatedCount(), l.DeletedCount()
	if c != created || u != updated || d != deleted {
		t.Fatalf("unexpected %s counts: got created=%d updated=%d deleted=%d want created=%d updated=%d deleted=%d",
			l.Entity().Name(), c, u, d, created, updated, deleted)
	}
}

func RequireUntouched(t testing.TB, l *observer.Ledger) {
	t.Helper()
	if err := l.AssertUntouched(); err != nil {
		t.Fatal(err)
	}
}

func RequireAllUntouched(t testing.TB, set *observer.LedgerSet) {
	t.Helper()
	if err := set.AssertAllUntouched(); err != nil {
		t.Fatal(err)
	}
}

func RequireDelta(t testing.TB, l *observer.Ledger, instance any, expected observer.Delta) {
	t.Helper()
	if err := l.AssertDelta(context.Background(), instance, expected); err != nil {
		t.Fatal(err)
	}
}

// RequireStatus compares the created, updated and deleted flags of the record
// with id.
func RequireStatus(t testing.TB, l *observer.Ledger, id any, want observer.Status) {
	t.Helper()
	got, err := l.StatusOfID(context.Background(), id)
	if err != nil {
		t.Fatalf("status of %s %v: %v", l.Entity().Name(), id, err)
	}
	if got.Created != want.Created || got.Updated != want.Updated || got.Deleted != want.Deleted {
		t.Fatalf("unexpected status of %s %v: got %+v want %+v", l.Entity().Name(), id, got, want)
	}
}
