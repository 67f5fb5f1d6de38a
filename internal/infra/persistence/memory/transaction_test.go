package memory

import (
	"context"
	"errors"
	"testing"

	"commandcore/pkg/domain"
)

func TestRollbackRestoresRecordsAndCounter(t *testing.T) {
	s := newTestStore()
	existing := mustSave(t, s, &account{Owner: "ada", Balance: 10}).(*account)
	doomed := mustSave(t, s, &account{Owner: "grace", Balance: 20}).(*account)
	before, err := s.ExportState()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if err := s.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	existing.Balance = 99
	mustSave(t, s, existing)
	created := mustSave(t, s, &account{Owner: "linus"}).(*account)
	if _, err := s.Delete(doomed); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if found, _ := s.Find(typeAccount, existing.ID); found.(*account).Balance != 99 {
		t.Fatalf("in-transaction reads should observe the change")
	}
	if s.PendingChanges() != 3 {
		t.Fatalf("expected 3 logged changes, got %d", s.PendingChanges())
	}
	if err := s.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if found, _ := s.Find(typeAccount, existing.ID); found.(*account).Balance != 10 {
		t.Fatalf("expected original balance after rollback")
	}
	if s.Exists(typeAccount, created.ID) {
		t.Fatalf("record created in rolled back transaction still exists")
	}
	if !s.Exists(typeAccount, doomed.ID) {
		t.Fatalf("record deleted in rolled back transaction is missing")
	}
	after, err := s.ExportState()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if string(mustJSON(t, before)) != string(mustJSON(t, after)) {
		t.Fatalf("state differs after rollback\nbefore: %s\nafter:  %s", mustJSON(t, before), mustJSON(t, after))
	}
	next := mustSave(t, s, &account{}).(*account)
	if next.ID != 3 {
		t.Fatalf("counter should resume at pre-transaction value, got %d", next.ID)
	}
}

func TestRollbackOfMultipleSavesToSameKey(t *testing.T) {
	s := newTestStore()
	a := mustSave(t, s, &account{Balance: 1}).(*account)
	mustNoErr(t, s.Begin())
	for i := int64(2); i <= 4; i++ {
		a.Balance = i
		mustSave(t, s, a)
	}
	mustNoErr(t, s.Rollback())
	found, _ := s.Find(typeAccount, a.ID)
	if found.(*account).Balance != 1 {
		t.Fatalf("expected earliest value restored, got %d", found.(*account).Balance)
	}
}

func TestRollbackLeavesCallerEntitiesUntouched(t *testing.T) {
	s := newTestStore()
	mustNoErr(t, s.Begin())
	created := &account{Owner: "ada"}
	mustSave(t, s, created)
	mustNoErr(t, s.Rollback())

	if created.ID == 0 || !created.Meta().Persisted() {
		t.Fatalf("caller entity keeps its key and persisted flag, got id=%d persisted=%v", created.ID, created.Meta().Persisted())
	}
	if s.Exists(typeAccount, created.ID) {
		t.Fatalf("store must not hold the rolled back record")
	}
	fresh := mustSave(t, s, &account{Owner: "grace"}).(*account)
	if fresh.ID != created.ID {
		t.Fatalf("rolled back key should be reissued, got %d want %d", fresh.ID, created.ID)
	}
}

func TestCommitKeepsChanges(t *testing.T) {
	s := newTestStore()
	mustNoErr(t, s.Begin())
	if !s.InTransaction() {
		t.Fatalf("expected active transaction")
	}
	mustSave(t, s, &account{Owner: "ada"})
	mustNoErr(t, s.Commit())
	if s.InTransaction() || s.Count(typeAccount) != 1 {
		t.Fatalf("expected committed record and no active transaction")
	}
	if err := s.Rollback(); !errors.Is(err, domain.ErrNoTransaction) {
		t.Fatalf("expected ErrNoTransaction, got %v", err)
	}
	if err := s.Commit(); !errors.Is(err, domain.ErrNoTransaction) {
		t.Fatalf("expected ErrNoTransaction, got %v", err)
	}
}

func TestNestedBeginFails(t *testing.T) {
	s := newTestStore()
	mustNoErr(t, s.Begin())
	if err := s.Begin(); !errors.Is(err, domain.ErrTransactionActive) {
		t.Fatalf("expected ErrTransactionActive, got %v", err)
	}
	err := s.RunInTransaction(context.Background(), func() error { return nil })
	if !errors.Is(err, domain.ErrTransactionActive) {
		t.Fatalf("expected scoped helper to refuse nesting, got %v", err)
	}
	mustNoErr(t, s.Rollback())
}

func TestRunInTransaction(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	err := s.RunInTransaction(ctx, func() error {
		_, err := s.Save(&account{Owner: "ada"})
		return err
	})
	mustNoErr(t, err)
	if s.Count(typeAccount) != 1 || s.InTransaction() {
		t.Fatalf("expected committed save")
	}

	boom := errors.New("boom")
	err = s.RunInTransaction(ctx, func() error {
		mustSave(t, s, &account{Owner: "grace"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if s.Count(typeAccount) != 1 || s.InTransaction() {
		t.Fatalf("expected rollback on error")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = s.RunInTransaction(ctx, func() error {
			mustSave(t, s, &account{Owner: "panicky"})
			panic("kaboom")
		})
	}()
	if s.Count(typeAccount) != 1 || s.InTransaction() {
		t.Fatalf("expected rollback on panic")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.RunInTransaction(cancelled, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
