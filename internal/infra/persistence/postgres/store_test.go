package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"commandcore/internal/infra/persistence/memory"
	"commandcore/internal/infra/persistence/postgres/testutil"
	"commandcore/pkg/domain"
)

const typeTicket domain.EntityType = "Ticket"

type ticket struct {
	domain.StringBase
	Subject string `json:"subject"`
}

func (*ticket) EntityType() domain.EntityType { return typeTicket }

func ticketRegistry() *domain.TypeRegistry {
	r := domain.NewTypeRegistry()
	_ = r.Register(domain.Descriptor{Type: typeTicket, New: func() domain.Entity { return &ticket{} }})
	return r
}

func openWithStub(t *testing.T, db *sql.DB) *Store {
	t.Helper()
	var gotDSN string
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		if driver != defaultDriver {
			t.Fatalf("unexpected driver %s", driver)
		}
		gotDSN = dsn
		return db, nil
	})
	defer restore()
	store, err := NewStore(context.Background(), "", memory.WithTypeRegistry(ticketRegistry()))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if gotDSN != DefaultDSN {
		t.Fatalf("expected default dsn, got %q", gotDSN)
	}
	return store
}

func TestNewStoreCreatesStateTable(t *testing.T) {
	db, conn := testutil.NewStubDB()
	openWithStub(t, db)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS state") && strings.Contains(stmt, "JSONB") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state DDL, got execs: %v", conn.Execs)
	}
}

func TestRunInTransactionPersistsAndReloads(t *testing.T) {
	db, conn := testutil.NewStubDB()
	store := openWithStub(t, db)
	err := store.RunInTransaction(context.Background(), func() error {
		_, err := store.Save(&ticket{StringBase: domain.StringBase{ID: "T-1"}, Subject: "printer on fire"})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if conn.Commits == 0 {
		t.Fatalf("expected a database commit")
	}

	reloaded := openWithStub(t, db)
	got, ok := domain.FindAs[*ticket](reloaded, "T-1")
	if !ok || got.Subject != "printer on fire" {
		t.Fatalf("expected ticket after reload, got %+v", got)
	}
}

func TestNewStorePropagatesErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore(context.Background(), "postgres://x"); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://x"); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}
