package memory

import (
	"testing"
	"time"

	"commandcore/pkg/domain"
)

const (
	typeAccount domain.EntityType = "Account"
	typeLabel   domain.EntityType = "Label"
)

type account struct {
	domain.Base
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

func (*account) EntityType() domain.EntityType { return typeAccount }

type label struct {
	domain.StringBase
	Text string `json:"text"`
}

func (*label) EntityType() domain.EntityType { return typeLabel }

func testRegistry() *domain.TypeRegistry {
	r := domain.NewTypeRegistry()
	_ = r.Register(domain.Descriptor{Type: typeAccount, New: func() domain.Entity { return &account{} }})
	_ = r.Register(domain.Descriptor{Type: typeLabel, New: func() domain.Entity { return &label{} }})
	return r
}

func fixedClock() func() time.Time {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func newTestStore() *TransactionalStore {
	return NewTransactionalStore(WithTypeRegistry(testRegistry()), WithClock(fixedClock()))
}

func mustSave(t testing.TB, s domain.Repository, e domain.Entity) domain.Entity {
	t.Helper()
	saved, err := s.Save(e)
	if err != nil {
		t.Fatalf("save %T: %v", e, err)
	}
	return saved
}
