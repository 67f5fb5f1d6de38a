package command

import (
	"fmt"
	"testing"

	"commandcore/internal/infra/persistence/memory"
	"commandcore/pkg/domain"
)

const typeAccount domain.EntityType = "Account"

type account struct {
	domain.Base
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

func (*account) EntityType() domain.EntityType { return typeAccount }

func testRegistry() *domain.TypeRegistry {
	r := domain.NewTypeRegistry()
	_ = r.Register(domain.Descriptor{Type: typeAccount, New: func() domain.Entity { return &account{} }})
	return r
}

func newStore(t *testing.T, balances ...int64) *memory.TransactionalStore {
	t.Helper()
	store := memory.NewTransactionalStore(memory.WithTypeRegistry(testRegistry()))
	for i, b := range balances {
		if _, err := store.Save(&account{Owner: fmt.Sprintf("owner-%d", i+1), Balance: b}); err != nil {
			t.Fatalf("seed account %d: %v", i+1, err)
		}
	}
	return store
}

func balanceOf(t *testing.T, repo domain.Repository, id int64) int64 {
	t.Helper()
	acc, ok := domain.FindAs[*account](repo, id)
	if !ok {
		t.Fatalf("account %d not found", id)
	}
	return acc.Balance
}

type amountInputs struct {
	AccountID int64 `json:"account_id"`
	Amount    int64 `json:"amount"`
}

type transferInputs struct {
	FromID int64 `json:"from_id"`
	ToID   int64 `json:"to_id"`
	Amount int64 `json:"amount"`
}

func (in transferInputs) ValidateInputs() []domain.ErrorRecord {
	var out []domain.ErrorRecord
	if in.Amount <= 0 {
		out = append(out, domain.DataError([]string{"amount"}, "must_be_positive", "amount must be positive"))
	}
	if in.FromID != 0 && in.FromID == in.ToID {
		out = append(out, domain.DataError([]string{"to_id"}, "same_account", "cannot transfer to the same account"))
	}
	return out
}

func newWithdraw() *Definition[amountInputs, int64] {
	return New("withdraw", func(inv *Invocation[amountInputs, int64]) (int64, error) {
		acc, _ := Loaded[*account](inv, "account")
		if acc.Balance < inv.Inputs().Amount {
			return 0, inv.HaltWithRuntimeError("insufficient_funds", "balance too low",
				WithDetails(map[string]any{"balance": acc.Balance}))
		}
		acc.Balance -= inv.Inputs().Amount
		if _, err := inv.Repository().Save(acc); err != nil {
			return 0, err
		}
		return acc.Balance, nil
	}).Load(Require(typeAccount, "account_id", "account"))
}

func newDeposit() *Definition[amountInputs, int64] {
	return New("deposit", func(inv *Invocation[amountInputs, int64]) (int64, error) {
		acc, _ := Loaded[*account](inv, "account")
		acc.Balance += inv.Inputs().Amount
		if _, err := inv.Repository().Save(acc); err != nil {
			return 0, err
		}
		return acc.Balance, nil
	}).Load(Require(typeAccount, "account_id", "account"))
}

type transferResult struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

func newTransfer() *Definition[transferInputs, transferResult] {
	withdraw := newWithdraw()
	deposit := newDeposit()
	return New("transfer", func(inv *Invocation[transferInputs, transferResult]) (transferResult, error) {
		in := inv.Inputs()
		from, err := RunSubcommand(inv, withdraw, amountInputs{AccountID: in.FromID, Amount: in.Amount})
		if err != nil {
			return transferResult{}, err
		}
		to, err := RunSubcommand(inv, deposit, amountInputs{AccountID: in.ToID, Amount: in.Amount})
		if err != nil {
			return transferResult{}, err
		}
		return transferResult{From: from, To: to}, nil
	}).
		Describe("move funds between accounts").
		Load(Require(typeAccount, "from_id", "from")).
		Load(Require(typeAccount, "to_id", "to")).
		PossibleError(domain.CategoryRuntime, "insufficient_funds", "source balance is lower than the amount")
}

func mustSucceed[R any](t *testing.T, out Outcome[R]) R {
	t.Helper()
	if !out.IsSuccess() {
		t.Fatalf("expected success, got %s with %v", out.State(), out.Errors().Keys())
	}
	return out.Result()
}

func mustFail[R any](t *testing.T, out Outcome[R]) *domain.ErrorCollection {
	t.Helper()
	if out.IsSuccess() {
		t.Fatalf("expected failure, got success with %+v", out.Result())
	}
	if out.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", out.State())
	}
	return out.Errors()
}
