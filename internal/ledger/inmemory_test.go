package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestInMemoryLedger_WithdrawalIsIdempotent(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedAccount(l, "acc-1", decimal.NewFromInt(100), true)

	op := BalanceOperation{OperationID: "op-1#0", Type: OpWithdrawal, Amount: decimal.NewFromInt(40)}
	first, err := l.ApplyBalanceOperation(ctx, "acc-1", op)
	if err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}
	second, err := l.ApplyBalanceOperation(ctx, "acc-1", op)
	if err != nil {
		t.Fatalf("replayed withdrawal failed: %v", err)
	}

	if !first.NewBalance.Decimal.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected new balance 60, got %s", first.NewBalance.Decimal)
	}
	if !second.NewBalance.Decimal.Equal(first.NewBalance.Decimal) {
		t.Fatalf("replay returned a different result: %+v", second)
	}
	if got := BalanceOf(l, "acc-1"); !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected balance 60 after replay, got %s", got)
	}
}

func TestInMemoryLedger_InsufficientFunds(t *testing.T) {
	l := NewInMemory()
	SeedAccount(l, "acc-1", decimal.NewFromInt(10), true)

	_, err := l.ApplyBalanceOperation(context.Background(), "acc-1", BalanceOperation{
		OperationID: "op-1#0", Type: OpWithdrawal, Amount: decimal.NewFromInt(11),
	})
	if err != ErrInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestInMemoryLedger_UnknownAccount(t *testing.T) {
	l := NewInMemory()
	if _, err := l.GetAccount(context.Background(), "missing"); err != ErrAccountNotFound {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestInMemoryLedger_CommissionReported(t *testing.T) {
	l := NewInMemory()
	l.SetCommission(decimal.RequireFromString("1.5"))
	SeedAccount(l, "acc-1", decimal.NewFromInt(100), true)

	res, err := l.ApplyBalanceOperation(context.Background(), "acc-1", BalanceOperation{
		OperationID: "op", Type: OpWithdrawal, Amount: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}
	if !res.Commission().Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected commission 1.5, got %s", res.Commission())
	}
	if !res.NewBalance.Decimal.Equal(decimal.RequireFromString("88.5")) {
		t.Fatalf("expected balance 88.5, got %s", res.NewBalance.Decimal)
	}
}

func TestInMemoryLedger_ConcurrentWithdrawals(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedAccount(l, "acc-1", decimal.NewFromInt(1_000), true)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := BalanceOperation{OperationID: fmt.Sprintf("op-%d", i), Type: OpWithdrawal, Amount: decimal.NewFromInt(50)}
			if _, err := l.ApplyBalanceOperation(ctx, "acc-1", op); err != nil {
				t.Errorf("withdrawal %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := BalanceOf(l, "acc-1"); !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected balance 500 after concurrency, got %s", got)
	}
}

func TestInMemoryLedger_FindByProduct(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	_, _ = l.Create(ctx, Transaction{Type: TxPurchase, Amount: decimal.NewFromInt(5), Sender: &Product{ID: "acc-1", Type: ProductSavingsAccount}})
	_, _ = l.Create(ctx, Transaction{Type: TxReversal, Amount: decimal.NewFromInt(5), Receiver: &Product{ID: "acc-1", Type: ProductSavingsAccount}})
	_, _ = l.Create(ctx, Transaction{Type: TxPurchase, Amount: decimal.NewFromInt(7), Sender: &Product{ID: "acc-2", Type: ProductSavingsAccount}})

	txs, err := l.FindByProduct(ctx, "acc-1")
	if err != nil {
		t.Fatalf("find by product: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	for _, tx := range txs {
		if tx.ID == "" || tx.CreatedDate == nil {
			t.Fatalf("expected id and created date to be assigned: %+v", tx)
		}
	}
}
