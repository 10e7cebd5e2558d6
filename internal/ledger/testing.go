package ledger

import "github.com/shopspring/decimal"

// SeedAccount is a test helper that creates or overwrites an account when using the in-memory ledger.
func SeedAccount(l *InMemory, id string, balance decimal.Decimal, active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[id] = &memAccount{balance: balance, active: active}
}

// BalanceOf returns the current in-memory balance of id, zero when unknown.
func BalanceOf(l *InMemory, id string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if acc, ok := l.accounts[id]; ok {
		return acc.balance
	}
	return decimal.Zero
}
