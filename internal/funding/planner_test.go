package funding

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bal(id string, amount int64) Balance {
	return Balance{AccountID: id, Available: decimal.NewNullDecimal(decimal.NewFromInt(amount))}
}

func TestPlanSplitsAcrossAccountsInOrder(t *testing.T) {
	draws, err := Plan(decimal.NewFromInt(40), []Balance{bal("A1", 30), bal("A2", 50)})
	require.NoError(t, err)
	require.Len(t, draws, 2)

	assert.Equal(t, "A1", draws[0].AccountID)
	assert.True(t, draws[0].Amount.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, "A2", draws[1].AccountID)
	assert.True(t, draws[1].Amount.Equal(decimal.NewFromInt(10)))
}

func TestPlanStopsOnceCovered(t *testing.T) {
	draws, err := Plan(decimal.NewFromInt(20), []Balance{bal("A1", 30), bal("A2", 50)})
	require.NoError(t, err)
	require.Len(t, draws, 1)
	assert.Equal(t, "A1", draws[0].AccountID)
}

func TestPlanSkipsEmptyNullAndNegativeBalances(t *testing.T) {
	draws, err := Plan(decimal.NewFromInt(10), []Balance{
		bal("zero", 0),
		{AccountID: "null"},
		bal("negative", -5),
		bal("A", 10),
	})
	require.NoError(t, err)
	require.Len(t, draws, 1)
	assert.Equal(t, "A", draws[0].AccountID)
}

func TestPlanDrawsRepeatedAccountOnce(t *testing.T) {
	_, err := Plan(decimal.NewFromInt(50), []Balance{bal("A", 30), bal("A", 30)})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestPlanInsufficientFunds(t *testing.T) {
	draws, err := Plan(decimal.NewFromInt(81), []Balance{bal("A1", 30), bal("A2", 50)})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Nil(t, draws)
}

func TestPlanRejectsNonPositiveAmount(t *testing.T) {
	_, err := Plan(decimal.Zero, []Balance{bal("A", 10)})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Plan(decimal.NewFromInt(-1), []Balance{bal("A", 10)})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPlanProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		n := rng.Intn(5) + 1
		balances := make([]Balance, n)
		total := decimal.Zero
		for j := range balances {
			b := decimal.New(rng.Int63n(10_000)-1_000, -2)
			balances[j] = Balance{AccountID: string(rune('A' + j)), Available: decimal.NewNullDecimal(b)}
			if b.IsPositive() {
				total = total.Add(b)
			}
		}
		amount := decimal.New(rng.Int63n(20_000)+1, -2)

		draws, err := Plan(amount, balances)
		if amount.GreaterThan(total) {
			require.ErrorIs(t, err, ErrInsufficientFunds)
			continue
		}
		require.NoError(t, err)

		sum := decimal.Zero
		pos := -1
		for _, d := range draws {
			require.True(t, d.Amount.IsPositive(), "draw must be positive")

			idx := int(d.AccountID[0] - 'A')
			require.Greater(t, idx, pos, "draws must follow account order")
			pos = idx
			require.True(t, d.Amount.LessThanOrEqual(balances[idx].Available.Decimal), "draw exceeds balance")
			sum = sum.Add(d.Amount)
		}
		require.True(t, sum.Equal(amount), "draws must sum to amount: got %s want %s", sum, amount)
	}
}
