package card

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAccounts(t *testing.T) {
	tests := []struct {
		name     string
		primary  string
		accounts []string
		want     []string
	}{
		{"primary first", "P", []string{"A", "P", "B"}, []string{"P", "A", "B"}},
		{"drops duplicates and empties", "P", []string{"A", "", "A", "P"}, []string{"P", "A"}},
		{"no primary", "", []string{"A", "B"}, []string{"A", "B"}},
		{"only primary", "P", nil, []string{"P"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAccounts(tt.primary, tt.accounts))
		})
	}
}

func TestRecordOperationPrependsAndKeepsExisting(t *testing.T) {
	var c Card
	assert.True(t, c.RecordOperation(StoredOperation{ID: "a", Kind: OpDebitWithdrawal}, 10))
	assert.True(t, c.RecordOperation(StoredOperation{ID: "b"}, 10))
	assert.False(t, c.RecordOperation(StoredOperation{ID: "a", Kind: OpDebitPayment}, 10))

	require.Len(t, c.Operations, 2)
	assert.Equal(t, "b", c.Operations[0].ID)
	assert.Equal(t, "a", c.Operations[1].ID)
	assert.Equal(t, OpDebitWithdrawal, c.Operations[1].Kind, "a recorded operation is never overwritten")
}

func TestRecordOperationEvictsOldest(t *testing.T) {
	var c Card
	for i := 0; i < DefaultOperationsKeepLast+1; i++ {
		c.RecordOperation(StoredOperation{ID: fmt.Sprintf("op-%d", i)}, DefaultOperationsKeepLast)
	}

	require.Len(t, c.Operations, DefaultOperationsKeepLast)
	assert.Equal(t, fmt.Sprintf("op-%d", DefaultOperationsKeepLast), c.Operations[0].ID)

	_, found := c.FindOperation("op-0")
	assert.False(t, found, "oldest operation must be evicted")
	_, found = c.FindOperation("op-1")
	assert.True(t, found)
}

func TestCloneDoesNotAlias(t *testing.T) {
	c := Card{Accounts: []string{"A"}, Metadata: map[string]string{"k": "v"}}
	c.RecordOperation(StoredOperation{ID: "x", Result: OperationResult{Slices: []Slice{{AccountID: "A"}}}}, 0)

	cp := c.Clone()
	cp.Accounts[0] = "B"
	cp.Metadata["k"] = "w"
	cp.Operations[0].Result.Slices[0].AccountID = "B"

	assert.Equal(t, "A", c.Accounts[0])
	assert.Equal(t, "v", c.Metadata["k"])
	assert.Equal(t, "A", c.Operations[0].Result.Slices[0].AccountID)
}
