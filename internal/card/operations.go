package card

// NormalizeAccounts returns the funding order for a card: primary first, then
// accounts in their given order, with empty ids and duplicates dropped.
func NormalizeAccounts(primary string, accounts []string) []string {
	out := make([]string, 0, len(accounts)+1)
	seen := make(map[string]struct{}, len(accounts)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(primary)
	for _, id := range accounts {
		add(id)
	}
	return out
}

// FindOperation looks up a stored operation by id.
func (c Card) FindOperation(id string) (StoredOperation, bool) {
	for _, op := range c.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return StoredOperation{}, false
}

// RecordOperation stores op at the head of the ledger and evicts the oldest
// entries beyond keepLast. Stored operations are immutable: when an entry
// with the same id exists the ledger is left untouched and false is returned.
func (c *Card) RecordOperation(op StoredOperation, keepLast int) bool {
	if _, ok := c.FindOperation(op.ID); ok {
		return false
	}
	if keepLast <= 0 {
		keepLast = DefaultOperationsKeepLast
	}
	ops := make([]StoredOperation, 0, len(c.Operations)+1)
	ops = append(ops, op)
	ops = append(ops, c.Operations...)
	if len(ops) > keepLast {
		ops = ops[:keepLast]
	}
	c.Operations = ops
	return true
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
