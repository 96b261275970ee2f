// Package allocation distributes a fixed recipient count across sending
// accounts without exceeding any account's daily limit.
//
// An Engine is a single-session, single-goroutine value: it holds no locks.
// Every accepted operation preserves two bounds: the allocated sum never
// exceeds the recipient total and no account is allocated beyond its daily
// limit. Capacity is the full daily limit; emails an account already sent
// today do not reduce it.
package allocation

import (
	"fmt"
)

// Account is a sending account as supplied by the capacity source.
type Account struct {
	ID         string `json:"account_id" mapstructure:"id"`
	DailyLimit int    `json:"daily_limit" mapstructure:"daily_limit"`
	SentToday  int    `json:"sent_today" mapstructure:"sent_today"`
}

// Entry is the persisted allocation of one account.
type Entry struct {
	AccountID      string `json:"account_id"`
	AllocatedCount int    `json:"allocated_count"`
}

// Engine holds the allocation state of one recipient list.
type Engine struct {
	total     int
	accounts  []Account
	index     map[string]int
	allocated []int
}

// NewEngine builds an engine over total recipients and accounts in their
// iteration order. Existing entries for unknown accounts are dropped and the
// rest are clamped, in account order, so both bounds hold from the start.
// Duplicate account IDs keep their first occurrence.
func NewEngine(total int, accounts []Account, existing []Entry) *Engine {
	e := &Engine{
		total: max(total, 0),
		index: make(map[string]int, len(accounts)),
	}
	for _, acct := range accounts {
		if _, dup := e.index[acct.ID]; dup {
			continue
		}
		acct.DailyLimit = max(acct.DailyLimit, 0)
		e.index[acct.ID] = len(e.accounts)
		e.accounts = append(e.accounts, acct)
	}
	e.allocated = make([]int, len(e.accounts))

	loaded := make([]int, len(e.accounts))
	for _, entry := range existing {
		if i, ok := e.index[entry.AccountID]; ok {
			loaded[i] += max(entry.AllocatedCount, 0)
		}
	}
	room := e.total
	for i, n := range loaded {
		n = min(n, e.accounts[i].DailyLimit, room)
		e.allocated[i] = n
		room -= n
	}
	return e
}

// Total returns the recipient count being allocated.
func (e *Engine) Total() int {
	return e.total
}

// Allocated returns the sum of all allocations.
func (e *Engine) Allocated() int {
	sum := 0
	for _, n := range e.allocated {
		sum += n
	}
	return sum
}

// Remaining returns the number of recipients not yet allocated.
func (e *Engine) Remaining() int {
	return e.total - e.Allocated()
}

// Accounts returns the accounts in iteration order.
func (e *Engine) Accounts() []Account {
	return append([]Account(nil), e.accounts...)
}

// Allocation returns the count allocated to accountID.
func (e *Engine) Allocation(accountID string) (int, bool) {
	i, ok := e.index[accountID]
	if !ok {
		return 0, false
	}
	return e.allocated[i], true
}

// Entries returns the nonzero allocations in account order.
func (e *Engine) Entries() []Entry {
	out := make([]Entry, 0, len(e.accounts))
	for i, acct := range e.accounts {
		if e.allocated[i] > 0 {
			out = append(out, Entry{AccountID: acct.ID, AllocatedCount: e.allocated[i]})
		}
	}
	return out
}

// Set assigns requested recipients to accountID, clamped to the account's
// capacity. A value that would push the allocated sum past the total is
// rejected with *OverAllocationError and leaves the state unchanged.
func (e *Engine) Set(accountID string, requested int) error {
	i, ok := e.index[accountID]
	if !ok {
		return fmt.Errorf("set %s: %w", accountID, ErrUnknownAccount)
	}
	capacity := e.accounts[i].DailyLimit
	n := min(max(requested, 0), capacity)
	others := e.Allocated() - e.allocated[i]
	if others+n > e.total {
		return &OverAllocationError{
			AccountID: accountID,
			Requested: requested,
			Max:       max(min(capacity, e.total-others), 0),
		}
	}
	e.allocated[i] = n
	return nil
}

// Bulk sets each selected account to min(capacity, amount). When those
// candidates exceed the remaining recipients they are all scaled by
// remaining/sum and floored, so the aggregate never exceeds remaining.
// Unknown accounts reject the whole call before any change.
func (e *Engine) Bulk(accountIDs []string, amount int) error {
	if len(accountIDs) == 0 {
		return ErrEmptySelection
	}
	amount = max(amount, 0)

	selected := make([]int, 0, len(accountIDs))
	seen := make(map[int]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		i, ok := e.index[id]
		if !ok {
			return fmt.Errorf("bulk %s: %w", id, ErrUnknownAccount)
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		selected = append(selected, i)
	}

	candidates := make([]int, len(selected))
	sum := 0
	for k, i := range selected {
		candidates[k] = min(e.accounts[i].DailyLimit, amount)
		sum += candidates[k]
	}
	remaining := max(e.Remaining(), 0)
	if sum > remaining {
		for k := range candidates {
			candidates[k] = int(int64(candidates[k]) * int64(remaining) / int64(sum))
		}
	}
	for k, i := range selected {
		e.allocated[i] = candidates[k]
	}
	return nil
}

// Quick distributes the remaining recipients over accounts with spare
// capacity, adding to their current allocations. Shares that exceed an
// account's spare capacity are clamped and the excess is offered to the
// other eligible accounts in order. With nothing remaining or no spare
// capacity it does nothing.
func (e *Engine) Quick(strategy Strategy) error {
	var eligible []int
	for i, acct := range e.accounts {
		if acct.DailyLimit-e.allocated[i] > 0 {
			eligible = append(eligible, i)
		}
	}

	var shares []int
	remaining := e.Remaining()
	switch strategy {
	case StrategyEqual:
		shares = equalShares(remaining, len(eligible))
	case StrategyCapacity:
		weights := make([]int, len(eligible))
		for k, i := range eligible {
			weights[k] = e.accounts[i].DailyLimit
		}
		shares = weightedShares(remaining, weights)
	case StrategyFill:
		shares = make([]int, len(eligible))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	if remaining <= 0 || len(eligible) == 0 {
		return nil
	}

	leftover := 0
	if strategy == StrategyFill {
		leftover = remaining
	}
	for k, i := range eligible {
		spare := e.accounts[i].DailyLimit - e.allocated[i]
		give := min(shares[k], spare)
		leftover += shares[k] - give
		e.allocated[i] += give
	}
	for _, i := range eligible {
		if leftover == 0 {
			break
		}
		give := min(e.accounts[i].DailyLimit-e.allocated[i], leftover)
		e.allocated[i] += give
		leftover -= give
	}
	return nil
}

// Finalize reports whether the plan allocates every recipient exactly once.
func (e *Engine) Finalize() error {
	if allocated := e.Allocated(); allocated != e.total {
		return &TotalMismatchError{Allocated: allocated, Total: e.total}
	}
	return nil
}
