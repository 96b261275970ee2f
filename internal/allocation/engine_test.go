package allocation

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func twoAccounts() []Account {
	return []Account{
		{ID: "accA", DailyLimit: 6},
		{ID: "accB", DailyLimit: 6},
	}
}

func TestQuickEqualSplitsTenAcrossTwo(t *testing.T) {
	t.Parallel()

	e := NewEngine(10, twoAccounts(), nil)
	require.NoError(t, e.Quick(StrategyEqual))
	require.Equal(t, []Entry{
		{AccountID: "accA", AllocatedCount: 5},
		{AccountID: "accB", AllocatedCount: 5},
	}, e.Entries())
	require.NoError(t, e.Finalize())
}

func TestQuickEqualRemainderGoesToLast(t *testing.T) {
	t.Parallel()

	accounts := []Account{{ID: "a", DailyLimit: 50}, {ID: "b", DailyLimit: 50}, {ID: "c", DailyLimit: 50}}
	e := NewEngine(11, accounts, nil)
	require.NoError(t, e.Quick(StrategyEqual))
	require.Equal(t, []Entry{
		{AccountID: "a", AllocatedCount: 3},
		{AccountID: "b", AllocatedCount: 3},
		{AccountID: "c", AllocatedCount: 5},
	}, e.Entries())
}

func TestQuickEqualRefillsClampedShares(t *testing.T) {
	t.Parallel()

	accounts := []Account{{ID: "a", DailyLimit: 1}, {ID: "b", DailyLimit: 10}, {ID: "c", DailyLimit: 10}}
	e := NewEngine(9, accounts, nil)
	require.NoError(t, e.Quick(StrategyEqual))

	a, _ := e.Allocation("a")
	b, _ := e.Allocation("b")
	c, _ := e.Allocation("c")
	require.Equal(t, 1, a)
	require.Equal(t, 5, b)
	require.Equal(t, 3, c)
	require.Equal(t, 9, e.Allocated())
}

func TestQuickCapacityWeightsByDailyLimit(t *testing.T) {
	t.Parallel()

	accounts := []Account{{ID: "a", DailyLimit: 10}, {ID: "b", DailyLimit: 20}, {ID: "c", DailyLimit: 30}}
	e := NewEngine(31, accounts, nil)
	require.NoError(t, e.Quick(StrategyCapacity))
	require.Equal(t, []Entry{
		{AccountID: "a", AllocatedCount: 5},
		{AccountID: "b", AllocatedCount: 10},
		{AccountID: "c", AllocatedCount: 16},
	}, e.Entries())
}

func TestQuickFillIsSequential(t *testing.T) {
	t.Parallel()

	accounts := []Account{{ID: "a", DailyLimit: 4}, {ID: "b", DailyLimit: 4}, {ID: "c", DailyLimit: 4}}
	e := NewEngine(6, accounts, nil)
	require.NoError(t, e.Quick(StrategyFill))
	require.Equal(t, []Entry{
		{AccountID: "a", AllocatedCount: 4},
		{AccountID: "b", AllocatedCount: 2},
	}, e.Entries())
}

func TestQuickAddsToExistingAllocations(t *testing.T) {
	t.Parallel()

	e := NewEngine(10, twoAccounts(), []Entry{{AccountID: "accA", AllocatedCount: 6}})
	require.NoError(t, e.Quick(StrategyEqual))
	b, _ := e.Allocation("accB")
	require.Equal(t, 4, b)
	require.NoError(t, e.Finalize())
}

func TestQuickNoopWhenNothingRemains(t *testing.T) {
	t.Parallel()

	e := NewEngine(3, twoAccounts(), []Entry{{AccountID: "accA", AllocatedCount: 3}})
	require.NoError(t, e.Quick(StrategyCapacity))
	require.Equal(t, []Entry{{AccountID: "accA", AllocatedCount: 3}}, e.Entries())

	empty := NewEngine(5, nil, nil)
	require.NoError(t, empty.Quick(StrategyFill))
	require.Equal(t, 0, empty.Allocated())
}

func TestQuickRejectsUnknownStrategy(t *testing.T) {
	t.Parallel()

	e := NewEngine(5, twoAccounts(), nil)
	require.ErrorIs(t, e.Quick("random"), ErrUnknownStrategy)
}

func TestQuickLimitedByTotalCapacity(t *testing.T) {
	t.Parallel()

	e := NewEngine(20, twoAccounts(), nil)
	require.NoError(t, e.Quick(StrategyEqual))
	require.Equal(t, 12, e.Allocated())

	var mismatch *TotalMismatchError
	require.ErrorAs(t, e.Finalize(), &mismatch)
	require.Equal(t, 8, mismatch.Shortfall())
	require.Equal(t, 0, mismatch.Excess())
}

func TestBulkScalesProportionally(t *testing.T) {
	t.Parallel()

	e := NewEngine(10, twoAccounts(), nil)
	require.NoError(t, e.Bulk([]string{"accA", "accB"}, 8))
	require.Equal(t, []Entry{
		{AccountID: "accA", AllocatedCount: 5},
		{AccountID: "accB", AllocatedCount: 5},
	}, e.Entries())
}

func TestBulkAppliesCandidatesWhenTheyFit(t *testing.T) {
	t.Parallel()

	e := NewEngine(20, twoAccounts(), nil)
	require.NoError(t, e.Bulk([]string{"accB", "accB"}, 4))
	require.Equal(t, []Entry{{AccountID: "accB", AllocatedCount: 4}}, e.Entries())
}

func TestBulkClampsToCapacity(t *testing.T) {
	t.Parallel()

	e := NewEngine(20, twoAccounts(), nil)
	require.NoError(t, e.Bulk([]string{"accA"}, 100))
	a, _ := e.Allocation("accA")
	require.Equal(t, 6, a)
}

func TestBulkOverAllocatedAccountsScalesAgainstRemaining(t *testing.T) {
	t.Parallel()

	e := NewEngine(10, twoAccounts(), nil)
	require.NoError(t, e.Set("accA", 5))
	require.NoError(t, e.Set("accB", 5))
	require.Equal(t, 0, e.Remaining())

	// Nothing is left to hand out, so the replaced allocations scale to zero.
	require.NoError(t, e.Bulk([]string{"accA", "accB"}, 5))
	require.Empty(t, e.Entries())
	require.Equal(t, 0, e.Allocated())

	e = NewEngine(10, twoAccounts(), []Entry{{AccountID: "accA", AllocatedCount: 4}})
	require.NoError(t, e.Bulk([]string{"accA", "accB"}, 6))
	a, _ := e.Allocation("accA")
	b, _ := e.Allocation("accB")
	require.Equal(t, 3, a)
	require.Equal(t, 3, b)
	require.LessOrEqual(t, e.Allocated(), 10)
}

func TestBulkRejectsBadSelection(t *testing.T) {
	t.Parallel()

	e := NewEngine(10, twoAccounts(), []Entry{{AccountID: "accA", AllocatedCount: 2}})
	require.ErrorIs(t, e.Bulk(nil, 3), ErrEmptySelection)
	require.ErrorIs(t, e.Bulk([]string{"accB", "ghost"}, 3), ErrUnknownAccount)
	require.Equal(t, []Entry{{AccountID: "accA", AllocatedCount: 2}}, e.Entries())
}

func TestSetClampsToCapacity(t *testing.T) {
	t.Parallel()

	e := NewEngine(10, twoAccounts(), nil)
	require.NoError(t, e.Set("accA", 9))
	a, _ := e.Allocation("accA")
	require.Equal(t, 6, a)

	require.NoError(t, e.Set("accA", -3))
	a, _ = e.Allocation("accA")
	require.Equal(t, 0, a)
}

func TestSetRejectsOverAllocation(t *testing.T) {
	t.Parallel()

	e := NewEngine(8, twoAccounts(), nil)
	require.NoError(t, e.Set("accA", 6))

	err := e.Set("accB", 5)
	var over *OverAllocationError
	require.ErrorAs(t, err, &over)
	require.Equal(t, "accB", over.AccountID)
	require.Equal(t, 5, over.Requested)
	require.Equal(t, 2, over.Max)

	b, _ := e.Allocation("accB")
	require.Equal(t, 0, b)
	require.NoError(t, e.Set("accB", over.Max))
	require.NoError(t, e.Finalize())
}

func TestSetUnknownAccount(t *testing.T) {
	t.Parallel()

	e := NewEngine(8, twoAccounts(), nil)
	require.ErrorIs(t, e.Set("ghost", 1), ErrUnknownAccount)
}

func TestNewEngineClampsLoadedEntries(t *testing.T) {
	t.Parallel()

	e := NewEngine(7, twoAccounts(), []Entry{
		{AccountID: "accA", AllocatedCount: 9},
		{AccountID: "gone", AllocatedCount: 3},
		{AccountID: "accB", AllocatedCount: 4},
	})
	require.Equal(t, []Entry{
		{AccountID: "accA", AllocatedCount: 6},
		{AccountID: "accB", AllocatedCount: 1},
	}, e.Entries())
	require.Equal(t, 0, e.Remaining())
}

func TestFinalizeReportsExcessAndShortfall(t *testing.T) {
	t.Parallel()

	short := &TotalMismatchError{Allocated: 3, Total: 5}
	require.Equal(t, 2, short.Shortfall())
	require.Contains(t, short.Error(), "shortfall 2")

	excess := &TotalMismatchError{Allocated: 7, Total: 5}
	require.Equal(t, 2, excess.Excess())
	require.Contains(t, excess.Error(), "excess 2")
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	s, err := ParseStrategy(" Capacity ")
	require.NoError(t, err)
	require.Equal(t, StrategyCapacity, s)

	_, err = ParseStrategy("round-robin")
	require.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestBoundsHoldAcrossRandomOperations(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	strategies := []Strategy{StrategyEqual, StrategyCapacity, StrategyFill}
	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(5)
		accounts := make([]Account, n)
		ids := make([]string, n)
		for i := range accounts {
			ids[i] = string(rune('a' + i))
			accounts[i] = Account{ID: ids[i], DailyLimit: rng.Intn(30), SentToday: rng.Intn(30)}
		}
		total := rng.Intn(60)
		e := NewEngine(total, accounts, nil)

		for step := 0; step < 10; step++ {
			var err error
			switch rng.Intn(3) {
			case 0:
				err = e.Set(ids[rng.Intn(n)], rng.Intn(40)-5)
			case 1:
				err = e.Quick(strategies[rng.Intn(len(strategies))])
			case 2:
				err = e.Bulk([]string{ids[rng.Intn(n)], ids[rng.Intn(n)]}, rng.Intn(40))
			}
			var over *OverAllocationError
			if err != nil && !errors.As(err, &over) {
				require.NoError(t, err)
			}
			require.LessOrEqual(t, e.Allocated(), total)
			for _, acct := range accounts {
				got, _ := e.Allocation(acct.ID)
				require.GreaterOrEqual(t, got, 0)
				require.LessOrEqual(t, got, acct.DailyLimit)
			}
		}
	}
}

func TestQuickEqualExactWhenCapacitySuffices(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(9))
	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(6)
		accounts := make([]Account, n)
		capacity := 0
		for i := range accounts {
			accounts[i] = Account{ID: string(rune('a' + i)), DailyLimit: 1 + rng.Intn(25)}
			capacity += accounts[i].DailyLimit
		}
		total := rng.Intn(capacity + 1)
		e := NewEngine(total, accounts, nil)
		require.NoError(t, e.Quick(StrategyEqual))
		require.Equal(t, total, e.Allocated())
		require.NoError(t, e.Finalize())
	}
}
