package allocation

import (
	"fmt"
	"strings"
)

// Strategy selects how Quick distributes the unallocated recipients.
type Strategy string

// Supported quick allocation strategies.
const (
	// StrategyEqual splits the remainder evenly.
	StrategyEqual Strategy = "equal"
	// StrategyCapacity splits the remainder in proportion to daily limits.
	StrategyCapacity Strategy = "capacity"
	// StrategyFill fills accounts one after another.
	StrategyFill Strategy = "fill"
)

// ParseStrategy converts a strategy name, ignoring case and surrounding space.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	switch s {
	case StrategyEqual, StrategyCapacity, StrategyFill:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// equalShares splits remaining into n floored shares; the last share absorbs
// the rounding remainder.
func equalShares(remaining, n int) []int {
	shares := make([]int, n)
	if n == 0 {
		return shares
	}
	base := remaining / n
	for i := range shares {
		shares[i] = base
	}
	shares[n-1] += remaining - base*n
	return shares
}

// weightedShares splits remaining in proportion to weights, flooring each
// share; the last share absorbs the rounding remainder.
func weightedShares(remaining int, weights []int) []int {
	shares := make([]int, len(weights))
	if len(weights) == 0 {
		return shares
	}
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return equalShares(remaining, len(weights))
	}
	assigned := 0
	for i := 0; i < len(weights)-1; i++ {
		shares[i] = int(int64(remaining) * int64(weights[i]) / int64(total))
		assigned += shares[i]
	}
	shares[len(weights)-1] = remaining - assigned
	return shares
}
