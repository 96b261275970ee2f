package allocation

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAccount is returned when an operation names an account the
	// engine was not built with.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrEmptySelection is returned by Bulk when no accounts are selected.
	ErrEmptySelection = errors.New("no accounts selected")
	// ErrUnknownStrategy is returned for an unrecognized quick strategy name.
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// OverAllocationError rejects a Set that would allocate more recipients than
// exist. Max is the largest count the account could have been given.
type OverAllocationError struct {
	AccountID string
	Requested int
	Max       int
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("allocation for %s exceeds recipient total: requested %d, max %d",
		e.AccountID, e.Requested, e.Max)
}

// TotalMismatchError reports that a plan cannot be finalized because the
// allocated sum differs from the recipient total.
type TotalMismatchError struct {
	Allocated int
	Total     int
}

func (e *TotalMismatchError) Error() string {
	if e.Allocated < e.Total {
		return fmt.Sprintf("allocation incomplete: %d of %d recipients allocated, shortfall %d",
			e.Allocated, e.Total, e.Shortfall())
	}
	return fmt.Sprintf("allocation exceeds recipients: %d allocated for %d recipients, excess %d",
		e.Allocated, e.Total, e.Excess())
}

// Shortfall is the number of recipients still unallocated, or zero.
func (e *TotalMismatchError) Shortfall() int {
	return max(e.Total-e.Allocated, 0)
}

// Excess is the number of allocations beyond the recipient total, or zero.
func (e *TotalMismatchError) Excess() int {
	return max(e.Allocated-e.Total, 0)
}
