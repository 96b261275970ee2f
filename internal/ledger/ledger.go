// Package ledger tracks which recipients belong to which sending account and
// which have been removed from a campaign.
//
// Recipients are grouped positionally: the flat recipient list is cut into
// consecutive runs sized by the allocation counts, in allocation order, and
// whatever is left forms a trailing unallocated group. Every recipient ever
// seen lives in exactly one place, an active group or the removed list.
package ledger

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/outreach-core/internal/allocation"
)

// Unallocated is the AccountID of the pseudo-group holding recipients that
// are not assigned to any account.
const Unallocated = ""

// ErrNotRemoved is returned when restoring a recipient that is not in the
// removed list.
var ErrNotRemoved = errors.New("recipient is not removed")

// Group is a run of recipients assigned to one account.
type Group struct {
	AccountID  string   `json:"account_id"`
	Recipients []string `json:"recipients"`
}

// Ledger holds the active groups and the removed list.
type Ledger struct {
	groups  []Group
	removed []string
}

// Build groups recipients by allocation. Recipients repeated in the list, or
// already present in removed, keep only their first place.
func Build(recipients []string, allocations []allocation.Entry, removed []string) *Ledger {
	l := &Ledger{}
	seen := make(map[string]struct{}, len(recipients)+len(removed))
	for _, r := range removed {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		l.removed = append(l.removed, r)
	}
	active := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		active = append(active, r)
	}

	pos := 0
	for _, entry := range allocations {
		if entry.AllocatedCount <= 0 || pos >= len(active) {
			continue
		}
		end := min(pos+entry.AllocatedCount, len(active))
		l.groups = append(l.groups, Group{
			AccountID:  entry.AccountID,
			Recipients: append([]string(nil), active[pos:end]...),
		})
		pos = end
	}
	if pos < len(active) {
		l.groups = append(l.groups, Group{
			AccountID:  Unallocated,
			Recipients: append([]string(nil), active[pos:]...),
		})
	}
	return l
}

// Delete moves the named recipients from their groups to the removed list,
// in the order given. It returns how many recipients each account lost;
// unallocated removals are not counted. Unknown or already removed
// recipients are ignored. Groups left empty are dropped.
func (l *Ledger) Delete(recipients []string) map[string]int {
	targets := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		targets[r] = struct{}{}
	}

	owner := make(map[string]string, len(recipients))
	kept := l.groups[:0]
	for _, g := range l.groups {
		members := g.Recipients[:0]
		for _, r := range g.Recipients {
			if _, hit := targets[r]; hit {
				owner[r] = g.AccountID
				continue
			}
			members = append(members, r)
		}
		if len(members) == 0 {
			continue
		}
		g.Recipients = members
		kept = append(kept, g)
	}
	l.groups = kept

	decrements := make(map[string]int)
	for _, r := range recipients {
		account, ok := owner[r]
		if !ok {
			continue
		}
		delete(owner, r)
		l.removed = append(l.removed, r)
		if account != Unallocated {
			decrements[account]++
		}
	}
	return decrements
}

// Restore moves a removed recipient to the end of the trailing unallocated
// group. It never restores an allocation count.
func (l *Ledger) Restore(recipient string) error {
	idx := -1
	for i, r := range l.removed {
		if r == recipient {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("restore %s: %w", recipient, ErrNotRemoved)
	}
	l.removed = append(l.removed[:idx], l.removed[idx+1:]...)

	if n := len(l.groups); n > 0 && l.groups[n-1].AccountID == Unallocated {
		l.groups[n-1].Recipients = append(l.groups[n-1].Recipients, recipient)
		return nil
	}
	l.groups = append(l.groups, Group{AccountID: Unallocated, Recipients: []string{recipient}})
	return nil
}

// Groups returns a copy of the active groups.
func (l *Ledger) Groups() []Group {
	out := make([]Group, len(l.groups))
	for i, g := range l.groups {
		out[i] = Group{AccountID: g.AccountID, Recipients: append([]string(nil), g.Recipients...)}
	}
	return out
}

// Removed returns a copy of the removed list.
func (l *Ledger) Removed() []string {
	return append([]string{}, l.removed...)
}

// Flatten concatenates the active groups in order.
func (l *Ledger) Flatten() []string {
	out := make([]string, 0, l.ActiveCount())
	for _, g := range l.groups {
		out = append(out, g.Recipients...)
	}
	return out
}

// ActiveCount returns the number of recipients in active groups.
func (l *Ledger) ActiveCount() int {
	n := 0
	for _, g := range l.groups {
		n += len(g.Recipients)
	}
	return n
}

// Size returns the number of recipients ever seen by the ledger.
func (l *Ledger) Size() int {
	return l.ActiveCount() + len(l.removed)
}

// ApplyDecrements lowers allocation counts by the amounts Delete reported,
// flooring at zero and dropping entries that reach zero.
func ApplyDecrements(entries []allocation.Entry, decrements map[string]int) []allocation.Entry {
	out := make([]allocation.Entry, 0, len(entries))
	for _, e := range entries {
		e.AllocatedCount = max(e.AllocatedCount-decrements[e.AccountID], 0)
		if e.AllocatedCount > 0 {
			out = append(out, e)
		}
	}
	return out
}
