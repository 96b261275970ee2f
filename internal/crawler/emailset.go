package crawler

// EmailSet is an insertion-ordered set of addresses. Membership checks are O(1)
// and Values preserves first-seen order. The zero value is ready to use.
type EmailSet struct {
	seen  map[string]struct{}
	order []string
}

// NewEmailSet returns a set seeded with values.
func NewEmailSet(values ...string) *EmailSet {
	s := &EmailSet{}
	s.AddAll(values)
	return s
}

// Add inserts v and reports whether it was new.
func (s *EmailSet) Add(v string) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.seen[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

// AddAll inserts every value and returns how many were new.
func (s *EmailSet) AddAll(values []string) int {
	added := 0
	for _, v := range values {
		if s.Add(v) {
			added++
		}
	}
	return added
}

// Contains reports whether v has been added.
func (s *EmailSet) Contains(v string) bool {
	_, ok := s.seen[v]
	return ok
}

// Len returns the number of distinct values.
func (s *EmailSet) Len() int {
	return len(s.order)
}

// Values returns a copy of the values in first-seen order. It never returns nil.
func (s *EmailSet) Values() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
