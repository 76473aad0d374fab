package warehouse

// keySequence hands out surrogate keys. The loader owns assignment: the
// sequence is seeded from the highest key already stored, never from a
// database auto-increment, so re-runs and tests stay deterministic.
type keySequence struct {
	last int64
}

func newKeySequence(last int64) *keySequence {
	return &keySequence{last: last}
}

func (s *keySequence) Next() int64 {
	s.last++
	return s.last
}
