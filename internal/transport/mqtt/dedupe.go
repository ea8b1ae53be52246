package mqtt

// seenSet remembers the last N keys. Lookups are linear; N is small.
type seenSet[K comparable] struct {
	keys []K
	next int
	full bool
}

func newSeenSet[K comparable](size int) *seenSet[K] {
	return &seenSet[K]{keys: make([]K, size)}
}

// add records key and reports whether it was new.
func (s *seenSet[K]) add(key K) bool {
	n := s.next
	if s.full {
		n = len(s.keys)
	}
	for i := 0; i < n; i++ {
		if s.keys[i] == key {
			return false
		}
	}
	s.keys[s.next] = key
	s.next++
	if s.next == len(s.keys) {
		s.next = 0
		s.full = true
	}
	return true
}
