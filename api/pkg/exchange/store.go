package exchange

import "sync"

// Store is the in-memory exchange list: insertion-ordered, deduplicated on
// (kingdom, x, y). It is guarded by a single mutex held only for the
// duration of an insert or a snapshot read.
type Store struct {
	mu      sync.Mutex
	records []Record
	seen    map[Key]struct{}
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{seen: make(map[Key]struct{})}
}

// Insert appends a record unless its (kingdom, x, y) key is already
// present, in which case it is dropped and ok is false.
func (s *Store) Insert(r Record) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Key()
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	s.records = append(s.records, r)
	return true
}

// InsertGuarded performs the duplicate check, the durable write, and the
// insert as one atomic step under the store's lock: writeLog is invoked
// with the predicted outcome before the record is published, so a crash
// between the two never leaves a record visible here that never made it to
// the durable log (§3), and two concurrent callers for the same key can
// never both observe willStore=true.
func (s *Store) InsertGuarded(r Record, writeLog func(willStore bool)) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Key()
	_, dup := s.seen[key]
	writeLog(!dup)
	if dup {
		return false
	}
	s.seen[key] = struct{}{}
	s.records = append(s.records, r)
	return true
}

// Snapshot returns an insertion-ordered copy of the record list. No
// mutating handle to the internal slice escapes.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// At returns the record at index i, or ok=false if i is out of range.
func (s *Store) At(i int) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.records) {
		return Record{}, false
	}
	return s.records[i], true
}
