package ring

import "sync"

// Counters accumulate what happened to a ring since its state was created.
type Counters struct {
	Appended      uint64 `json:"appended"`
	Read          uint64 `json:"read"`
	Dropped       uint64 `json:"dropped"`
	WriteFailures uint64 `json:"write_failures"`
	EraseFailures uint64 `json:"erase_failures"`
	ReadFailures  uint64 `json:"read_failures"`
	Skipped       uint64 `json:"skipped"`
}

// State is the cursor pair and counters of one ring. It is owned by the task
// driving the ring and passed into every operation that moves a cursor. Its
// lock serialises the producer and consumer of the ring; a State must only be
// used with the ring it was recovered for.
type State struct {
	mu       sync.Mutex
	read     int
	write    int
	level    Level
	counters Counters
	consumed uint64 // Pages the read cursor has passed, read or dropped

	// Pages whose write failed since their sector was last erased. They may
	// hold the record anyway, but it was reported lost and is never delivered.
	burnt map[int]struct{}
}

// Snapshot is a point in time copy of a State.
type Snapshot struct {
	Read     int      `json:"read"`
	Write    int      `json:"write"`
	Level    Level    `json:"level"`
	Counters Counters `json:"counters"`
}

// NewState returns an empty state with both cursors at page 0.
func NewState() *State {
	return &State{}
}

// Snapshot copies the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Read: s.read, Write: s.write, Level: s.level, Counters: s.counters}
}

// Cursors returns the read and write cursors.
func (s *State) Cursors() (read, write int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read, s.write
}

// Level returns the current backpressure level.
func (s *State) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *State) markBurnt(p int) {
	if s.burnt == nil {
		s.burnt = make(map[int]struct{})
	}
	s.burnt[p] = struct{}{}
}

func (s *State) isBurnt(p int) bool {
	_, ok := s.burnt[p]
	return ok
}

// clearBurnt forgets the pages [first, first+n) after their sector is erased.
func (s *State) clearBurnt(first, n int) {
	for p := first; p < first+n; p++ {
		delete(s.burnt, p)
	}
}
