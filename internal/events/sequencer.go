package events

import "sync"

// Sequencer assigns the (block_number, log_index) ordering key every
// Append needs. In this off-chain deployment "block_number" is a logical
// block counter that AdvanceTick bumps and "log_index" counts events
// within that block. Nothing in this repository calls AdvanceTick, so a
// process numbers all of its events within one block (block 1, or the
// block Resume restored), which still satisfies spec.md §5/§6's
// total-order requirement without a real chain underneath (spec.md §9).
type Sequencer struct {
	mu        sync.Mutex
	block     uint64
	logIndex  uint64
}

// NewSequencer starts numbering at block 1.
func NewSequencer() *Sequencer {
	return &Sequencer{block: 1}
}

// Next returns the next (block, log_index) pair within the current tick.
func (s *Sequencer) Next() (block, logIndex uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	li := s.logIndex
	s.logIndex++
	return s.block, li
}

// AdvanceTick closes out the current block and starts the next one; call
// once per keeper tick boundary.
func (s *Sequencer) AdvanceTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block++
	s.logIndex = 0
}

// Resume fast-forwards the sequencer past an already-persisted log, so a
// restarted process continues numbering after the last appended event
// instead of colliding with it.
func (s *Sequencer) Resume(lastBlock, lastLogIndex uint64, hadEvents bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !hadEvents {
		return
	}
	s.block = lastBlock
	s.logIndex = lastLogIndex + 1
}
