package checkpoint

import "sync"

// Store lazily creates one Checkpoint per label within a single workdir,
// mirroring the original's Checkpoints collection: accessing a label for
// the first time creates it, subsequent accesses reuse the same instance.
type Store struct {
	workdir string
	paths   func(label string) PathsFunc

	mu          sync.Mutex
	checkpoints map[string]*Checkpoint
}

// NewStore returns a Store rooted at workdir. paths, given a label, must
// return the PathsFunc a new Checkpoint for that label should use.
func NewStore(workdir string, paths func(label string) PathsFunc) *Store {
	return &Store{
		workdir:     workdir,
		paths:       paths,
		checkpoints: make(map[string]*Checkpoint),
	}
}

// Get returns the Checkpoint for label, creating it on first access.
func (s *Store) Get(label string) *Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.checkpoints[label]; ok {
		return cp
	}
	var pf PathsFunc
	if s.paths != nil {
		pf = s.paths(label)
	}
	cp := New(label, s.workdir, pf)
	s.checkpoints[label] = cp
	return cp
}
