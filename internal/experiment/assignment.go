package experiment

import (
	"sync"
)

type assignmentKey struct {
	subjectID    string
	experimentID string
}

// AssignmentStore owns the sticky subject-to-variant mapping. The
// store's lock guards only the map; the fields of an Assignment record
// are mutated under the owning experiment's lock, which serializes all
// writers for a given (subject, experiment) pair.
type AssignmentStore struct {
	mu          sync.RWMutex
	assignments map[assignmentKey]*Assignment
}

// NewAssignmentStore creates an empty assignment store
func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{
		assignments: make(map[assignmentKey]*Assignment),
	}
}

// Get returns the assignment for a (subject, experiment) pair
func (s *AssignmentStore) Get(subjectID, experimentID string) (*Assignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[assignmentKey{subjectID, experimentID}]
	return a, ok
}

// Put stores a new assignment. Existing assignments are never
// replaced; stickiness is enforced by the caller checking Get first
// under the experiment's lock.
func (s *AssignmentStore) Put(a *Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments[assignmentKey{a.SubjectID, a.ExperimentID}] = a
}

// CountForExperiment returns the number of assignments recorded for an
// experiment.
func (s *AssignmentStore) CountForExperiment(experimentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for key := range s.assignments {
		if key.experimentID == experimentID {
			count++
		}
	}
	return count
}

// Len returns the total number of assignments
func (s *AssignmentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assignments)
}
