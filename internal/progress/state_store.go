package progress

import "sync"

// StateStore keeps the latest snapshot per topic. It is safe for concurrent
// use. Writers to the same topic are serialized by the driver's single-flight
// rule; the store itself is last-write-wins.
type StateStore struct {
	mu     sync.RWMutex
	topics map[string]*topicState
}

type topicState struct {
	snap Snapshot
	// driving is set once a driver has claimed the topic.
	driving bool
}

// NewStateStore returns an empty store.
func NewStateStore() *StateStore {
	return &StateStore{topics: make(map[string]*topicState)}
}

// Get returns the current snapshot for topic, or false if the topic has never
// been seen.
func (s *StateStore) Get(topic string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.topics[topic]
	if !ok {
		return Snapshot{}, false
	}
	return st.snap, true
}

// Set replaces the snapshot for topic.
func (s *StateStore) Set(topic string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.topics[topic]; ok {
		st.snap = snap
		return
	}
	s.topics[topic] = &topicState{snap: snap}
}

// SeedIfAbsent stores snap only when topic has no snapshot yet. It returns the
// snapshot now current for the topic and whether this call created it.
func (s *StateStore) SeedIfAbsent(topic string, snap Snapshot) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.topics[topic]; ok {
		return st.snap, false
	}
	s.topics[topic] = &topicState{snap: snap}
	return snap, true
}

// Len returns the number of known topics.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics)
}

// claimDriver marks topic as driven. It fails when a driver already claimed
// the topic or the stored snapshot has advanced past progress 0.
func (s *StateStore) claimDriver(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.topics[topic]
	if !ok {
		s.topics[topic] = &topicState{snap: Initial(), driving: true}
		return true
	}
	if st.driving || st.snap.Progress > 0 {
		return false
	}
	st.driving = true
	return true
}
