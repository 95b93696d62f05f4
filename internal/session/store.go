package session

import (
	"strings"
	"sync"
)

// Store keeps the live sessions. The Manager serialises all mutations, so an
// implementation only has to be safe for concurrent reads. A shared store
// backing several processes would implement the same interface.
type Store interface {
	Get(id string) (*Session, bool)
	ByInviteCode(code string) (*Session, bool)
	Put(s *Session)
	Delete(id string)
	List() []*Session
	Len() int
}

type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byInvite map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Session),
		byInvite: make(map[string]string),
	}
}

func (st *MemoryStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.byID[id]
	return s, ok
}

// ByInviteCode matches codes case-insensitively.
func (st *MemoryStore) ByInviteCode(code string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	id, ok := st.byInvite[strings.ToUpper(code)]
	if !ok {
		return nil, false
	}
	s, ok := st.byID[id]
	return s, ok
}

func (st *MemoryStore) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.byID[s.ID] = s
	if s.InviteCode != "" {
		st.byInvite[strings.ToUpper(s.InviteCode)] = s.ID
	}
}

func (st *MemoryStore) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.byID[id]; ok {
		delete(st.byInvite, strings.ToUpper(s.InviteCode))
	}
	delete(st.byID, id)
}

func (st *MemoryStore) List() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Session, 0, len(st.byID))
	for _, s := range st.byID {
		out = append(out, s)
	}
	return out
}

func (st *MemoryStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}
