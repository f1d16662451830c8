package session

import (
	"sort"
	"sync"
	"time"
)

// Ban is one banned address.
type Ban struct {
	Address string    `json:"address"`
	Name    string    `json:"name"`
	Reason  string    `json:"reason"`
	Created time.Time `json:"created"`
}

// BanStore persists the ban list. Addresses are compared without port.
type BanStore interface {
	IsBanned(addr string) (bool, error)
	AddBan(b Ban) error
	RemoveBan(addr string) (bool, error)
	ListBans() ([]Ban, error)
}

// MemoryBans is a BanStore that lives as long as the process.
type MemoryBans struct {
	mu   sync.RWMutex
	bans map[string]Ban
}

// NewMemoryBans creates an empty in-memory ban list.
func NewMemoryBans() *MemoryBans {
	return &MemoryBans{bans: make(map[string]Ban)}
}

func (m *MemoryBans) IsBanned(addr string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bans[addr]
	return ok, nil
}

func (m *MemoryBans) AddBan(b Ban) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Created.IsZero() {
		b.Created = time.Now()
	}
	m.bans[b.Address] = b
	return nil
}

func (m *MemoryBans) RemoveBan(addr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bans[addr]
	delete(m.bans, addr)
	return ok, nil
}

func (m *MemoryBans) ListBans() ([]Ban, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Ban, 0, len(m.bans))
	for _, b := range m.bans {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}
