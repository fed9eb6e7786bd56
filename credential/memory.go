package credential

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Memory is an in-process Store backed by a map. It holds bcrypt hashes
// only, never cleartext. Useful for tests and single-node setups without
// a database.
type Memory struct {
	mu    sync.RWMutex
	users map[string]string // username -> bcrypt hash
	cost  int
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store hashing at bcrypt.DefaultCost.
func NewMemory() *Memory {
	return NewMemoryWithCost(bcrypt.DefaultCost)
}

// NewMemoryWithCost returns an empty in-memory store with an explicit
// bcrypt cost. Tests use bcrypt.MinCost to stay fast.
func NewMemoryWithCost(cost int) *Memory {
	return &Memory{
		users: make(map[string]string),
		cost:  cost,
	}
}

func (m *Memory) Authenticate(_ context.Context, username, password string) (bool, error) {
	m.mu.RLock()
	hash, ok := m.users[username]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

func (m *Memory) CreateUser(_ context.Context, username, password string) (bool, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return false, nil
	}
	m.users[username] = string(hash)
	return true, nil
}

func (m *Memory) UpdateUser(_ context.Context, username, newPassword string) (bool, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), m.cost)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; !ok {
		return false, nil
	}
	m.users[username] = string(hash)
	return true, nil
}

func (m *Memory) DeleteUser(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; !ok {
		return false, nil
	}
	delete(m.users, username)
	return true, nil
}

func (m *Memory) UserExists(_ context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[username]
	return ok, nil
}
