package bridge

import (
	"errors"
	"sync"
)

// ErrQuotaExceeded is returned by MapStorage when a write would exceed its
// byte budget.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Storage is the origin-local key/value store behind the bridge.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// MapStorage is an in-memory Storage with an optional byte quota,
// mirroring the limits browsers place on local storage.
type MapStorage struct {
	mu    sync.Mutex
	data  map[string]string
	quota int
	used  int
}

// NewMapStorage creates a MapStorage. quota <= 0 means unlimited.
func NewMapStorage(quota int) *MapStorage {
	return &MapStorage{data: make(map[string]string), quota: quota}
}

func (m *MapStorage) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MapStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used + len(key) + len(value)
	if old, ok := m.data[key]; ok {
		used -= len(key) + len(old)
	}
	if m.quota > 0 && used > m.quota {
		return ErrQuotaExceeded
	}
	m.data[key] = value
	m.used = used
	return nil
}
