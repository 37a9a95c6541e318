// Package store persists the fields of the cached offset sample.
package store

import (
	"maps"
	"sync"
)

// Keys of the persisted sample fields.
const (
	KeyRoundTripDelay    = "round_trip_delay"
	KeySystemClockOffset = "system_clock_offset"
	KeyUptimeOffset      = "uptime_offset"
)

// Keys lists every field the offset cache persists.
var Keys = []string{KeyRoundTripDelay, KeySystemClockOffset, KeyUptimeOffset}

// Store is a small key/value store of int64 fields.
type Store interface {
	// Get returns the value of key and whether it is present.
	Get(key string) (int64, bool, error)
	// Set writes all given fields in one durable operation.
	Set(fields map[string]int64) error
	// Delete removes the given keys. Missing keys are ignored.
	Delete(keys ...string) error
}

// Memory is a Store that lives only as long as the process.
type Memory struct {
	mu     sync.Mutex
	fields map[string]int64
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{fields: make(map[string]int64)}
}

func (m *Memory) Get(key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.fields[key]
	return v, ok, nil
}

func (m *Memory) Set(fields map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.fields, fields)
	return nil
}

func (m *Memory) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.fields, k)
	}
	return nil
}
