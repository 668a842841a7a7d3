package store

import (
	"context"
	"sort"
	"sync"

	"github.com/example/family-sync/internal/types"
)

// Memory is an in-memory Store used by tests and as a throwaway cache when no
// database path is configured.
type Memory struct {
	mu           sync.RWMutex
	people       map[string]types.Person
	measurements map[string]types.Measurement
	milestones   map[string]types.Milestone
	photos       map[string]types.Photo
	messages     map[string]types.ChatMessage
	blobs        map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		people:       make(map[string]types.Person),
		measurements: make(map[string]types.Measurement),
		milestones:   make(map[string]types.Milestone),
		photos:       make(map[string]types.Photo),
		messages:     make(map[string]types.ChatMessage),
		blobs:        make(map[string][]byte),
	}
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

func listMap[T any](mu *sync.RWMutex, records map[string]T) []T {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]T, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	return out
}

func (m *Memory) People(context.Context) ([]types.Person, error) {
	return listMap(&m.mu, m.people), nil
}

func (m *Memory) PersonByLocalID(_ context.Context, localID string) (types.Person, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[localID]
	return p, ok, nil
}

func (m *Memory) PersonByRemoteID(_ context.Context, remoteID string) (types.Person, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if remoteID == "" {
		return types.Person{}, false, nil
	}
	for _, p := range m.people {
		if p.RemoteID == remoteID {
			return p, true, nil
		}
	}
	return types.Person{}, false, nil
}

func (m *Memory) PutPerson(_ context.Context, p types.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[p.LocalID] = p
	return nil
}

func (m *Memory) DeletePerson(_ context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.people[localID]; !ok {
		return ErrNotFound
	}
	delete(m.people, localID)
	return nil
}

func (m *Memory) Measurements(context.Context) ([]types.Measurement, error) {
	return listMap(&m.mu, m.measurements), nil
}

func (m *Memory) MeasurementByLocalID(_ context.Context, localID string) (types.Measurement, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.measurements[localID]
	return rec, ok, nil
}

func (m *Memory) MeasurementByRemoteID(_ context.Context, remoteID string) (types.Measurement, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if remoteID == "" {
		return types.Measurement{}, false, nil
	}
	for _, rec := range m.measurements {
		if rec.RemoteID == remoteID {
			return rec, true, nil
		}
	}
	return types.Measurement{}, false, nil
}

func (m *Memory) PutMeasurement(_ context.Context, rec types.Measurement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.measurements[rec.LocalID] = rec
	return nil
}

func (m *Memory) DeleteMeasurement(_ context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.measurements[localID]; !ok {
		return ErrNotFound
	}
	delete(m.measurements, localID)
	return nil
}

func (m *Memory) Milestones(context.Context) ([]types.Milestone, error) {
	return listMap(&m.mu, m.milestones), nil
}

func (m *Memory) MilestoneByLocalID(_ context.Context, localID string) (types.Milestone, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.milestones[localID]
	return rec, ok, nil
}

func (m *Memory) MilestoneByRemoteID(_ context.Context, remoteID string) (types.Milestone, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if remoteID == "" {
		return types.Milestone{}, false, nil
	}
	for _, rec := range m.milestones {
		if rec.RemoteID == remoteID {
			return rec, true, nil
		}
	}
	return types.Milestone{}, false, nil
}

func (m *Memory) PutMilestone(_ context.Context, rec types.Milestone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.milestones[rec.LocalID] = rec
	return nil
}

func (m *Memory) DeleteMilestone(_ context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.milestones[localID]; !ok {
		return ErrNotFound
	}
	delete(m.milestones, localID)
	return nil
}

func (m *Memory) Photos(context.Context) ([]types.Photo, error) {
	return listMap(&m.mu, m.photos), nil
}

func (m *Memory) PhotoByLocalID(_ context.Context, localID string) (types.Photo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.photos[localID]
	return rec, ok, nil
}

func (m *Memory) PhotoByRemoteID(_ context.Context, remoteID string) (types.Photo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if remoteID == "" {
		return types.Photo{}, false, nil
	}
	for _, rec := range m.photos {
		if rec.RemoteID == remoteID {
			return rec, true, nil
		}
	}
	return types.Photo{}, false, nil
}

func (m *Memory) PutPhoto(_ context.Context, rec types.Photo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[rec.LocalID] = rec
	return nil
}

func (m *Memory) DeletePhoto(_ context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.photos[localID]; !ok {
		return ErrNotFound
	}
	delete(m.photos, localID)
	return nil
}

func (m *Memory) Messages(context.Context) ([]types.ChatMessage, error) {
	msgs := listMap(&m.mu, m.messages)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (m *Memory) PutMessage(_ context.Context, msg types.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.LocalID] = msg
	return nil
}

func (m *Memory) DeleteMessage(_ context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[localID]; !ok {
		return ErrNotFound
	}
	delete(m.messages, localID)
	return nil
}

func (m *Memory) Blob(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) PutBlob(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}
