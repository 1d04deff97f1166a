package store

import (
	"context"
	"sync"

	"github.com/goliatone/go-link"
)

// MemoryStore is an in-memory implementation of link.DurableStore,
// link.OverrideStore and link.VerificationRecords, useful for tests and
// single-process deployments.
type MemoryStore struct {
	mu       sync.Mutex
	session  []byte
	override *bool
	records  map[string]link.VerificationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]link.VerificationRecord{},
	}
}

func (s *MemoryStore) LoadSession(ctx context.Context) (*link.Session, error) {
	s.mu.Lock()
	payload := s.session
	s.mu.Unlock()

	if payload == nil {
		return nil, nil
	}
	return link.DecodeSession(payload)
}

func (s *MemoryStore) SaveSession(ctx context.Context, session *link.Session) error {
	payload, err := link.EncodeSession(session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.session = payload
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context) error {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AdminOverride(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.override == nil {
		return false, nil
	}
	return *s.override, nil
}

func (s *MemoryStore) SetAdminOverride(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.override = &enabled
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ClearAdminOverride(ctx context.Context) error {
	s.mu.Lock()
	s.override = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) FindByPlatformUser(ctx context.Context, platformUserID string) (*link.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[platformUserID]
	if !ok {
		return nil, nil
	}
	clone := record
	return &clone, nil
}

func (s *MemoryStore) Save(ctx context.Context, record *link.VerificationRecord) error {
	s.mu.Lock()
	s.records[record.PlatformUserID] = *record
	s.mu.Unlock()
	return nil
}
