package link_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/goliatone/go-link"
)

// MockVerificationClient implements link.VerificationClient
type MockVerificationClient struct {
	mock.Mock
}

func (m *MockVerificationClient) VerifyIdentity(ctx context.Context, req link.VerifyRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

func (m *MockVerificationClient) AssignRole(ctx context.Context, req link.GrantRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

func (m *MockVerificationClient) Notify(ctx context.Context, req link.NotifyRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

// MockDurableStore implements link.DurableStore
type MockDurableStore struct {
	mock.Mock
}

func (m *MockDurableStore) LoadSession(ctx context.Context) (*link.Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*link.Session)
	return session, args.Error(1)
}

func (m *MockDurableStore) SaveSession(ctx context.Context, session *link.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockDurableStore) DeleteSession(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockCookieSink implements link.CookieSink
type MockCookieSink struct {
	mock.Mock
}

func (m *MockCookieSink) SetSessionCookies(accessToken, refreshToken string) {
	m.Called(accessToken, refreshToken)
}

func (m *MockCookieSink) ClearSessionCookies() {
	m.Called()
}

// MockOverrideStore implements link.OverrideStore
type MockOverrideStore struct {
	mock.Mock
}

func (m *MockOverrideStore) AdminOverride(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockOverrideStore) SetAdminOverride(ctx context.Context, enabled bool) error {
	args := m.Called(ctx, enabled)
	return args.Error(0)
}

func (m *MockOverrideStore) ClearAdminOverride(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockVerificationRecords implements link.VerificationRecords
type MockVerificationRecords struct {
	mock.Mock
}

func (m *MockVerificationRecords) FindByPlatformUser(ctx context.Context, platformUserID string) (*link.VerificationRecord, error) {
	args := m.Called(ctx, platformUserID)
	record, _ := args.Get(0).(*link.VerificationRecord)
	return record, args.Error(1)
}

func (m *MockVerificationRecords) Save(ctx context.Context, record *link.VerificationRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// MockActivitySink implements link.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event link.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
