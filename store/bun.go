// Package store persists the session mirror, the admin override flag and
// verification records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-link"
	repository "github.com/goliatone/go-repository-bun"
)

// SessionModel mirrors the active session as an opaque payload keyed by a
// single well-known row.
type SessionModel struct {
	bun.BaseModel `bun:"table:link_sessions"`

	Key       string    `bun:"key,pk"`
	Payload   []byte    `bun:"payload"`
	UpdatedAt time.Time `bun:"updated_at"`
}

// SettingModel holds small key/value flags such as the admin override.
type SettingModel struct {
	bun.BaseModel `bun:"table:link_settings"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value"`
}

// VerificationModel persists verification outcomes per platform user.
type VerificationModel struct {
	bun.BaseModel `bun:"table:link_verifications"`

	ID               uuid.UUID  `bun:"id,pk,type:uuid"`
	PlatformUserID   string     `bun:"platform_user_id,unique"`
	ClaimedIdentity  string     `bun:"claimed_identity"`
	VerifiedAt       *time.Time `bun:"verified_at"`
	RoleGranted      bool       `bun:"role_granted"`
	NotificationSent bool       `bun:"notification_sent"`
	UpdatedAt        time.Time  `bun:"updated_at"`
}

const (
	sessionKey  = "link:session"
	overrideKey = "link:admin-override"
)

// Schema statements for the three tables, applied by the host application.
const (
	SessionsSchema = `CREATE TABLE IF NOT EXISTS link_sessions (
	key TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`
	SettingsSchema = `CREATE TABLE IF NOT EXISTS link_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`
	VerificationsSchema = `CREATE TABLE IF NOT EXISTS link_verifications (
	id UUID PRIMARY KEY,
	platform_user_id TEXT NOT NULL UNIQUE,
	claimed_identity TEXT NOT NULL,
	verified_at TIMESTAMP,
	role_granted BOOLEAN NOT NULL DEFAULT FALSE,
	notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMP NOT NULL
)`
)

// BunStore implements link.DurableStore, link.OverrideStore and
// link.VerificationRecords on a bun database.
type BunStore struct {
	db  *bun.DB
	now func() time.Time
}

// BunStoreOption customizes store construction.
type BunStoreOption func(*BunStore)

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) BunStoreOption {
	return func(s *BunStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewBunStore wraps a bun database. Schema setup is the caller's concern;
// see the *Schema constants.
func NewBunStore(db *bun.DB, opts ...BunStoreOption) *BunStore {
	s := &BunStore{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Setup creates the backing tables.
func (s *BunStore) Setup(ctx context.Context) error {
	for _, schema := range []string{SessionsSchema, SettingsSchema, VerificationsSchema} {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func (s *BunStore) LoadSession(ctx context.Context) (*link.Session, error) {
	model := &SessionModel{}
	err := s.db.NewSelect().
		Model(model).
		Where("key = ?", sessionKey).
		Scan(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link.DecodeSession(model.Payload)
}

func (s *BunStore) SaveSession(ctx context.Context, session *link.Session) error {
	payload, err := link.EncodeSession(session)
	if err != nil {
		return err
	}

	model := &SessionModel{
		Key:       sessionKey,
		Payload:   payload,
		UpdatedAt: s.now(),
	}

	_, err = s.db.NewInsert().
		Model(model).
		On("CONFLICT (key) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *BunStore) DeleteSession(ctx context.Context) error {
	_, err := s.db.NewDelete().
		Model((*SessionModel)(nil)).
		Where("key = ?", sessionKey).
		Exec(ctx)
	return err
}

func (s *BunStore) AdminOverride(ctx context.Context) (bool, error) {
	model := &SettingModel{}
	err := s.db.NewSelect().
		Model(model).
		Where("key = ?", overrideKey).
		Scan(ctx)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return model.Value == "true", nil
}

func (s *BunStore) SetAdminOverride(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}

	model := &SettingModel{Key: overrideKey, Value: value}

	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

func (s *BunStore) ClearAdminOverride(ctx context.Context) error {
	_, err := s.db.NewDelete().
		Model((*SettingModel)(nil)).
		Where("key = ?", overrideKey).
		Exec(ctx)
	return err
}

func (s *BunStore) FindByPlatformUser(ctx context.Context, platformUserID string) (*link.VerificationRecord, error) {
	model := &VerificationModel{}
	err := s.db.NewSelect().
		Model(model).
		Where("platform_user_id = ?", platformUserID).
		Scan(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &link.VerificationRecord{
		ID:               model.ID,
		PlatformUserID:   model.PlatformUserID,
		ClaimedIdentity:  model.ClaimedIdentity,
		VerifiedAt:       model.VerifiedAt,
		RoleGranted:      model.RoleGranted,
		NotificationSent: model.NotificationSent,
	}, nil
}

func (s *BunStore) Save(ctx context.Context, record *link.VerificationRecord) error {
	model := &VerificationModel{
		ID:               record.ID,
		PlatformUserID:   record.PlatformUserID,
		ClaimedIdentity:  record.ClaimedIdentity,
		VerifiedAt:       record.VerifiedAt,
		RoleGranted:      record.RoleGranted,
		NotificationSent: record.NotificationSent,
		UpdatedAt:        s.now(),
	}

	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (platform_user_id) DO UPDATE").
		Set("claimed_identity = EXCLUDED.claimed_identity").
		Set("verified_at = EXCLUDED.verified_at").
		Set("role_granted = EXCLUDED.role_granted").
		Set("notification_sent = EXCLUDED.notification_sent").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows)
}
