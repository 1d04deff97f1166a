package link

import (
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// VerificationRecord tracks one claimed-identity submission through the
// grant and notification side effects. Once RoleGranted is true the record
// is immutable except for NotificationSent, which may be retried on its
// own: the role grant is security-critical and must not be repeated
// blindly, while the notification is best-effort.
type VerificationRecord struct {
	ID               uuid.UUID  `json:"id"`
	ClaimedIdentity  string     `json:"claimed_identity"`
	PlatformUserID   string     `json:"platform_user_id"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	RoleGranted      bool       `json:"role_granted"`
	NotificationSent bool       `json:"notification_sent"`
}

// NewVerificationRecord creates the record for a submission. The ID is
// derived deterministically from the platform user and claimed identity so
// a resubmission of the same pair maps onto the same record.
func NewVerificationRecord(platformUserID, claimedIdentity string) *VerificationRecord {
	record := &VerificationRecord{
		ClaimedIdentity: claimedIdentity,
		PlatformUserID:  platformUserID,
	}

	if id, err := hashid.NewUUID(platformUserID + ":" + claimedIdentity); err == nil {
		record.ID = id
	} else {
		record.ID = uuid.New()
	}

	return record
}
