package link

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventStateChanged       ActivityEventType = "link.state.changed"
	ActivityEventSessionDetected    ActivityEventType = "link.session.detected"
	ActivityEventIdentityMismatch   ActivityEventType = "link.identity.mismatch"
	ActivityEventRoleGranted        ActivityEventType = "link.role.granted"
	ActivityEventNotificationSent   ActivityEventType = "link.notification.sent"
	ActivityEventNotificationFailed ActivityEventType = "link.notification.failed"
	ActivityEventSignOut            ActivityEventType = "link.sign_out"
)

// ActivityEvent captures audit-friendly information about a linking action.
type ActivityEvent struct {
	EventType       ActivityEventType
	PlatformUserID  string
	ClaimedIdentity string
	FromState       LinkState
	ToState         LinkState
	Metadata        map[string]any
	OccurredAt      time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
