package link

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/goliatone/go-featuregate/gate"
)

// LinkState enumerates the user-visible stages of the identity-linking flow.
type LinkState string

const (
	StateNotAuthenticated   LinkState = "not_authenticated"
	StatePlatformLinked     LinkState = "platform_linked"
	StateAwaitingSubmission LinkState = "awaiting_submission"
	StateVerifying          LinkState = "verifying"
	StateCompleted          LinkState = "completed"
	StateFailed             LinkState = "failed"
)

// linkTransitions is the allowed transition table. Sign-out (any state back
// to NotAuthenticated) is handled separately. Completed has no outgoing
// entries: the flow never regresses except via sign-out or identity
// mismatch.
var linkTransitions = map[LinkState]map[LinkState]struct{}{
	StateNotAuthenticated: {
		StatePlatformLinked: {},
	},
	StatePlatformLinked: {
		StateAwaitingSubmission: {},
		StateVerifying:          {},
	},
	StateAwaitingSubmission: {
		StateVerifying: {},
	},
	StateVerifying: {
		StateAwaitingSubmission: {},
		StateVerifying:          {},
		StateCompleted:          {},
		StateFailed:             {},
	},
	StateFailed: {
		StateAwaitingSubmission: {},
	},
	StateCompleted: {},
}

// defaultRecheckDelays bounds the session detection schedule: an immediate
// check plus these delays, then the detector gives up. Replaces unbounded
// polling timers with a fixed retry budget.
var defaultRecheckDelays = []time.Duration{
	250 * time.Millisecond,
	time.Second,
	3 * time.Second,
}

const defaultRetryBackoff = 500 * time.Millisecond

// LinkStatus is a point-in-time snapshot of the flow for UI consumers.
type LinkStatus struct {
	State         LinkState           `json:"state"`
	FailureReason string              `json:"failure_reason,omitempty"`
	Record        *VerificationRecord `json:"record,omitempty"`
	NotifyWarning string              `json:"notify_warning,omitempty"`
}

// LinkMachine orchestrates the identity-linking flow: provider login
// detection, claimed-identity submission, verification, role grant and
// completion notification.
//
// Login detection converges from three independent signals — the session
// store subscription, a bounded re-check schedule, and the callback token
// hint — onto one idempotent transition function, so duplicate firing is
// harmless.
type LinkMachine struct {
	mu sync.Mutex

	state         LinkState
	failure       string
	identity      Identity
	record        *VerificationRecord
	notifyWarning string

	sessions *SessionStore
	verifier VerificationClient
	records  VerificationRecords

	gates        gate.FeatureGate
	sink         ActivitySink
	logger       Logger
	now          func() time.Time
	delays       []time.Duration
	retryBackoff time.Duration

	unsub        func()
	cancelDetect context.CancelFunc
}

// LinkMachineOption customizes machine construction.
type LinkMachineOption func(*LinkMachine)

// WithMachineClock injects a custom clock (useful for tests).
func WithMachineClock(clock func() time.Time) LinkMachineOption {
	return func(m *LinkMachine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithMachineLogger overrides the machine logger.
func WithMachineLogger(logger Logger) LinkMachineOption {
	return func(m *LinkMachine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMachineActivitySink sets the ActivitySink used to publish link events.
func WithMachineActivitySink(sink ActivitySink) LinkMachineOption {
	return func(m *LinkMachine) {
		m.sink = normalizeActivitySink(sink)
	}
}

// WithRecheckDelays overrides the bounded detection schedule.
func WithRecheckDelays(delays ...time.Duration) LinkMachineOption {
	return func(m *LinkMachine) {
		if len(delays) > 0 {
			m.delays = delays
		}
	}
}

// WithRetryBackoff overrides the pause before the single transient retry.
func WithRetryBackoff(backoff time.Duration) LinkMachineOption {
	return func(m *LinkMachine) {
		if backoff > 0 {
			m.retryBackoff = backoff
		}
	}
}

// WithFeatureGate enables runtime gating of submission and notification.
func WithFeatureGate(fg gate.FeatureGate) LinkMachineOption {
	return func(m *LinkMachine) {
		m.gates = fg
	}
}

// NewLinkMachine returns a machine in StateNotAuthenticated. Call Start to
// attach detection.
func NewLinkMachine(sessions *SessionStore, verifier VerificationClient, records VerificationRecords, opts ...LinkMachineOption) *LinkMachine {
	m := &LinkMachine{
		state:        StateNotAuthenticated,
		sessions:     sessions,
		verifier:     verifier,
		records:      records,
		sink:         noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
		delays:       defaultRecheckDelays,
		retryBackoff: defaultRetryBackoff,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Start subscribes to session changes and launches the bounded re-check
// detector. Safe to call once per flow visit.
func (m *LinkMachine) Start(ctx context.Context) {
	m.mu.Lock()
	if m.unsub == nil {
		m.unsub = m.sessions.Subscribe(m.onSessionChange)
	}
	if m.cancelDetect == nil && m.state == StateNotAuthenticated {
		dctx, cancel := context.WithCancel(ctx)
		m.cancelDetect = cancel
		go m.runDetector(dctx)
	}
	m.mu.Unlock()
}

// Close cancels the detection timers and detaches from the session store.
// In-flight verification or grant calls are not cancelled: role grants must
// complete even when the UI goes away.
func (m *LinkMachine) Close() {
	m.mu.Lock()
	cancel := m.cancelDetect
	m.cancelDetect = nil
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
}

// State returns the current link state.
func (m *LinkMachine) State() LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot for UI consumption.
func (m *LinkMachine) Status() LinkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := LinkStatus{
		State:         m.state,
		FailureReason: m.failure,
		NotifyWarning: m.notifyWarning,
	}
	if m.record != nil {
		clone := *m.record
		status.Record = &clone
	}
	return status
}

// DismissNotifyWarning clears the pending notification warning.
func (m *LinkMachine) DismissNotifyWarning() {
	m.mu.Lock()
	m.notifyWarning = ""
	m.mu.Unlock()
}

// HandleCallbackHint inspects the callback navigation's query parameters
// for provider tokens or an exchange code. A hit triggers an immediate
// session check instead of waiting out the re-check schedule.
func (m *LinkMachine) HandleCallbackHint(query url.Values) bool {
	if query.Get("access_token") == "" && query.Get("code") == "" {
		return false
	}
	return m.observe(m.sessions.Current())
}

// CompleteLogin stores the exchanged session and advances detection. The
// store dispatch also reaches the machine through its subscription; the
// duplicate observation is a no-op.
func (m *LinkMachine) CompleteLogin(session *Session) LinkState {
	m.sessions.Set(session)
	m.observe(session)
	return m.State()
}

// Submit drives a claimed identity through verification and role grant.
// Valid from PlatformLinked, AwaitingSubmission and — for the retryable
// transient path, which leaves state unchanged — Verifying.
func (m *LinkMachine) Submit(ctx context.Context, claimedIdentity string) (LinkStatus, error) {
	if err := requireLinkGate(ctx, m.gates, FeatureLinkSubmit, ErrLinkingDisabled); err != nil {
		return m.Status(), err
	}

	m.mu.Lock()
	session := m.sessions.Current()
	if session == nil || session.Expired(m.now()) {
		m.resetLocked()
		m.mu.Unlock()
		return m.Status(), ErrNotAuthenticated
	}

	from := m.state
	if !canTransition(from, StateVerifying) {
		m.mu.Unlock()
		return m.Status(), ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   StateVerifying,
		})
	}
	m.state = StateVerifying
	m.failure = ""
	identity := m.identity
	m.mu.Unlock()

	m.recordStateChange(ctx, from, StateVerifying, claimedIdentity)

	exists, err := m.callVerify(ctx, VerifyRequest{
		ClaimedIdentity:  claimedIdentity,
		PlatformUserID:   identity.ProviderUserID,
		PlatformUsername: identity.DisplayName,
	})
	if err != nil {
		return m.Status(), m.handleVerifyError(ctx, err, claimedIdentity)
	}

	if !exists {
		// record unchanged; the user resubmits
		m.transition(ctx, StateVerifying, StateAwaitingSubmission, claimedIdentity)
		return m.Status(), ErrIdentityNotFound.Clone().WithMetadata(map[string]any{
			"claimed_identity": claimedIdentity,
		})
	}

	record, err := m.ensureRecord(ctx, identity.ProviderUserID, claimedIdentity)
	if err != nil {
		m.logger.Error("verification record lookup failed: %v", err)
		record = NewVerificationRecord(identity.ProviderUserID, claimedIdentity)
	}

	if !record.RoleGranted {
		if err := m.grantRole(ctx, record, claimedIdentity); err != nil {
			return m.Status(), err
		}
	}

	if m.complete(record) {
		m.recordStateChange(ctx, StateVerifying, StateCompleted, claimedIdentity)

		if err := m.sendNotification(ctx, record); err != nil {
			m.logger.Info("completion notification failed: %v", err)
		}
	}

	return m.Status(), nil
}

// Retry returns a failed submission to AwaitingSubmission.
func (m *LinkMachine) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateFailed {
		state := m.state
		m.mu.Unlock()
		return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": state,
			"to":   StateAwaitingSubmission,
		})
	}
	m.state = StateAwaitingSubmission
	m.failure = ""
	m.mu.Unlock()

	m.recordStateChange(ctx, StateFailed, StateAwaitingSubmission, "")
	return nil
}

// BeginSubmission moves a freshly linked flow to AwaitingSubmission when
// the submission UI mounts. Idempotent: a no-op when already there.
func (m *LinkMachine) BeginSubmission(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateAwaitingSubmission {
		m.mu.Unlock()
		return nil
	}
	if !canTransition(m.state, StateAwaitingSubmission) {
		state := m.state
		m.mu.Unlock()
		return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": state,
			"to":   StateAwaitingSubmission,
		})
	}
	from := m.state
	m.state = StateAwaitingSubmission
	m.mu.Unlock()

	m.recordStateChange(ctx, from, StateAwaitingSubmission, "")
	return nil
}

// RetryNotification re-attempts the best-effort completion notification.
func (m *LinkMachine) RetryNotification(ctx context.Context) error {
	m.mu.Lock()
	state := m.state
	record := m.record
	m.mu.Unlock()

	if state != StateCompleted || record == nil {
		return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from":   state,
			"reason": "notification retry requires a completed flow",
		})
	}
	return m.sendNotification(ctx, record)
}

// SignOut clears the session (the synchronizer wipes cookies and the
// durable mirror) and resets the flow.
func (m *LinkMachine) SignOut(ctx context.Context) {
	m.mu.Lock()
	from := m.state
	identity := m.identity
	m.mu.Unlock()

	m.sessions.Clear()
	m.reset()

	m.recordActivity(ctx, ActivityEvent{
		EventType:      ActivityEventSignOut,
		PlatformUserID: identity.ProviderUserID,
		FromState:      from,
		ToState:        StateNotAuthenticated,
	})
}

// observe is the single idempotent transition function all three detection
// signals converge on. It is a no-op when the machine is already past
// PlatformLinked with the same identity; a different identity resets the
// flow.
func (m *LinkMachine) observe(session *Session) bool {
	if session == nil {
		return false
	}

	m.mu.Lock()
	if m.state != StateNotAuthenticated {
		if session.Identity.ProviderUserID != m.identity.ProviderUserID {
			from := m.state
			m.resetLocked()
			m.mu.Unlock()
			m.recordActivity(context.Background(), ActivityEvent{
				EventType:      ActivityEventIdentityMismatch,
				PlatformUserID: session.Identity.ProviderUserID,
				FromState:      from,
				ToState:        StateNotAuthenticated,
			})
			return false
		}
		m.mu.Unlock()
		return true
	}

	if session.Expired(m.now()) {
		m.mu.Unlock()
		return false
	}

	m.identity = session.Identity
	m.state = StatePlatformLinked
	cancel := m.cancelDetect
	m.cancelDetect = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.recordActivity(context.Background(), ActivityEvent{
		EventType:      ActivityEventSessionDetected,
		PlatformUserID: session.Identity.ProviderUserID,
		FromState:      StateNotAuthenticated,
		ToState:        StatePlatformLinked,
	})
	return true
}

func (m *LinkMachine) onSessionChange(session *Session) {
	if session == nil {
		m.reset()
		return
	}
	m.observe(session)
}

func (m *LinkMachine) runDetector(ctx context.Context) {
	if m.observe(m.sessions.Current()) {
		return
	}
	for _, delay := range m.delays {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if m.observe(m.sessions.Current()) {
			return
		}
	}
	m.logger.Debug("session detection budget exhausted")
}

// callVerify is safe to retry unconditionally; transient failures get the
// single allowed retry with backoff.
func (m *LinkMachine) callVerify(ctx context.Context, req VerifyRequest) (bool, error) {
	exists, err := m.verifier.VerifyIdentity(ctx, req)
	if err != nil && IsTransient(err) {
		time.Sleep(m.retryBackoff)
		exists, err = m.verifier.VerifyIdentity(ctx, req)
	}
	return exists, err
}

// grantRole performs the security-sensitive role grant. Only transport
// level failures are retried, exactly once; a definitive failure response
// is terminal for the submission. The call is detached from the caller's
// cancellation so a navigation away cannot abort a grant in flight.
func (m *LinkMachine) grantRole(ctx context.Context, record *VerificationRecord, claimedIdentity string) error {
	effCtx := context.WithoutCancel(ctx)

	req := GrantRequest{
		PlatformUserID:  record.PlatformUserID,
		ClaimedIdentity: record.ClaimedIdentity,
	}

	granted, err := m.verifier.AssignRole(effCtx, req)
	if err != nil && IsTransient(err) {
		time.Sleep(m.retryBackoff)
		granted, err = m.verifier.AssignRole(effCtx, req)
	}

	if err == nil && granted {
		now := m.now()
		record.VerifiedAt = &now
		record.RoleGranted = true
		if saveErr := m.records.Save(effCtx, record); saveErr != nil {
			// the grant happened; losing the record only risks a
			// redundant (idempotent) grant on remount
			m.logger.Error("verification record save failed: %v", saveErr)
		}
		m.recordActivity(ctx, ActivityEvent{
			EventType:       ActivityEventRoleGranted,
			PlatformUserID:  record.PlatformUserID,
			ClaimedIdentity: record.ClaimedIdentity,
			FromState:       StateVerifying,
			ToState:         StateVerifying,
		})
		return nil
	}

	if err == nil {
		err = ErrRejected.Clone().WithMetadata(map[string]any{
			"reason": "grant response reported no success",
		})
	}

	switch {
	case IsNotAuthenticated(err):
		m.reset()
		return err
	case IsTransient(err):
		// state unchanged; surfaced as a dismissible, retryable error
		return err
	default:
		m.transition(ctx, StateVerifying, StateFailed, claimedIdentity)
		m.mu.Lock()
		m.failure = UserMessage(err)
		m.mu.Unlock()
		return err
	}
}

func (m *LinkMachine) handleVerifyError(ctx context.Context, err error, claimedIdentity string) error {
	switch {
	case IsNotAuthenticated(err):
		m.reset()
		return err
	case IsTransient(err):
		return err
	case IsIdentityNotFound(err):
		m.transition(ctx, StateVerifying, StateAwaitingSubmission, claimedIdentity)
		return err
	default:
		m.transition(ctx, StateVerifying, StateFailed, claimedIdentity)
		m.mu.Lock()
		m.failure = UserMessage(err)
		m.mu.Unlock()
		return err
	}
}

// sendNotification is best-effort: failure surfaces as a dismissible
// warning with a manual retry, never blocking completion.
func (m *LinkMachine) sendNotification(ctx context.Context, record *VerificationRecord) error {
	if record.NotificationSent {
		return nil
	}
	if err := requireLinkGate(ctx, m.gates, FeatureLinkNotify, ErrLinkingDisabled); err != nil {
		m.setNotifyWarning(UserMessage(err))
		return err
	}

	effCtx := context.WithoutCancel(ctx)
	sent, err := m.verifier.Notify(effCtx, NotifyRequest{
		PlatformUserID:  record.PlatformUserID,
		ClaimedIdentity: record.ClaimedIdentity,
	})
	if err != nil || !sent {
		m.setNotifyWarning("We could not send your welcome notification. You can retry from the linking page.")
		m.recordActivity(ctx, ActivityEvent{
			EventType:       ActivityEventNotificationFailed,
			PlatformUserID:  record.PlatformUserID,
			ClaimedIdentity: record.ClaimedIdentity,
		})
		if err == nil {
			err = ErrTransient.Clone().WithMetadata(map[string]any{
				"reason": "notify response reported no success",
			})
		}
		return err
	}

	record.NotificationSent = true
	if saveErr := m.records.Save(effCtx, record); saveErr != nil {
		m.logger.Error("verification record save failed: %v", saveErr)
	}

	m.mu.Lock()
	m.notifyWarning = ""
	if m.record != nil && m.record.ID == record.ID {
		m.record.NotificationSent = true
	}
	m.mu.Unlock()

	m.recordActivity(ctx, ActivityEvent{
		EventType:       ActivityEventNotificationSent,
		PlatformUserID:  record.PlatformUserID,
		ClaimedIdentity: record.ClaimedIdentity,
	})
	return nil
}

// ensureRecord loads a persisted record for the platform user, reusing it
// when it matches the claimed identity; a grant already recorded there
// keeps a remount of the flow from re-triggering side effects.
func (m *LinkMachine) ensureRecord(ctx context.Context, platformUserID, claimedIdentity string) (*VerificationRecord, error) {
	existing, err := m.records.FindByPlatformUser(ctx, platformUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ClaimedIdentity == claimedIdentity {
		return existing, nil
	}
	return NewVerificationRecord(platformUserID, claimedIdentity), nil
}

func (m *LinkMachine) complete(record *VerificationRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateVerifying {
		// signed out or reset while the grant was in flight; the grant
		// completed but the flow stays where the reset put it
		m.logger.Info("grant finished after state change, state stays %s", m.state)
		return false
	}
	m.record = record
	m.state = StateCompleted
	m.failure = ""
	return true
}

func (m *LinkMachine) transition(ctx context.Context, from, to LinkState, claimedIdentity string) {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	m.recordStateChange(ctx, from, to, claimedIdentity)
}

func (m *LinkMachine) reset() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
}

// resetLocked drops the flow back to NotAuthenticated and cancels any
// pending detection timers so nothing fires after the flow is gone.
func (m *LinkMachine) resetLocked() {
	m.state = StateNotAuthenticated
	m.failure = ""
	m.identity = Identity{}
	m.record = nil
	m.notifyWarning = ""

	if m.cancelDetect != nil {
		cancel := m.cancelDetect
		m.cancelDetect = nil
		go cancel()
	}
}

func (m *LinkMachine) setNotifyWarning(msg string) {
	m.mu.Lock()
	m.notifyWarning = msg
	m.mu.Unlock()
}

func (m *LinkMachine) recordStateChange(ctx context.Context, from, to LinkState, claimedIdentity string) {
	m.mu.Lock()
	identity := m.identity
	m.mu.Unlock()

	m.recordActivity(ctx, ActivityEvent{
		EventType:       ActivityEventStateChanged,
		PlatformUserID:  identity.ProviderUserID,
		ClaimedIdentity: claimedIdentity,
		FromState:       from,
		ToState:         to,
	})
}

func (m *LinkMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}

	sink := normalizeActivitySink(m.sink)
	if err := sink.Record(ctx, event); err != nil {
		m.logger.Info("link activity sink error: %v", err)
	}
}

func canTransition(from, to LinkState) bool {
	if allowed, ok := linkTransitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}
