package link_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-link"
)

type captureLogger struct {
	lines []string
}

func (l *captureLogger) logf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *captureLogger) Debug(format string, args ...any) { l.logf(format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.logf(format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.logf(format, args...) }

type stubProvider struct {
	session   *link.Session
	err       error
	exchanges int
}

func (p *stubProvider) Name() string { return "discord" }

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (p *stubProvider) Exchange(ctx context.Context, code string) (*link.Session, error) {
	p.exchanges++
	if p.err != nil {
		return nil, p.err
	}
	return p.session, nil
}

func newTestLinkController(machine *link.LinkMachine, provider link.PlatformProvider, logger link.Logger) *link.LinkController {
	return link.NewLinkController(
		link.WithControllerMachine(machine),
		link.WithControllerProvider(provider),
		link.WithControllerLogger(logger),
	)
}

func TestLinkController_SubmitParseFailureRendersFormError(t *testing.T) {
	machine, _ := newTestMachine(t, &MockVerificationClient{}, &MockVerificationRecords{})
	logger := &captureLogger{}
	ctrl := newTestLinkController(machine, &stubProvider{}, logger)

	ctx := router.NewMockContext()
	ctx.On("Bind", mock.Anything).Return(fmt.Errorf("malformed body"))
	ctx.On("Cookie", mock.Anything).Return()
	ctx.On("Locals", mock.Anything, mock.Anything).Return(nil)
	ctx.On("Status", fiber.StatusBadRequest).Return()
	ctx.On("Render", ctrl.Views.Link, mock.Anything).Return(nil)

	err := ctrl.Submit(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)

	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], "submit parse payload")
	assert.Contains(t, logger.lines[0], "malformed body")
	assert.NotContains(t, logger.lines[0], "%!")
}

func TestLinkController_SubmitRejectsMalformedIdentity(t *testing.T) {
	machine, _ := newTestMachine(t, &MockVerificationClient{}, &MockVerificationRecords{})
	logger := &captureLogger{}
	ctrl := newTestLinkController(machine, &stubProvider{}, logger)

	ctx := router.NewMockContext()
	ctx.On("Bind", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		payload := args.Get(0).(*link.SubmitPayload)
		payload.Identity = "ab"
	})
	ctx.On("Cookie", mock.Anything).Return()
	ctx.On("Locals", mock.Anything, mock.Anything).Return(nil)
	ctx.On("Status", fiber.StatusBadRequest).Return()
	ctx.On("Render", ctrl.Views.Link, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		vc, ok := args.Get(1).(router.ViewContext)
		require.True(t, ok, "expected router.ViewContext")
		require.Contains(t, vc, "validation")
	})

	err := ctrl.Submit(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)

	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], "submit validate payload")
	assert.NotContains(t, logger.lines[0], "%!")
}

func TestLinkController_SubmitSurfacesVerificationFailure(t *testing.T) {
	verifier := &MockVerificationClient{}
	verifier.On("VerifyIdentity", mock.Anything, mock.Anything).Return(false, nil)

	machine, _ := newTestMachine(t, verifier, &MockVerificationRecords{})
	machine.CompleteLogin(makeSession("55", time.Now().Add(time.Hour)))

	logger := &captureLogger{}
	ctrl := newTestLinkController(machine, &stubProvider{}, logger)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("Bind", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		payload := args.Get(0).(*link.SubmitPayload)
		payload.Identity = "ghost_user"
	})
	ctx.On("Cookie", mock.Anything).Return()
	ctx.On("Locals", mock.Anything, mock.Anything).Return(nil)
	ctx.On("Status", fiber.StatusNotFound).Return()
	ctx.On("Render", ctrl.Views.Link, mock.Anything).Return(nil)

	err := ctrl.Submit(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)
	assert.Equal(t, link.StateAwaitingSubmission, machine.State())

	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], "submit error")
	assert.NotContains(t, logger.lines[0], "%!")
}

func TestLinkController_CallbackCompletesLogin(t *testing.T) {
	machine, sessions := newTestMachine(t, &MockVerificationClient{}, &MockVerificationRecords{})
	provider := &stubProvider{session: makeSession("42", time.Now().Add(time.Hour))}
	ctrl := newTestLinkController(machine, provider, &captureLogger{})

	ctx := router.NewMockContext()
	ctx.QueriesM["code"] = "abc"
	ctx.QueriesM["state"] = "s1"
	ctx.CookiesM["link-oauth-state"] = "s1"
	ctx.On("Context").Return(context.Background())
	ctx.On("Cookie", mock.Anything).Return()
	ctx.On("Redirect", ctrl.ReturnURL, mock.Anything).Return(nil)

	err := ctrl.Callback(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)

	assert.Equal(t, 1, provider.exchanges)
	assert.Equal(t, link.StatePlatformLinked, machine.State())
	require.NotNil(t, sessions.Current())
}

func TestLinkController_CallbackDetectsSessionBeforeExchange(t *testing.T) {
	machine, sessions := newTestMachine(t, &MockVerificationClient{}, &MockVerificationRecords{})

	// another tab already landed the session; the callback picks it up
	// even though its own exchange fails
	sessions.Set(makeSession("77", time.Now().Add(time.Hour)))
	require.Equal(t, link.StateNotAuthenticated, machine.State())

	provider := &stubProvider{err: fmt.Errorf("token endpoint down")}
	ctrl := newTestLinkController(machine, provider, &captureLogger{})

	ctx := router.NewMockContext()
	ctx.QueriesM["code"] = "abc"
	ctx.QueriesM["state"] = "s1"
	ctx.CookiesM["link-oauth-state"] = "s1"
	ctx.On("Context").Return(context.Background())
	ctx.On("Cookie", mock.Anything).Return()
	ctx.On("Redirect", "/?error=exchange_failed", mock.Anything).Return(nil)

	err := ctrl.Callback(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)

	assert.Equal(t, 1, provider.exchanges)
	assert.Equal(t, link.StatePlatformLinked, machine.State())
}

func TestLinkController_CallbackRejectsStateMismatch(t *testing.T) {
	machine, _ := newTestMachine(t, &MockVerificationClient{}, &MockVerificationRecords{})
	provider := &stubProvider{}
	ctrl := newTestLinkController(machine, provider, &captureLogger{})

	ctx := router.NewMockContext()
	ctx.QueriesM["code"] = "abc"
	ctx.QueriesM["state"] = "s1"
	ctx.CookiesM["link-oauth-state"] = "something-else"
	ctx.On("Redirect", "/?error=state_mismatch", mock.Anything).Return(nil)

	err := ctrl.Callback(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)

	assert.Zero(t, provider.exchanges)
	assert.Equal(t, link.StateNotAuthenticated, machine.State())
}
