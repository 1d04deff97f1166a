package link

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

const stateCookieName = "link-oauth-state"

// LinkControllerRoutes holds the route paths, relative to the group the
// controller is registered on.
type LinkControllerRoutes struct {
	Status   string
	Start    string
	Callback string
	Submit   string
	Retry    string
	Notify   string
	Logout   string
}

// LinkControllerViews holds the view names rendered on form flows.
type LinkControllerViews struct {
	Link string
}

// LinkController exposes the identity-linking flow over HTTP.
type LinkController struct {
	Debug        bool
	Logger       Logger
	Machine      *LinkMachine
	Provider     PlatformProvider
	Cookies      *SessionCookies
	Admin        *AdminResolver
	Routes       *LinkControllerRoutes
	Views        *LinkControllerViews
	ReturnURL    string
	CookieSecure bool
	ErrorHandler router.ErrorHandler
}

type LinkControllerOption func(*LinkController) *LinkController

func NewLinkController(opts ...LinkControllerOption) *LinkController {
	c := &LinkController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		ReturnURL:    "/",
		Routes: &LinkControllerRoutes{
			Status:   "/status",
			Start:    "/start",
			Callback: "/callback",
			Submit:   "/submit",
			Retry:    "/retry",
			Notify:   "/notify/retry",
			Logout:   "/logout",
		},
		Views: &LinkControllerViews{
			Link: "link",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Machine == nil {
		panic("Missing LinkMachine in link controller...")
	}

	if c.Provider == nil {
		panic("Missing PlatformProvider in link controller...")
	}

	if c.Cookies == nil {
		c.Cookies = NewSessionCookies(c.CookieSecure)
	}

	return c
}

func WithControllerMachine(m *LinkMachine) LinkControllerOption {
	return func(c *LinkController) *LinkController {
		c.Machine = m
		return c
	}
}

func WithControllerProvider(p PlatformProvider) LinkControllerOption {
	return func(c *LinkController) *LinkController {
		c.Provider = p
		return c
	}
}

func WithControllerCookies(s *SessionCookies) LinkControllerOption {
	return func(c *LinkController) *LinkController {
		c.Cookies = s
		return c
	}
}

func WithControllerAdmin(a *AdminResolver) LinkControllerOption {
	return func(c *LinkController) *LinkController {
		c.Admin = a
		return c
	}
}

func WithControllerReturnURL(returnURL string) LinkControllerOption {
	return func(c *LinkController) *LinkController {
		if returnURL != "" {
			c.ReturnURL = returnURL
		}
		return c
	}
}

func WithControllerLogger(logger Logger) LinkControllerOption {
	return func(c *LinkController) *LinkController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// RegisterLinkRoutes wires the controller onto a route group.
func RegisterLinkRoutes(group RouteRegistrar, opts ...LinkControllerOption) *LinkController {
	controller := NewLinkController(opts...)

	group.Get(controller.Routes.Status, controller.Status)
	group.Get(controller.Routes.Start, controller.Start)
	group.Get(controller.Routes.Callback, controller.Callback)
	group.Post(controller.Routes.Submit, controller.Submit)
	group.Post(controller.Routes.Retry, controller.Retry)
	group.Post(controller.Routes.Notify, controller.RetryNotification)
	group.Get(controller.Routes.Logout, controller.Logout)

	return controller
}

// Status reports the flow snapshot plus the admin decision for the current
// session.
func (c *LinkController) Status(ctx router.Context) error {
	status := c.Machine.Status()

	response := map[string]any{
		"state":  status.State,
		"record": status.Record,
	}
	if status.FailureReason != "" {
		response["failure_reason"] = status.FailureReason
	}
	if status.NotifyWarning != "" {
		response["notify_warning"] = status.NotifyWarning
	}
	if c.Admin != nil {
		response["admin"] = c.Admin.IsAdmin(ctx.Context())
		response["admin_source"] = c.Admin.Decide(ctx.Context())
	}

	if c.Debug {
		fmt.Println("======= LINK STATUS ======")
		fmt.Println(print.MaybePrettyJSON(response))
		fmt.Println("==========================")
	}

	return ctx.JSON(router.StatusOK, response)
}

// Start redirects to the provider's authorization page.
func (c *LinkController) Start(ctx router.Context) error {
	state, err := randomState()
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	ctx.Cookie(&router.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HTTPOnly: true,
		Secure:   c.CookieSecure,
		SameSite: "Lax",
	})

	c.Machine.Start(ctx.Context())

	return ctx.Redirect(c.Provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// Callback finishes the OAuth flow: exchanges the code, stores the session
// and flushes the session cookies onto the response.
func (c *LinkController) Callback(ctx router.Context) error {
	if errCode := ctx.Query("error"); errCode != "" {
		redirectURL := appendQueryParam(c.ReturnURL, "oauth_error", errCode)
		if desc := ctx.Query("error_description"); desc != "" {
			redirectURL = appendQueryParam(redirectURL, "desc", desc)
		}
		return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
	}

	code := ctx.Query("code")
	state := ctx.Query("state")
	if code == "" || state == "" {
		return ctx.Redirect(appendQueryParam(c.ReturnURL, "error", "missing_params"), http.StatusTemporaryRedirect)
	}

	if stored := ctx.Cookies(stateCookieName); stored == "" || stored != state {
		return ctx.Redirect(appendQueryParam(c.ReturnURL, "error", "state_mismatch"), http.StatusTemporaryRedirect)
	}
	c.clearStateCookie(ctx)

	// the code itself is a detection signal: another tab or an embedding
	// host may have landed the session before this exchange runs
	c.Machine.HandleCallbackHint(url.Values{"code": {code}})

	session, err := c.Provider.Exchange(ctx.Context(), code)
	if err != nil {
		c.Logger.Error("oauth exchange failed: %v", err)
		return ctx.Redirect(appendQueryParam(c.ReturnURL, "error", "exchange_failed"), http.StatusTemporaryRedirect)
	}

	c.Machine.CompleteLogin(session)
	c.Cookies.WriteTo(ctx)

	return ctx.Redirect(c.ReturnURL, http.StatusTemporaryRedirect)
}

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// SubmitPayload is the claimed identity form payload.
type SubmitPayload struct {
	Identity string `form:"identity" json:"identity"`
}

// Validate will run validation rules
func (r SubmitPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identity,
			validation.Required,
			validation.Length(3, 32),
			validation.Match(identityPattern),
		),
	)
}

// Submit runs a claimed identity through verification.
func (c *LinkController) Submit(ctx router.Context) error {
	payload := new(SubmitPayload)
	errs := map[string]string{}

	if err := ctx.Bind(payload); err != nil {
		errs["form"] = "Failed to parse form"
		c.Logger.Error("submit parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(c.Views.Link, router.ViewContext{
			"errors": errs,
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		c.Logger.Error("submit validate payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Status(fiber.StatusBadRequest).Render(c.Views.Link, router.ViewContext{
			"record":     payload,
			"validation": formatValidationErrors(err),
		})
	}

	if c.Debug {
		fmt.Println("======= LINK SUBMIT ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("==========================")
	}

	status, err := c.Machine.Submit(ctx.Context(), payload.Identity)
	if err != nil {
		c.Logger.Error("submit error: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  UserMessage(err),
			"system_message": "Identity verification failed",
		}).Status(errorStatus(err)).Render(c.Views.Link, router.ViewContext{
			"record": payload,
			"state":  status.State,
			"errors": map[string]string{"verification": UserMessage(err)},
		})
	}

	vc := router.ViewContext{
		"system_message": "Identity verified and role granted",
	}
	if status.NotifyWarning != "" {
		vc["warning_message"] = status.NotifyWarning
	}

	return flash.WithSuccess(ctx, vc).Redirect(c.ReturnURL, fiber.StatusSeeOther)
}

// Retry returns a failed flow to the submission form.
func (c *LinkController) Retry(ctx router.Context) error {
	if err := c.Machine.Retry(ctx.Context()); err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  UserMessage(err),
			"system_message": "Cannot retry from the current state",
		}).Status(fiber.StatusConflict).Render(c.Views.Link, router.ViewContext{
			"state": c.Machine.State(),
		})
	}
	return ctx.Redirect(c.ReturnURL, http.StatusSeeOther)
}

// RetryNotification re-sends the completion notification.
func (c *LinkController) RetryNotification(ctx router.Context) error {
	if err := c.Machine.RetryNotification(ctx.Context()); err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  UserMessage(err),
			"system_message": "Notification retry failed",
		}).Status(errorStatus(err)).Render(c.Views.Link, router.ViewContext{
			"state": c.Machine.State(),
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Notification sent",
	}).Redirect(c.ReturnURL, fiber.StatusSeeOther)
}

// Logout clears the session; the synchronizer wipes the durable mirror and
// queues the cookie deletes flushed here.
func (c *LinkController) Logout(ctx router.Context) error {
	c.Machine.SignOut(ctx.Context())
	c.Cookies.WriteTo(ctx)
	return ctx.Redirect(c.ReturnURL, http.StatusTemporaryRedirect)
}

func (c *LinkController) clearStateCookie(ctx router.Context) {
	ctx.Cookie(&router.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   c.CookieSecure,
		SameSite: "Lax",
	})
}

// errorStatus maps the verification error taxonomy onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case IsNotAuthenticated(err):
		return fiber.StatusUnauthorized
	case IsIdentityNotFound(err):
		return fiber.StatusNotFound
	case IsRejected(err):
		return fiber.StatusForbidden
	case IsTransient(err):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func formatValidationErrors(err error) map[string]string {
	out := map[string]string{}
	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}
	if err != nil {
		out["validation"] = err.Error()
	}
	return out
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}
