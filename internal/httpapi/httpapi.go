// Package httpapi serves goGuard.Engine over JSON/HTTP with echo.
package httpapi

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// AdminTokenHeader authenticates the /admin routes.
const AdminTokenHeader = "X-Admin-Token"

// Options configures the routes.
type Options struct {
	TrustProxy bool
	// AdminToken enables /admin when set.
	AdminToken string
	// AuditRetention is the cutoff used by POST /admin/audit/cleanup.
	AuditRetention time.Duration
	Logger         logrus.FieldLogger
}

// API holds the handlers.
type API struct {
	engine *goGuard.Engine
	opts   Options
	log    logrus.FieldLogger
}

// Register mounts every route on e.
func Register(e *echo.Echo, engine *goGuard.Engine, opts Options) *API {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &API{engine: engine, opts: opts, log: log}

	e.HTTPErrorHandler = a.errorHandler
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echo.WrapMiddleware(middleware.RequestContext(opts.TrustProxy)))

	e.GET("/healthz", a.health)

	auth := e.Group("/auth")
	auth.POST("/register", a.register)
	auth.POST("/login", a.login)
	auth.POST("/password/forgot", a.forgotPassword)
	auth.POST("/password/reset", a.resetPassword)
	auth.POST("/email/verify/request", a.requestVerification)
	auth.POST("/email/verify", a.verifyEmail)
	auth.POST("/magic-link", a.requestMagicLink)
	auth.POST("/magic-link/verify", a.magicLinkSignIn)

	me := e.Group("/me", echo.WrapMiddleware(middleware.RequireSession(engine)))
	me.GET("", a.me)
	me.POST("/logout", a.logout)
	me.POST("/password", a.changePassword)
	me.POST("/2fa/setup", a.beginTwoFactor)
	me.POST("/2fa/enable", a.enableTwoFactor)
	me.POST("/2fa/disable", a.disableTwoFactor)
	me.GET("/2fa/backup-codes", a.backupCodesRemaining)
	me.POST("/2fa/backup-codes", a.regenerateBackupCodes)
	me.GET("/audit", a.myAudit)
	me.GET("/stats", a.myStats)
	me.GET("/alerts", a.myAlerts)

	if opts.AdminToken != "" {
		admin := e.Group("/admin", a.requireAdmin)
		admin.GET("/audit", a.searchAudit)
		admin.POST("/audit/cleanup", a.cleanupAudit)
		admin.GET("/suspicious", a.suspicious)
		admin.GET("/accounts/:id/alerts", a.accountAlerts)
		admin.POST("/accounts/:id/lock", a.lock)
		admin.POST("/accounts/:id/unlock", a.unlock)
		admin.PUT("/accounts/:id/plan", a.setPlan)
		admin.POST("/federated", a.federated)
	}
	return a
}

func (a *API) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		got := c.Request().Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.opts.AdminToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin token")
		}
		return next(c)
	}
}

// statusFor maps engine errors onto HTTP statuses. Messages stay generic.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, goGuard.ErrInvalidCredentials), errors.Is(err, goGuard.ErrSessionInvalid):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, goGuard.ErrAccountLocked):
		return http.StatusLocked, err.Error()
	case errors.Is(err, goGuard.ErrRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, goGuard.ErrAccountNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, goGuard.ErrAccountExists), errors.Is(err, goGuard.ErrTwoFactorAlreadyEnabled):
		return http.StatusConflict, err.Error()
	case errors.Is(err, goGuard.ErrInvalidEmail),
		errors.Is(err, goGuard.ErrPasswordPolicy),
		errors.Is(err, goGuard.ErrInvalidPlan),
		errors.Is(err, goGuard.ErrTokenInvalid),
		errors.Is(err, goGuard.ErrTwoFactorRequired),
		errors.Is(err, goGuard.ErrTwoFactorInvalid),
		errors.Is(err, goGuard.ErrTwoFactorNotEnabled),
		errors.Is(err, goGuard.ErrTwoFactorSetupRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, goGuard.ErrUnavailable), errors.Is(err, goGuard.ErrEngineNotReady):
		return http.StatusServiceUnavailable, "service unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *API) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	status, msg := statusFor(err)
	if errors.As(err, &he) {
		status = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		} else {
			msg = http.StatusText(he.Code)
		}
	}
	if status >= http.StatusInternalServerError {
		a.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	if err := c.JSON(status, errorBody{Error: msg}); err != nil {
		a.log.WithError(err).Warn("write error response")
	}
}

func (a *API) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type accountView struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name,omitempty"`
	Image            string     `json:"image,omitempty"`
	Plan             string     `json:"plan"`
	EmailVerified    bool       `json:"email_verified"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	Locked           bool       `json:"locked"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func viewOf(acct *goGuard.Account) accountView {
	return accountView{
		ID:               acct.ID,
		Email:            acct.Email,
		Name:             acct.Name,
		Image:            acct.Image,
		Plan:             string(acct.Plan),
		EmailVerified:    acct.EmailVerifiedAt != nil,
		TwoFactorEnabled: acct.TwoFactorEnabled,
		Locked:           acct.IsLocked,
		LastLoginAt:      acct.LastLoginAt,
		CreatedAt:        acct.CreatedAt,
	}
}

type loginResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Token   string       `json:"token,omitempty"`
	Account *accountView `json:"account,omitempty"`
	RetryAt *time.Time   `json:"retry_at,omitempty"`
}

// writeLogin renders a decided sign-in. Successful results also set the
// session cookie.
func writeLogin(c echo.Context, res *goGuard.LoginResult) error {
	body := loginResponse{Status: res.Status.String(), Message: res.Status.Message()}
	status := http.StatusUnauthorized
	switch res.Status {
	case goGuard.LoginSucceeded:
		status = http.StatusOK
		view := viewOf(res.Account)
		body.Account = &view
		body.Token = res.SessionToken
		middleware.SetSessionCookie(c.Response(), &goGuard.SessionInfo{Token: res.SessionToken})
	case goGuard.LoginLocked:
		status = http.StatusLocked
	case goGuard.LoginRateLimited:
		status = http.StatusTooManyRequests
		if !res.RetryAt.IsZero() {
			retry := res.RetryAt
			body.RetryAt = &retry
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retry)))
		}
	case goGuard.LoginTwoFactorRequired:
		status = http.StatusAccepted
	}
	return c.JSON(status, body)
}

func retryAfterSeconds(at time.Time) int {
	secs := int(time.Until(at).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// writeIssue answers token requests identically for known and unknown
// emails.
func writeIssue(c echo.Context, res goGuard.IssueResult) error {
	if res.Status == goGuard.IssueRateLimited {
		if !res.RetryAt.IsZero() {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAt)))
		}
		return c.JSON(http.StatusTooManyRequests, errorBody{Error: goGuard.ErrRateLimited.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func session(c echo.Context) *goGuard.SessionInfo {
	info, _ := middleware.SessionFromContext(c.Request().Context())
	return info
}

func encodeQR(png []byte) string {
	if len(png) == 0 {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
