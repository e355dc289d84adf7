package httpapi

import (
	"net/http"
	"strconv"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/labstack/echo/v4"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token    string `json:"token"`
	Password string `json:"password,omitempty"`
	Code     string `json:"code,omitempty"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type changePasswordRequest struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return nil
}

func (a *API) register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	acct, err := a.engine.Register(c.Request().Context(), req.Email, req.Password, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, viewOf(acct))
}

func (a *API) login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := a.engine.Login(c.Request().Context(), goGuard.LoginRequest{
		Email:        req.Email,
		Password:     req.Password,
		SecondFactor: req.Code,
	})
	if err != nil {
		return err
	}
	return writeLogin(c, res)
}

func (a *API) forgotPassword(c echo.Context) error {
	var req emailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := a.engine.RequestPasswordReset(c.Request().Context(), req.Email)
	if err != nil {
		return err
	}
	return writeIssue(c, res)
}

func (a *API) resetPassword(c echo.Context) error {
	var req tokenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := a.engine.CompletePasswordReset(c.Request().Context(), req.Token, req.Password); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) requestVerification(c echo.Context) error {
	var req emailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := a.engine.RequestEmailVerification(c.Request().Context(), req.Email)
	if err != nil {
		return err
	}
	return writeIssue(c, res)
}

func (a *API) verifyEmail(c echo.Context) error {
	var req tokenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	acct, err := a.engine.VerifyEmail(c.Request().Context(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(acct))
}

func (a *API) requestMagicLink(c echo.Context) error {
	var req emailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := a.engine.RequestMagicLink(c.Request().Context(), req.Email)
	if err != nil {
		return err
	}
	return writeIssue(c, res)
}

func (a *API) magicLinkSignIn(c echo.Context) error {
	var req tokenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := a.engine.SignInWithMagicLink(c.Request().Context(), req.Token, req.Code)
	if err != nil {
		return err
	}
	return writeLogin(c, res)
}

func (a *API) me(c echo.Context) error {
	acct, err := a.engine.GetAccount(c.Request().Context(), session(c).AccountID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(acct))
}

func (a *API) logout(c echo.Context) error {
	if err := a.engine.Logout(c.Request().Context(), session(c).Token); err != nil {
		return err
	}
	http.SetCookie(c.Response(), &http.Cookie{Name: middleware.SessionCookie, Path: "/", MaxAge: -1, HttpOnly: true, Secure: true})
	return c.NoContent(http.StatusNoContent)
}

func (a *API) changePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := a.engine.ChangePassword(c.Request().Context(), session(c).AccountID, req.Current, req.New); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type twoFactorSetupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRCode string `json:"qr_code"`
}

func (a *API) beginTwoFactor(c echo.Context) error {
	setup, err := a.engine.BeginTwoFactorSetup(c.Request().Context(), session(c).AccountID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, twoFactorSetupResponse{
		Secret: setup.Secret,
		URI:    setup.URI,
		QRCode: encodeQR(setup.QRPNG),
	})
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (a *API) enableTwoFactor(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	codes, err := a.engine.EnableTwoFactor(c.Request().Context(), session(c).AccountID, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (a *API) disableTwoFactor(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := a.engine.DisableTwoFactor(c.Request().Context(), session(c).AccountID, req.Code); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) regenerateBackupCodes(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	codes, err := a.engine.RegenerateBackupCodes(c.Request().Context(), session(c).AccountID, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (a *API) backupCodesRemaining(c echo.Context) error {
	n, err := a.engine.BackupCodesRemaining(c.Request().Context(), session(c).AccountID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"remaining": n})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

func pageParams(c echo.Context) (goGuard.Page, error) {
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return goGuard.Page{}, err
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return goGuard.Page{}, err
	}
	return goGuard.Page{Limit: limit, Offset: offset}, nil
}

func (a *API) myAudit(c echo.Context) error {
	page, err := pageParams(c)
	if err != nil {
		return err
	}
	res, err := a.engine.SearchAuditEvents(c.Request().Context(), goGuard.EventFilter{AccountID: session(c).AccountID}, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (a *API) myStats(c echo.Context) error {
	days, err := intParam(c, "days", 30)
	if err != nil {
		return err
	}
	stats, err := a.engine.AuditStats(c.Request().Context(), session(c).AccountID, days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (a *API) myAlerts(c echo.Context) error {
	alerts, err := a.engine.SecurityAlerts(c.Request().Context(), session(c).AccountID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, alerts)
}

func (a *API) searchAudit(c echo.Context) error {
	page, err := pageParams(c)
	if err != nil {
		return err
	}
	filter := goGuard.EventFilter{
		AccountID: c.QueryParam("account_id"),
		Email:     c.QueryParam("email"),
		IP:        c.QueryParam("ip"),
	}
	if kind := c.QueryParam("kind"); kind != "" {
		filter.Kinds = []goGuard.EventKind{goGuard.EventKind(kind)}
	}
	res, err := a.engine.SearchAuditEvents(c.Request().Context(), filter, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (a *API) cleanupAudit(c echo.Context) error {
	n, err := a.engine.CleanupAuditEvents(c.Request().Context(), a.opts.AuditRetention)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

func (a *API) suspicious(c echo.Context) error {
	days, err := intParam(c, "days", 1)
	if err != nil {
		return err
	}
	ips, err := a.engine.SuspiciousActivity(c.Request().Context(), days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ips)
}

func (a *API) accountAlerts(c echo.Context) error {
	alerts, err := a.engine.SecurityAlerts(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, alerts)
}

type lockRequest struct {
	// Minutes of zero locks until an admin unlocks.
	Minutes int `json:"minutes"`
}

func (a *API) lock(c echo.Context) error {
	var req lockRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Minutes < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid minutes")
	}
	if err := a.engine.LockAccount(c.Request().Context(), c.Param("id"), time.Duration(req.Minutes)*time.Minute); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) unlock(c echo.Context) error {
	if err := a.engine.UnlockAccount(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type planRequest struct {
	Plan string `json:"plan"`
}

func (a *API) setPlan(c echo.Context) error {
	var req planRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := a.engine.SetPlan(c.Request().Context(), c.Param("id"), goGuard.PlanTier(req.Plan)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type federatedRequest struct {
	Provider      string `json:"provider"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Image         string `json:"image"`
	EmailVerified bool   `json:"email_verified"`
	Code          string `json:"code,omitempty"`
}

// federated completes an external provider sign-in that the caller has
// already verified.
func (a *API) federated(c echo.Context) error {
	var req federatedRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := a.engine.SignInFederated(c.Request().Context(), goGuard.FederatedIdentity{
		Provider:      req.Provider,
		Email:         req.Email,
		Name:          req.Name,
		Image:         req.Image,
		EmailVerified: req.EmailVerified,
		SecondFactor:  req.Code,
	})
	if err != nil {
		return err
	}
	return writeLogin(c, res)
}
