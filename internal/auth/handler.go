package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/storefront-hq/storefront/internal/platform/httpx"
	"github.com/storefront-hq/storefront/internal/security"
	"github.com/storefront-hq/storefront/internal/shared"
	"github.com/storefront-hq/storefront/internal/token"
)

// HandlerConfig aggregates the dependencies of Handler.
type HandlerConfig struct {
	Users         *UserSignin
	Admins        *AdminSignin
	Auth          *Middleware
	Gateway       *security.Gateway
	CSRF          *security.CSRFGuard
	Events        EventSink
	Logger        *slog.Logger
	SecureCookies bool
}

// Handler wires HTTP endpoints for signin, refresh, signout and CSRF issuance.
type Handler struct {
	users         *UserSignin
	admins        *AdminSignin
	auth          *Middleware
	gateway       *security.Gateway
	csrf          *security.CSRFGuard
	events        EventSink
	logger        *slog.Logger
	validator     *validator.Validate
	secureCookies bool
}

// NewHandler constructs a Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		users:         cfg.Users,
		admins:        cfg.Admins,
		auth:          cfg.Auth,
		gateway:       cfg.Gateway,
		csrf:          cfg.CSRF,
		events:        cfg.Events,
		logger:        cfg.Logger,
		validator:     validator.New(),
		secureCookies: cfg.SecureCookies,
	}
}

// CSRFExemptPaths lists the endpoints under prefix that are rate limited
// but reachable without a CSRF token because the caller has no session yet.
func CSRFExemptPaths(prefix string) []string {
	return []string{
		prefix + "/auth/signin",
		prefix + "/auth/refresh",
		prefix + "/auth/password/forgot",
		prefix + "/admin/auth/signin",
		prefix + "/admin/auth/refresh",
	}
}

// MountRoutes registers the auth routes on r, which is expected to be mounted at /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.auth.Optional).Get("/csrf-token", h.handleCSRFToken)

	r.Route("/auth", func(r chi.Router) {
		r.With(h.gateway.Protect(security.PolicyAuth)).Post("/signin", h.handleUserSignin)
		r.With(h.gateway.Protect(security.PolicyAuth)).Post("/refresh", h.handleUserRefresh)
		r.With(h.gateway.Protect(security.PolicyPasswordReset)).Post("/password/forgot", h.handleForgotPassword)
		r.With(h.gateway.Protect(security.PolicyAPI)).Post("/signout", h.handleSignout)
		r.With(h.gateway.Protect(security.PolicyVerification), h.auth.RequireUser).Post("/verify/resend", h.handleResendVerification)
		r.With(h.auth.RequireUser).Get("/me", h.handleMe)
	})

	r.Route("/admin/auth", func(r chi.Router) {
		r.With(h.gateway.Protect(security.PolicyAuth)).Post("/signin", h.handleAdminSignin)
		r.With(h.gateway.Protect(security.PolicyAuth)).Post("/refresh", h.handleAdminRefresh)
		r.With(h.gateway.Protect(security.PolicyAPI)).Post("/signout", h.handleSignout)
		r.With(h.auth.RequireAdmin).Get("/me", h.handleMe)
	})
}

type signinRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type sessionResponse struct {
	Principal        *Principal `json:"principal"`
	AccessToken      string     `json:"accessToken"`
	AccessExpiresAt  time.Time  `json:"accessExpiresAt"`
	RefreshToken     string     `json:"refreshToken,omitempty"`
	RefreshExpiresAt *time.Time `json:"refreshExpiresAt,omitempty"`
}

func (h *Handler) handleUserSignin(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}
	sess, err := h.users.Signin(r.Context(), cred)
	h.respondSession(w, token.KindUser, sess, err)
}

func (h *Handler) handleAdminSignin(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}
	sess, err := h.admins.Signin(r.Context(), cred)
	h.respondSession(w, token.KindAdmin, sess, err)
}

func (h *Handler) handleUserRefresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.refreshToken(w, r, UserRefreshCookie)
	if !ok {
		return
	}
	sess, err := h.users.Refresh(r.Context(), raw)
	h.respondSession(w, token.KindUser, sess, err)
}

func (h *Handler) handleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.refreshToken(w, r, AdminRefreshTokenCookie)
	if !ok {
		return
	}
	sess, err := h.admins.Refresh(r.Context(), raw)
	h.respondSession(w, token.KindAdmin, sess, err)
}

func (h *Handler) handleSignout(w http.ResponseWriter, r *http.Request) {
	if sid, ok := security.ResolveSessionID(r); ok {
		if err := h.csrf.Revoke(r.Context(), sid); err != nil {
			h.logger.Warn("revoke csrf token", slog.Any("error", err))
		}
	}
	for _, name := range []string{UserTokenCookie, UserRefreshCookie, AdminTokenCookie, AdminRefreshTokenCookie, security.CSRFCookie, security.CSRFSessionCookie} {
		h.clearCookie(w, name)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrNoToken)
		return
	}
	out := *p
	if p.IsAdmin() {
		out.Permissions = p.EffectivePermissions()
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"principal": out})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondValidation(w, map[string]string{"body": "invalid JSON"})
		return
	}
	if fields := h.validate(req); fields != nil {
		httpx.RespondValidation(w, fields)
		return
	}
	if h.events != nil {
		if err := h.events.PasswordResetRequested(r.Context(), NormalizeEmail(req.Email)); err != nil {
			h.logger.Error("enqueue password reset", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrNoToken)
		return
	}
	verified := p.EmailVerified != nil && *p.EmailVerified
	if !verified && h.events != nil {
		if err := h.events.VerificationRequested(r.Context(), p.ID, p.Email); err != nil {
			h.logger.Error("enqueue verification", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "alreadyVerified": verified})
}

func (h *Handler) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if c, err := r.Cookie(security.CSRFSessionCookie); err == nil && c.Value != "" {
		sessionID = security.SessionKey(c.Value)
	} else if p, ok := h.bearerPrincipal(r); ok {
		sessionID = string(p.Kind) + ":" + p.ID
	} else {
		value := security.NewSessionID()
		h.setCookie(w, security.CSRFSessionCookie, value, time.Now().Add(h.csrf.MaxAge()), true)
		sessionID = security.SessionKey(value)
	}
	tok, err := h.csrf.Issue(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.setCookie(w, security.CSRFCookie, tok, time.Now().Add(h.csrf.MaxAge()), false)
	httpx.JSON(w, http.StatusOK, map[string]string{"csrfToken": tok})
}

// bearerPrincipal returns the verified principal only when it came from an
// Authorization header, since that is what the gateway correlates CSRF state by.
func (h *Handler) bearerPrincipal(r *http.Request) (*Principal, bool) {
	if _, ok := token.FromAuthorization(r.Header.Get("Authorization")); !ok {
		return nil, false
	}
	return PrincipalFromContext(r.Context())
}

func (h *Handler) decodeCredentials(w http.ResponseWriter, r *http.Request) (Credentials, bool) {
	var req signinRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondValidation(w, map[string]string{"body": "invalid JSON"})
		return Credentials{}, false
	}
	if fields := h.validate(req); fields != nil {
		httpx.RespondValidation(w, fields)
		return Credentials{}, false
	}
	ip, _ := httprate.KeyByRealIP(r)
	return Credentials{
		Email:     req.Email,
		Password:  req.Password,
		IP:        ip,
		UserAgent: r.UserAgent(),
	}, true
}

func (h *Handler) validate(v any) map[string]string {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
	} else {
		fields["body"] = err.Error()
	}
	return fields
}

// refreshToken reads the token from the JSON body, falling back to cookie.
// A body that is present but not valid JSON is rejected.
func (h *Handler) refreshToken(w http.ResponseWriter, r *http.Request, cookie string) (string, bool) {
	var req refreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			httpx.RespondValidation(w, map[string]string{"body": "invalid JSON"})
			return "", false
		}
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, true
	}
	if c, err := r.Cookie(cookie); err == nil {
		return c.Value, true
	}
	return "", true
}

func (h *Handler) respondSession(w http.ResponseWriter, kind token.Kind, sess *Session, err error) {
	if err != nil {
		if status, _ := httpx.StatusFor(err); status == http.StatusInternalServerError {
			h.logger.Error("auth request failed", slog.String("kind", string(kind)), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	accessCookie, refreshCookie := UserTokenCookie, UserRefreshCookie
	if kind == token.KindAdmin {
		accessCookie, refreshCookie = AdminTokenCookie, AdminRefreshTokenCookie
	}
	h.setCookie(w, accessCookie, sess.AccessToken, sess.AccessExpiresAt, true)
	resp := sessionResponse{
		Principal:       sess.Principal,
		AccessToken:     sess.AccessToken,
		AccessExpiresAt: sess.AccessExpiresAt,
	}
	if sess.RefreshToken != "" {
		h.setCookie(w, refreshCookie, sess.RefreshToken, sess.RefreshExpiresAt, true)
		resp.RefreshToken = sess.RefreshToken
		exp := sess.RefreshExpiresAt
		resp.RefreshExpiresAt = &exp
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, expires time.Time, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: httpOnly,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
