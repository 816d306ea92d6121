package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/carzone/carzone-backend/internal/config"
	"github.com/carzone/carzone-backend/internal/http/middleware"
	"github.com/carzone/carzone-backend/internal/http/response"
	"github.com/carzone/carzone-backend/internal/repository"
	"github.com/carzone/carzone-backend/internal/security"
	"github.com/carzone/carzone-backend/internal/service"
)

const oauthStateCookie = "oauth_state"

type AuthHandler struct {
	auth   *service.AuthService
	oauth  *service.OAuthService
	cfg    *config.Config
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, oauth *service.OAuthService, cfg *config.Config, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, oauth: oauth, cfg: cfg, logger: logger}
}

type registerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fields := map[string]string{}
	if strings.TrimSpace(req.FullName) == "" {
		fields["full_name"] = "full name is required"
	}
	if !security.ValidEmail(req.Email) {
		fields["email"] = "a valid email is required"
	}
	if len(req.Password) < 8 {
		fields["password"] = "password must be at least 8 characters"
	}
	if len(fields) > 0 {
		response.ValidationError(w, fields)
		return
	}

	user, err := h.auth.Register(r.Context(), service.RegisterInput{
		FullName: strings.TrimSpace(req.FullName),
		Email:    req.Email,
		Password: req.Password,
		Phone:    strings.TrimSpace(req.Phone),
		Address:  strings.TrimSpace(req.Address),
	})
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			response.ValidationError(w, map[string]string{"email": "email is already registered"})
			return
		}
		h.fail(w, r, "register", err)
		return
	}
	response.Success(w, http.StatusCreated, "registered, check your email for the verification code", user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.auth.Login(r.Context(), req.Email, req.Password, r.UserAgent(), middleware.ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Error(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, service.ErrEmailNotVerified):
			response.Error(w, http.StatusUnauthorized, "verify your email before logging in")
		case errors.Is(err, service.ErrTooManyAttempts):
			response.Error(w, http.StatusTooManyRequests, "too many attempts, try again later")
		default:
			h.fail(w, r, "login", err)
		}
		return
	}
	h.writeAuthResult(w, result, "logged in")
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := security.GetCookie(r, security.RefreshCookieName)
	if token == "" {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		token = req.RefreshToken
	}
	if token == "" {
		response.Error(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	result, err := h.auth.Refresh(r.Context(), token, r.UserAgent(), middleware.ClientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			security.ClearRefreshCookie(w, h.cfg.CookieSecure)
			response.Error(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		h.fail(w, r, "refresh", err)
		return
	}
	h.writeAuthResult(w, result, "token refreshed")
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	refresh := security.GetCookie(r, security.RefreshCookieName)
	// Logout needs both halves of the pair so the session and the live
	// access token die together.
	if refresh == "" {
		response.Error(w, http.StatusUnauthorized, "missing refresh token")
		return
	}
	if err := h.auth.Logout(r.Context(), claims, refresh); err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			security.ClearRefreshCookie(w, h.cfg.CookieSecure)
			response.Error(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		h.fail(w, r, "logout", err)
		return
	}
	security.ClearRefreshCookie(w, h.cfg.CookieSecure)
	response.Success(w, http.StatusOK, "logged out", nil)
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	sessions, err := h.auth.LogoutAll(r.Context(), claims)
	if err != nil {
		h.fail(w, r, "logout_all", err)
		return
	}
	security.ClearRefreshCookie(w, h.cfg.CookieSecure)
	response.Success(w, http.StatusOK, "logged out everywhere", map[string]any{"sessions_removed": sessions})
}

func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	user, err := h.auth.CurrentUser(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.Error(w, http.StatusUnauthorized, "account no longer exists")
			return
		}
		h.fail(w, r, "current_user", err)
		return
	}
	response.Success(w, http.StatusOK, "", user)
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.auth.VerifyEmail(r.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		if errors.Is(err, service.ErrInvalidActionCode) {
			response.ValidationError(w, map[string]string{"code": "invalid or expired code"})
			return
		}
		h.fail(w, r, "verify_email", err)
		return
	}
	response.Success(w, http.StatusOK, "email verified", user)
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.ResendVerification(r.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrAlreadyVerified) {
			response.Error(w, http.StatusConflict, "email is already verified")
			return
		}
		h.fail(w, r, "resend_verification", err)
		return
	}
	response.Success(w, http.StatusOK, "if the email exists, a new code has been sent", nil)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrTooManyAttempts) {
			response.Error(w, http.StatusTooManyRequests, "too many attempts, try again later")
			return
		}
		h.fail(w, r, "forgot_password", err)
		return
	}
	response.Success(w, http.StatusOK, "if the email exists, a reset code has been sent", nil)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code     string `json:"code"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Password) < 8 {
		response.ValidationError(w, map[string]string{"password": "password must be at least 8 characters"})
		return
	}
	if err := h.auth.ResetPassword(r.Context(), strings.TrimSpace(req.Code), req.Password); err != nil {
		if errors.Is(err, service.ErrInvalidActionCode) {
			response.ValidationError(w, map[string]string{"code": "invalid or expired code"})
			return
		}
		h.fail(w, r, "reset_password", err)
		return
	}
	response.Success(w, http.StatusOK, "password updated, log in with your new password", nil)
}

// GoogleRedirect sends the browser to Google's consent screen with a
// single-use state bound to this client.
func (h *AuthHandler) GoogleRedirect(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		response.Error(w, http.StatusNotFound, "google sign-in is not configured")
		return
	}
	state, err := security.RandomPassword()
	if err != nil {
		h.fail(w, r, "google_redirect", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/v1/auth",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oauth.GoogleAuthURL(state), http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		response.Error(w, http.StatusNotFound, "google sign-in is not configured")
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" || state != security.GetCookie(r, oauthStateCookie) {
		response.Error(w, http.StatusBadRequest, "state mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/api/v1/auth", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		response.Error(w, http.StatusBadRequest, "missing authorization code")
		return
	}
	result, err := h.oauth.HandleGoogleCallback(r.Context(), code, r.UserAgent(), middleware.ClientIP(r))
	if err != nil {
		h.logger.Error("google callback failed", "error", err)
		response.Error(w, http.StatusUnauthorized, "google sign-in failed")
		return
	}
	if h.cfg.FrontendURL != "" {
		security.SetRefreshCookie(w, result.Tokens.RefreshToken, h.cfg.RefreshTokenTTL, h.cfg.CookieSecure)
		target := h.cfg.FrontendURL + "/auth/google/success?" + url.Values{
			"access_token":  {result.Tokens.AccessToken},
			"refresh_token": {result.Tokens.RefreshToken},
		}.Encode()
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	h.writeAuthResult(w, result, "logged in with google")
}

func (h *AuthHandler) writeAuthResult(w http.ResponseWriter, result *service.AuthResult, message string) {
	security.SetRefreshCookie(w, result.Tokens.RefreshToken, h.cfg.RefreshTokenTTL, h.cfg.CookieSecure)
	response.Success(w, http.StatusOK, message, map[string]any{
		"access_token":            result.Tokens.AccessToken,
		"access_token_expires_at": result.Tokens.AccessTokenExpiresAt,
		"user":                    result.User,
	})
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("auth handler error", "op", op, "path", r.URL.Path, "error", err)
	response.ServerError(w)
}
