package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carzone/carzone-backend/internal/config"
	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/mailer"
	"github.com/carzone/carzone-backend/internal/observability"
	"github.com/carzone/carzone-backend/internal/repository"
	"github.com/carzone/carzone-backend/internal/security"
)

var (
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidActionCode   = errors.New("invalid or expired code")
	ErrAlreadyVerified     = errors.New("email already verified")
)

// dummyPasswordHash is compared against when a login targets an unknown
// email so both failure paths cost one bcrypt verification.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type AuthTokens struct {
	AccessToken          string    `json:"access_token"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
	RefreshToken         string    `json:"-"`
}

type AuthResult struct {
	User   *domain.User
	Tokens AuthTokens
}

type RegisterInput struct {
	FullName string
	Email    string
	Password string
	Phone    string
	Address  string
}

type AuthService struct {
	users       repository.UserRepository
	tokens      repository.TokenRepository
	carts       repository.CartRepository
	sessions    SessionStore
	revocations RevocationLedger
	throttle    LoginThrottle
	codec       *security.TokenCodec
	mail        mailer.Mailer
	cfg         *config.Config
	logger      *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens repository.TokenRepository,
	carts repository.CartRepository,
	sessions SessionStore,
	revocations RevocationLedger,
	throttle LoginThrottle,
	codec *security.TokenCodec,
	mail mailer.Mailer,
	cfg *config.Config,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		tokens:      tokens,
		carts:       carts,
		sessions:    sessions,
		revocations: revocations,
		throttle:    throttle,
		codec:       codec,
		mail:        mail,
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email := security.NormalizeEmail(input.Email)
	taken, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if taken {
		observability.Audit(ctx, "auth.register", "failure", "email_taken", "email", email)
		return nil, ErrEmailTaken
	}

	hash, err := security.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		FullName:     input.FullName,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleCustomer,
		Phone:        input.Phone,
		Address:      input.Address,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.carts.Create(ctx, &domain.Cart{UserID: user.ID}); err != nil {
		return nil, err
	}

	code, err := s.issueActionCode(ctx, user.ID, domain.TokenTypeEmailVerification)
	if err != nil {
		return nil, err
	}
	s.deliverAsync(func(ctx context.Context) error {
		return s.mail.SendEmailVerification(ctx, user.Email, user.FullName, code)
	})

	observability.Audit(ctx, "auth.register", "success", "", "user_id", user.ID)
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, email, password, device, ip string) (*AuthResult, error) {
	email = security.NormalizeEmail(email)
	if cooldown, err := s.throttle.Check(ctx, ThrottleScopeLogin, email, ip); err != nil {
		return nil, err
	} else if cooldown > 0 {
		observability.RecordAuthLogin("password", "throttled")
		observability.Audit(ctx, "auth.login", "failure", "throttled", "cooldown", cooldown.String())
		return nil, ErrTooManyAttempts
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		_ = security.VerifyPassword(password, dummyPasswordHash)
		s.registerLoginFailure(ctx, email, ip)
		observability.RecordAuthLogin("password", "failure")
		observability.Audit(ctx, "auth.login", "failure", "unknown_email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !security.VerifyPassword(password, user.PasswordHash) {
		s.registerLoginFailure(ctx, email, ip)
		observability.RecordAuthLogin("password", "failure")
		observability.Audit(ctx, "auth.login", "failure", "bad_password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	if s.cfg.RequireVerifiedEmail && !user.IsVerified() {
		observability.RecordAuthLogin("password", "failure")
		observability.Audit(ctx, "auth.login", "failure", "email_not_verified", "user_id", user.ID)
		return nil, ErrEmailNotVerified
	}

	result, err := s.IssueSession(ctx, user, device, ip)
	if err != nil {
		return nil, err
	}
	if err := s.throttle.Reset(ctx, ThrottleScopeLogin, email, ip); err != nil {
		s.logger.Error("reset login throttle failed", "error", err)
	}
	observability.RecordAuthLogin("password", "success")
	observability.Audit(ctx, "auth.login", "success", "", "user_id", user.ID)
	return result, nil
}

func (s *AuthService) registerLoginFailure(ctx context.Context, email, ip string) {
	if _, err := s.throttle.RegisterFailure(ctx, ThrottleScopeLogin, email, ip); err != nil {
		s.logger.Error("register login failure failed", "error", err)
	}
}

// Refresh rotates a refresh token. The presented token's session is claimed
// atomically, so of any number of concurrent refreshes with the same token
// exactly one receives a new pair; the rest fail and the prior access token
// is revoked either way.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, device, ip string) (*AuthResult, error) {
	claims, err := s.codec.ParseRefreshToken(refreshToken)
	if err != nil {
		observability.RecordAuthRefresh("failure")
		return nil, ErrInvalidRefreshToken
	}

	session, err := s.sessions.Claim(ctx, claims.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		observability.RecordAuthRefresh("failure")
		observability.Audit(ctx, "auth.refresh", "failure", "session_gone", "user_id", claims.Subject)
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}

	if session.UserID != claims.Subject || session.RefreshToken != refreshToken {
		// The session held a different token than the one presented, which
		// means this token was already rotated out. Kill everything tied to
		// the session.
		if err := s.revocations.Revoke(ctx, session.AccessTokenID, s.cfg.AccessTokenTTL, "refresh_reuse"); err != nil {
			s.logger.Error("revoke on refresh reuse failed", "error", err)
		}
		observability.RecordAuthRefresh("failure")
		observability.Audit(ctx, "auth.refresh", "failure", "token_reuse", "user_id", session.UserID)
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		observability.RecordAuthRefresh("failure")
		return nil, ErrInvalidRefreshToken
	}

	// Retire the access token that rode with the old refresh token. Its
	// exact remaining lifetime is unknown here, so the full access TTL is
	// used as an upper bound.
	if err := s.revocations.Revoke(ctx, session.AccessTokenID, s.cfg.AccessTokenTTL, "rotation"); err != nil {
		s.logger.Error("revoke rotated access token failed", "error", err)
	}

	result, err := s.IssueSession(ctx, user, device, ip)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthRefresh("success")
	observability.Audit(ctx, "auth.refresh", "success", "", "user_id", user.ID)
	return result, nil
}

// Logout tears down the caller's session and revokes the presented access
// token for its remaining lifetime. A refresh token that does not decode is
// rejected; a valid token whose session is already gone is not an error, so
// repeating a logout stays idempotent.
func (s *AuthService) Logout(ctx context.Context, accessClaims *security.AccessClaims, refreshToken string) error {
	claims, err := s.codec.ParseRefreshToken(refreshToken)
	if err != nil {
		observability.RecordAuthLogout("failure")
		observability.Audit(ctx, "auth.logout", "failure", "bad_refresh_token")
		return ErrInvalidRefreshToken
	}
	if err := s.sessions.Delete(ctx, claims.SessionID); err != nil {
		s.logger.Error("delete session on logout failed", "error", err)
	}
	if accessClaims != nil {
		remaining := time.Until(accessClaims.ExpiresAt.Time)
		if err := s.revocations.Revoke(ctx, accessClaims.ID, remaining, "logout"); err != nil {
			observability.RecordAuthLogout("failure")
			return err
		}
		observability.Audit(ctx, "auth.logout", "success", "", "user_id", accessClaims.Subject)
	}
	observability.RecordAuthLogout("success")
	return nil
}

// LogoutAll removes every session the user holds and revokes the access
// token currently bound to each.
func (s *AuthService) LogoutAll(ctx context.Context, accessClaims *security.AccessClaims) (int64, error) {
	userID := accessClaims.Subject
	sessions, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, session := range sessions {
		if err := s.revocations.Revoke(ctx, session.AccessTokenID, s.cfg.AccessTokenTTL, "logout_all"); err != nil {
			s.logger.Error("revoke session access token failed", "session_id", session.SessionID, "error", err)
		}
	}
	deleted, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	remaining := time.Until(accessClaims.ExpiresAt.Time)
	if err := s.revocations.Revoke(ctx, accessClaims.ID, remaining, "logout_all"); err != nil {
		return deleted, err
	}
	observability.Audit(ctx, "auth.logout_all", "success", "", "user_id", userID, "sessions", deleted)
	return deleted, nil
}

func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.FindByID(ctx, userID)
}

func (s *AuthService) VerifyEmail(ctx context.Context, code string) (*domain.User, error) {
	token, err := s.tokens.FindValidByCode(ctx, code, domain.TokenTypeEmailVerification)
	if errors.Is(err, repository.ErrTokenNotFound) {
		observability.Audit(ctx, "auth.verify_email", "failure", "bad_code")
		return nil, ErrInvalidActionCode
	}
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, token.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsVerified() {
		now := time.Now()
		user.EmailVerifiedAt = &now
		if err := s.users.Update(ctx, user); err != nil {
			return nil, err
		}
	}
	if err := s.tokens.InvalidateAllForUser(ctx, user.ID, domain.TokenTypeEmailVerification); err != nil {
		return nil, err
	}
	observability.Audit(ctx, "auth.verify_email", "success", "", "user_id", user.ID)
	return user, nil
}

// ResendVerification issues a fresh code for an unverified account. It
// reports success for unknown emails so the endpoint cannot be used to
// probe which addresses have accounts.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	email = security.NormalizeEmail(email)
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		observability.Audit(ctx, "auth.resend_verification", "failure", "unknown_email")
		return nil
	}
	if err != nil {
		return err
	}
	if user.IsVerified() {
		return ErrAlreadyVerified
	}
	if err := s.tokens.InvalidateAllForUser(ctx, user.ID, domain.TokenTypeEmailVerification); err != nil {
		return err
	}
	code, err := s.issueActionCode(ctx, user.ID, domain.TokenTypeEmailVerification)
	if err != nil {
		return err
	}
	s.deliverAsync(func(ctx context.Context) error {
		return s.mail.SendEmailVerification(ctx, user.Email, user.FullName, code)
	})
	observability.Audit(ctx, "auth.resend_verification", "success", "", "user_id", user.ID)
	return nil
}

// RequestPasswordReset behaves like ResendVerification with respect to
// unknown emails.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = security.NormalizeEmail(email)
	if cooldown, err := s.throttle.Check(ctx, ThrottleScopeReset, email, ""); err != nil {
		return err
	} else if cooldown > 0 {
		observability.Audit(ctx, "auth.password_reset_request", "failure", "throttled", "cooldown", cooldown.String())
		return ErrTooManyAttempts
	}
	// Every request counts toward the cooldown so the endpoint cannot be
	// used to flood an inbox.
	if _, err := s.throttle.RegisterFailure(ctx, ThrottleScopeReset, email, ""); err != nil {
		s.logger.Error("register reset attempt failed", "error", err)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		observability.Audit(ctx, "auth.password_reset_request", "failure", "unknown_email")
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.tokens.InvalidateAllForUser(ctx, user.ID, domain.TokenTypePasswordReset); err != nil {
		return err
	}
	code, err := s.issueActionCode(ctx, user.ID, domain.TokenTypePasswordReset)
	if err != nil {
		return err
	}
	s.deliverAsync(func(ctx context.Context) error {
		return s.mail.SendPasswordReset(ctx, user.Email, user.FullName, code)
	})
	observability.Audit(ctx, "auth.password_reset_request", "success", "", "user_id", user.ID)
	return nil
}

// ResetPassword consumes a reset code, replaces the password and logs the
// user out everywhere.
func (s *AuthService) ResetPassword(ctx context.Context, code, newPassword string) error {
	token, err := s.tokens.FindValidByCode(ctx, code, domain.TokenTypePasswordReset)
	if errors.Is(err, repository.ErrTokenNotFound) {
		observability.Audit(ctx, "auth.password_reset", "failure", "bad_code")
		return ErrInvalidActionCode
	}
	if err != nil {
		return err
	}
	user, err := s.users.FindByID(ctx, token.UserID)
	if err != nil {
		return err
	}
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	if err := s.tokens.InvalidateAllForUser(ctx, user.ID, domain.TokenTypePasswordReset); err != nil {
		return err
	}

	sessions, err := s.sessions.ListForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if err := s.revocations.Revoke(ctx, session.AccessTokenID, s.cfg.AccessTokenTTL, "password_reset"); err != nil {
			s.logger.Error("revoke session access token failed", "session_id", session.SessionID, "error", err)
		}
	}
	if _, err := s.sessions.DeleteAllForUser(ctx, user.ID); err != nil {
		return err
	}
	observability.Audit(ctx, "auth.password_reset", "success", "", "user_id", user.ID)
	return nil
}

// IssueSession mints a fresh access/refresh pair under a new session id and
// stores the session record for the absolute session window.
func (s *AuthService) IssueSession(ctx context.Context, user *domain.User, device, ip string) (*AuthResult, error) {
	sessionID := uuid.NewString()
	accessExpiresAt := time.Now().Add(s.cfg.AccessTokenTTL)

	accessToken, accessTokenID, err := s.codec.MintAccessToken(user, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.codec.MintRefreshToken(user.ID, user.Role, sessionID, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		SessionID:     sessionID,
		UserID:        user.ID,
		RefreshToken:  refreshToken,
		AccessTokenID: accessTokenID,
		Device:        device,
		IP:            ip,
		LastActivity:  time.Now().UTC(),
	}
	if err := s.sessions.Put(ctx, session, s.cfg.SessionTTL); err != nil {
		return nil, err
	}
	return &AuthResult{
		User: user,
		Tokens: AuthTokens{
			AccessToken:          accessToken,
			AccessTokenExpiresAt: accessExpiresAt,
			RefreshToken:         refreshToken,
		},
	}, nil
}

// issueActionCode creates a single-use numeric code, retrying on the rare
// collision with a live code of either type.
func (s *AuthService) issueActionCode(ctx context.Context, userID string, tokenType domain.TokenType) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := security.RandomDigitCode(7)
		if err != nil {
			return "", err
		}
		exists, err := s.tokens.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if exists {
			continue
		}
		token := &domain.Token{
			UserID:    userID,
			Code:      code,
			Type:      tokenType,
			IsValid:   true,
			ExpiresAt: time.Now().Add(s.cfg.ActionTokenTTL),
		}
		if err := s.tokens.Create(ctx, token); err != nil {
			return "", err
		}
		return code, nil
	}
	return "", fmt.Errorf("issue action code: exhausted retries")
}

// deliverAsync runs a mail send off the request path with its own deadline.
func (s *AuthService) deliverAsync(send func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := send(ctx); err != nil {
			s.logger.Error("async mail delivery failed", "error", err)
		}
	}()
}
