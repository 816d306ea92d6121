package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/carzone/carzone-backend/internal/config"
	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/observability"
	"github.com/carzone/carzone-backend/internal/repository"
	"github.com/carzone/carzone-backend/internal/security"
)

var errGoogleEmailNotVerified = errors.New("google email not verified")

type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Picture        string
}

type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

// GoogleProvider exchanges authorization codes with Google and reads
// identity claims from the OpenID Connect id_token instead of the userinfo
// endpoint, so the claims are signature-checked.
type GoogleProvider struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

func NewGoogleProvider(ctx context.Context, cfg *config.Config) (*GoogleProvider, error) {
	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("discover google oidc: %w", err)
	}
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.GoogleClientID}),
	}, nil
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.oauth.Exchange(ctx, code)
}

func (p *GoogleProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("missing required userinfo fields")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id token claims: %w", err)
	}
	if idToken.Subject == "" || claims.Email == "" {
		return nil, errors.New("missing required userinfo fields")
	}
	return &OAuthUserInfo{
		ProviderUserID: idToken.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		Name:           claims.Name,
		Picture:        claims.Picture,
	}, nil
}

type OAuthService struct {
	provider OAuthProvider
	users    repository.UserRepository
	carts    repository.CartRepository
	auth     *AuthService
}

func NewOAuthService(provider OAuthProvider, users repository.UserRepository, carts repository.CartRepository, auth *AuthService) *OAuthService {
	return &OAuthService{
		provider: provider,
		users:    users,
		carts:    carts,
		auth:     auth,
	}
}

func (s *OAuthService) GoogleAuthURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

// HandleGoogleCallback signs a Google account in, provisioning a local user
// on first contact. Google attests the email, so the account is treated as
// verified.
func (s *OAuthService) HandleGoogleCallback(ctx context.Context, code, device, ip string) (*AuthResult, error) {
	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		observability.RecordAuthLogin("google", "failure")
		observability.Audit(ctx, "auth.google", "failure", classifyOAuthError(err))
		return nil, err
	}
	info, err := s.provider.FetchUserInfo(ctx, token)
	if err != nil {
		observability.RecordAuthLogin("google", "failure")
		observability.Audit(ctx, "auth.google", "failure", classifyOAuthError(err))
		return nil, err
	}
	if !info.EmailVerified {
		observability.RecordAuthLogin("google", "failure")
		observability.Audit(ctx, "auth.google", "failure", "email_not_verified")
		return nil, errGoogleEmailNotVerified
	}

	email := security.NormalizeEmail(info.Email)
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		user, err = s.provisionUser(ctx, email, info)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if !user.IsVerified() {
		now := time.Now()
		user.EmailVerifiedAt = &now
		if err := s.users.Update(ctx, user); err != nil {
			return nil, err
		}
	}

	result, err := s.auth.IssueSession(ctx, user, device, ip)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin("google", "success")
	observability.Audit(ctx, "auth.google", "success", "", "user_id", user.ID)
	return result, nil
}

func (s *OAuthService) provisionUser(ctx context.Context, email string, info *OAuthUserInfo) (*domain.User, error) {
	// The account gets an unguessable placeholder password; holders can
	// set a real one through the reset flow.
	password, err := security.RandomPassword()
	if err != nil {
		return nil, err
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	name := info.Name
	if name == "" {
		name = email
	}
	user := &domain.User{
		FullName:        name,
		Email:           email,
		PasswordHash:    hash,
		Role:            domain.RoleCustomer,
		AvatarURL:       info.Picture,
		EmailVerifiedAt: &now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.carts.Create(ctx, &domain.Cart{UserID: user.ID}); err != nil {
		return nil, err
	}
	observability.Audit(ctx, "auth.google", "success", "user_provisioned", "user_id", user.ID)
	return user, nil
}

func classifyOAuthError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case strings.Contains(err.Error(), "userinfo status"):
		return "userinfo_status"
	case strings.Contains(err.Error(), "missing required userinfo fields"):
		return "invalid_userinfo"
	case strings.Contains(err.Error(), "oauth2"):
		return "oauth2_exchange"
	default:
		return "unknown"
	}
}
