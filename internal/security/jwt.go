package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/carzone/carzone-backend/internal/domain"
)

var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrSignatureMismatch = errors.New("token signature mismatch")
	ErrTokenExpired      = errors.New("token expired")
	ErrWrongTokenType    = errors.New("unexpected token type")
	ErrInvalidToken      = errors.New("invalid token")
)

// AccessClaims is the claim set of a short-lived bearer token. The jti
// (RegisteredClaims.ID) is what the revocation ledger keys on.
type AccessClaims struct {
	TokenType string `json:"token_type"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set of a cookie-delivered refresh token. It is
// only as good as the live session its sid resolves to.
type RefreshClaims struct {
	TokenType string `json:"token_type"`
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// TokenCodec mints and verifies both token kinds. Access and refresh tokens
// are signed with independent secrets so compromise of one cannot forge the
// other.
type TokenCodec struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
}

func NewTokenCodec(issuer, accessSecret, refreshSecret string) *TokenCodec {
	return &TokenCodec{
		issuer:        issuer,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
	}
}

func (c *TokenCodec) MintAccessToken(user *domain.User, ttl time.Duration) (token, jti string, err error) {
	now := time.Now()
	jti = uuid.NewString()
	claims := AccessClaims{
		TokenType: "access",
		Email:     user.Email,
		Name:      user.FullName,
		Role:      string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", "", err
	}
	return token, jti, nil
}

func (c *TokenCodec) MintRefreshToken(userID string, role domain.Role, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		TokenType: "refresh",
		SessionID: sessionID,
		Role:      string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
}

func (c *TokenCodec) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(raw, claims, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != "access" {
		return nil, fmt.Errorf("%w: %q", ErrWrongTokenType, claims.TokenType)
	}
	return claims, nil
}

func (c *TokenCodec) ParseRefreshToken(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(raw, claims, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != "refresh" {
		return nil, fmt.Errorf("%w: %q", ErrWrongTokenType, claims.TokenType)
	}
	return claims, nil
}

func (c *TokenCodec) parse(raw string, claims jwt.Claims, secret []byte) error {
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(c.issuer))
	if err != nil {
		return classifyParseError(err)
	}
	if !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}

// classifyParseError collapses the jwt library's error chain into the codec's
// own taxonomy so callers never depend on the library's sentinels.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureMismatch
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
