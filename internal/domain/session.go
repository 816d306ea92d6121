package domain

import "time"

// Session binds a refresh token to one authenticated device. It lives in the
// shared key-value store under its SessionID with an absolute TTL; rotation
// replaces the record wholesale instead of mutating it in place.
type Session struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	RefreshToken  string    `json:"refresh_token"`
	AccessTokenID string    `json:"access_token_id"`
	Device        string    `json:"device"`
	IP            string    `json:"ip"`
	LastActivity  time.Time `json:"last_activity"`
}
