package models

import "time"

type SessionToken struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	JTI       string    `json:"-"`
	AccountID string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
}

type RevokedSession struct {
	JTI       string    `json:"jti"`
	AccountID string    `json:"account_id"`
	RevokedAt time.Time `json:"revoked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
