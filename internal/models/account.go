package models

import (
	"time"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// VerificationState summarizes how far an account has progressed through
// channel verification.
type VerificationState string

const (
	StateUnverified        VerificationState = "unverified"
	StatePartiallyVerified VerificationState = "partially_verified"
	StateVerified          VerificationState = "verified"
)

type LoginEntry struct {
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
	IPAddress string    `json:"ip_address" dynamodbav:"ip_address"`
	UserAgent string    `json:"user_agent" dynamodbav:"user_agent"`
}

type Account struct {
	ID                  string       `json:"id" dynamodbav:"id"`
	Name                string       `json:"name" dynamodbav:"name"`
	Username            string       `json:"username" dynamodbav:"username"`
	Email               string       `json:"email" dynamodbav:"email"`
	Phone               string       `json:"phone" dynamodbav:"phone"`
	PasswordHash        string       `json:"-" dynamodbav:"password_hash"`
	Role                Role         `json:"role" dynamodbav:"role"`
	Active              bool         `json:"active" dynamodbav:"active"`
	RequireVerification bool         `json:"require_verification" dynamodbav:"require_verification"`
	MobileVerified      bool         `json:"mobile_verified" dynamodbav:"mobile_verified"`
	MobileVerifiedAt    time.Time    `json:"mobile_verified_at,omitempty" dynamodbav:"mobile_verified_at"`
	EmailVerified       bool         `json:"email_verified" dynamodbav:"email_verified"`
	EmailVerifiedAt     time.Time    `json:"email_verified_at,omitempty" dynamodbav:"email_verified_at"`
	LastLoginAt         time.Time    `json:"last_login_at,omitempty" dynamodbav:"last_login_at"`
	LoginHistory        []LoginEntry `json:"login_history,omitempty" dynamodbav:"login_history"`
	Version             int64        `json:"-" dynamodbav:"version"`
	CreatedAt           time.Time    `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at" dynamodbav:"updated_at"`
}

func (a *Account) GetPK() string {
	return "ACCOUNT!" + a.ID
}

func (a *Account) GetSK() string {
	return "METADATA"
}

// Channel returns the account's destination for kind. ok is false when the
// account registered no address for that channel.
func (a *Account) Channel(kind ChannelKind) (Channel, bool) {
	switch kind {
	case ChannelMobile:
		if a.Phone == "" {
			return Channel{}, false
		}
		return MobileChannel(a.Phone), true
	case ChannelEmail:
		if a.Email == "" {
			return Channel{}, false
		}
		return EmailChannel(a.Email), true
	}
	return Channel{}, false
}

func (a *Account) IsVerified(kind ChannelKind) bool {
	switch kind {
	case ChannelMobile:
		return a.MobileVerified
	case ChannelEmail:
		return a.EmailVerified
	}
	return false
}

// MarkVerified sets the verified flag for kind. Flags only move from false to
// true; an already verified channel keeps its original timestamp.
func (a *Account) MarkVerified(kind ChannelKind, at time.Time) {
	switch kind {
	case ChannelMobile:
		if !a.MobileVerified {
			a.MobileVerified = true
			a.MobileVerifiedAt = at
		}
	case ChannelEmail:
		if !a.EmailVerified {
			a.EmailVerified = true
			a.EmailVerifiedAt = at
		}
	}
}

// PendingChannels lists the registered channels that still need verification,
// mobile first.
func (a *Account) PendingChannels() []ChannelKind {
	var pending []ChannelKind
	for _, kind := range []ChannelKind{ChannelMobile, ChannelEmail} {
		if _, ok := a.Channel(kind); ok && !a.IsVerified(kind) {
			pending = append(pending, kind)
		}
	}
	return pending
}

func (a *Account) VerificationState() VerificationState {
	pending := len(a.PendingChannels())
	switch {
	case pending == 0:
		return StateVerified
	case a.MobileVerified || a.EmailVerified:
		return StatePartiallyVerified
	default:
		return StateUnverified
	}
}

// PreferredChannel is the channel a fresh registration is verified with:
// mobile when a phone number is present, email otherwise.
func (a *Account) PreferredChannel() ChannelKind {
	if a.Phone != "" {
		return ChannelMobile
	}
	return ChannelEmail
}

// AppendLogin records a successful login and keeps only the newest keep
// entries.
func (a *Account) AppendLogin(entry LoginEntry, keep int) {
	a.LastLoginAt = entry.Timestamp
	a.LoginHistory = append(a.LoginHistory, entry)
	if keep > 0 && len(a.LoginHistory) > keep {
		a.LoginHistory = append([]LoginEntry(nil), a.LoginHistory[len(a.LoginHistory)-keep:]...)
	}
}
