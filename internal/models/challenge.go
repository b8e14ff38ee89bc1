package models

import (
	"fmt"
	"strings"
	"time"
)

// ChannelKind names a verification medium.
type ChannelKind string

const (
	ChannelMobile ChannelKind = "mobile"
	ChannelEmail  ChannelKind = "email"
)

func ParseChannelKind(s string) (ChannelKind, error) {
	switch ChannelKind(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelMobile:
		return ChannelMobile, nil
	case ChannelEmail:
		return ChannelEmail, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

func (k ChannelKind) String() string {
	return string(k)
}

// Channel is a verification medium together with the address a code is sent
// to: an E.164 phone number for mobile, a mailbox for email.
type Channel struct {
	Kind        ChannelKind
	Destination string
}

func MobileChannel(phone string) Channel {
	return Channel{Kind: ChannelMobile, Destination: phone}
}

func EmailChannel(email string) Channel {
	return Channel{Kind: ChannelEmail, Destination: email}
}

// Challenge is the stored state of the one-time code for one (account,
// channel) pair. The record outlives individual codes so the resend counter
// survives reissues; an empty CodeHash means no code is outstanding.
type Challenge struct {
	AccountID         string      `json:"account_id" dynamodbav:"account_id"`
	Channel           ChannelKind `json:"channel" dynamodbav:"channel"`
	CodeHash          string      `json:"-" dynamodbav:"code_hash"`
	IssuedAt          time.Time   `json:"issued_at" dynamodbav:"issued_at"`
	ExpiresAt         time.Time   `json:"expires_at" dynamodbav:"expires_at"`
	Attempts          int         `json:"attempts" dynamodbav:"attempts"`
	ResendCount       int         `json:"resend_count" dynamodbav:"resend_count"`
	ResendWindowStart time.Time   `json:"resend_window_start" dynamodbav:"resend_window_start"`
	Version           int64       `json:"-" dynamodbav:"version"`
}

func (c *Challenge) GetPK() string {
	return "CHALLENGE!" + c.AccountID
}

func (c *Challenge) GetSK() string {
	return "CHANNEL!" + string(c.Channel)
}

// Outstanding reports whether a code has been issued and not yet consumed or
// invalidated. Expiry is not considered.
func (c *Challenge) Outstanding() bool {
	return c.CodeHash != "" && !c.ExpiresAt.IsZero()
}

// ClearCode drops the outstanding code and its attempt state, leaving the
// resend bookkeeping untouched.
func (c *Challenge) ClearCode() {
	c.CodeHash = ""
	c.IssuedAt = time.Time{}
	c.ExpiresAt = time.Time{}
	c.Attempts = 0
}
