package models

import "time"

type ActivityAction string

const (
	ActionAccountRegistered ActivityAction = "account_registered"
	ActionOTPSent           ActivityAction = "otp_sent"
	ActionOTPResend         ActivityAction = "otp_resend"
	ActionOTPDeliveryFailed ActivityAction = "otp_delivery_failed"
	ActionOTPVerified       ActivityAction = "otp_verified"
	ActionOTPFailed         ActivityAction = "otp_failed"
	ActionAccountVerified   ActivityAction = "account_verified"
	ActionLogin             ActivityAction = "login"
	ActionPasswordReset     ActivityAction = "password_reset"
)

// Activity is an audit record of an authentication event.
type Activity struct {
	ID        string            `json:"id" dynamodbav:"id"`
	AccountID string            `json:"account_id" dynamodbav:"account_id"`
	Action    ActivityAction    `json:"action" dynamodbav:"action"`
	Channel   ChannelKind       `json:"channel,omitempty" dynamodbav:"channel,omitempty"`
	IPAddress string            `json:"ip_address,omitempty" dynamodbav:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty" dynamodbav:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at" dynamodbav:"created_at"`
}

func (a *Activity) GetPK() string {
	return "ACTIVITY!" + a.AccountID
}

func (a *Activity) GetSK() string {
	return a.CreatedAt.UTC().Format(time.RFC3339Nano) + "!" + a.ID
}
