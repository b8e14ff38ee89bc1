package models

import (
	"reflect"
	"testing"
	"time"
)

func TestAccount_PendingChannelsAndState(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		pending []ChannelKind
		state   VerificationState
	}{
		{
			name:    "both registered, none verified",
			account: Account{Email: "a@example.com", Phone: "+15550000001"},
			pending: []ChannelKind{ChannelMobile, ChannelEmail},
			state:   StateUnverified,
		},
		{
			name:    "mobile verified",
			account: Account{Email: "a@example.com", Phone: "+15550000001", MobileVerified: true},
			pending: []ChannelKind{ChannelEmail},
			state:   StatePartiallyVerified,
		},
		{
			name:    "email only, verified",
			account: Account{Email: "a@example.com", EmailVerified: true},
			pending: nil,
			state:   StateVerified,
		},
		{
			name:    "email only, unverified",
			account: Account{Email: "a@example.com"},
			pending: []ChannelKind{ChannelEmail},
			state:   StateUnverified,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.account.PendingChannels(); !reflect.DeepEqual(got, tt.pending) {
				t.Errorf("PendingChannels() = %v, want %v", got, tt.pending)
			}
			if got := tt.account.VerificationState(); got != tt.state {
				t.Errorf("VerificationState() = %q, want %q", got, tt.state)
			}
		})
	}
}

func TestAccount_MarkVerifiedIsMonotonic(t *testing.T) {
	a := Account{Email: "a@example.com"}
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	a.MarkVerified(ChannelEmail, first)
	a.MarkVerified(ChannelEmail, first.Add(time.Hour))

	if !a.EmailVerified {
		t.Fatal("EmailVerified = false after MarkVerified")
	}
	if !a.EmailVerifiedAt.Equal(first) {
		t.Errorf("EmailVerifiedAt = %v, want first verification time %v", a.EmailVerifiedAt, first)
	}
	if a.MobileVerified {
		t.Error("MarkVerified(email) must not touch the mobile flag")
	}
}

func TestAccount_Channel(t *testing.T) {
	a := Account{Email: "a@example.com"}
	if _, ok := a.Channel(ChannelMobile); ok {
		t.Error("Channel(mobile) ok = true for account without phone")
	}
	ch, ok := a.Channel(ChannelEmail)
	if !ok || ch != EmailChannel("a@example.com") {
		t.Errorf("Channel(email) = %+v, %v", ch, ok)
	}
	if a.PreferredChannel() != ChannelEmail {
		t.Errorf("PreferredChannel() = %q, want email", a.PreferredChannel())
	}
	a.Phone = "+15550000001"
	if a.PreferredChannel() != ChannelMobile {
		t.Errorf("PreferredChannel() = %q, want mobile", a.PreferredChannel())
	}
}

func TestAccount_AppendLoginKeepsNewest(t *testing.T) {
	var a Account
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		a.AppendLogin(LoginEntry{Timestamp: base.Add(time.Duration(i) * time.Minute)}, 10)
	}
	if len(a.LoginHistory) != 10 {
		t.Fatalf("len(LoginHistory) = %d, want 10", len(a.LoginHistory))
	}
	if !a.LoginHistory[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("oldest kept entry = %v, want %v", a.LoginHistory[0].Timestamp, base.Add(2*time.Minute))
	}
	if !a.LastLoginAt.Equal(base.Add(11 * time.Minute)) {
		t.Errorf("LastLoginAt = %v", a.LastLoginAt)
	}
}
