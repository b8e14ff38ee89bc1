package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chartmaker/chartmaker/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

func newTestJWTService(t *testing.T, expiry time.Duration, clock Clock) *JWTService {
	t.Helper()
	s, err := NewJWTService(&config.JWTConfig{SecretKey: testSecret, SessionExpiry: expiry}, clock, testLogger())
	if err != nil {
		t.Fatalf("NewJWTService: %v", err)
	}
	return s
}

func TestNewJWTService_RejectsShortSecret(t *testing.T) {
	_, err := NewJWTService(&config.JWTConfig{SecretKey: "short", SessionExpiry: time.Hour}, SystemClock{}, testLogger())
	if err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Fatalf("err = %v, want short secret error", err)
	}
}

func TestJWTService_IssueAndVerify(t *testing.T) {
	clock := newFakeClock()
	s := newTestJWTService(t, 30*24*time.Hour, clock)

	session, err := s.IssueSessionToken("acct-1")
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	if session.TokenType != "Bearer" || session.ExpiresIn != int64((30*24*time.Hour).Seconds()) {
		t.Errorf("session = %+v", session)
	}
	if want := clock.Now().Add(30 * 24 * time.Hour); !session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, want)
	}

	claims, err := s.VerifyToken(session.Token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != "acct-1" || claims.ID != session.JTI || claims.Type != "session" {
		t.Errorf("claims = %+v", claims)
	}

	other, err := s.IssueSessionToken("acct-1")
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	if other.JTI == session.JTI {
		t.Error("each session needs its own jti")
	}
}

func TestJWTService_VerifyRejects(t *testing.T) {
	s := newTestJWTService(t, time.Hour, SystemClock{})

	sign := func(claims *Claims, key string) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		if err != nil {
			t.Fatalf("SignedString: %v", err)
		}
		return tok
	}
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "acct-1",
		ID:        "jti-1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))

	tests := []struct {
		name  string
		token string
	}{
		{"wrong key", sign(&Claims{Type: "session", RegisteredClaims: valid}, "ffffffffffffffffffffffffffffffff")},
		{"expired", sign(&Claims{Type: "session", RegisteredClaims: expired}, testSecret)},
		{"wrong type", sign(&Claims{Type: "refresh", RegisteredClaims: valid}, testSecret)},
		{"malformed", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.VerifyToken(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTService_ExpiryFollowsClock(t *testing.T) {
	clock := newFakeClock()
	s := newTestJWTService(t, time.Hour, clock)

	session, err := s.IssueSessionToken("acct-1")
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, err := s.VerifyToken(session.Token); err != nil {
		t.Fatalf("VerifyToken before expiry: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := s.VerifyToken(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken after expiry", err)
	}
}
