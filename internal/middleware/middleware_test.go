package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chartmaker/chartmaker/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type fakeAuthenticator struct {
	claims *service.Claims
	err    error
	token  string
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, token string) (*service.Claims, error) {
	f.token = token
	return f.claims, f.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Unmarshal %q: %v", body, err)
	}
	return resp.Error.Code
}

func TestRequireAuth(t *testing.T) {
	okClaims := &service.Claims{Type: "session", RegisteredClaims: jwt.RegisteredClaims{Subject: "acct-1", ID: "jti-1"}}

	tests := []struct {
		name     string
		header   string
		auth     *fakeAuthenticator
		status   int
		code     string
		wantNext bool
	}{
		{"missing header", "", &fakeAuthenticator{}, http.StatusUnauthorized, "UNAUTHORIZED", false},
		{"wrong scheme", "Basic abc", &fakeAuthenticator{}, http.StatusUnauthorized, "UNAUTHORIZED", false},
		{"invalid token", "Bearer bad", &fakeAuthenticator{err: fmt.Errorf("%w: expired", service.ErrInvalidToken)}, http.StatusUnauthorized, "UNAUTHORIZED", false},
		{"revoked", "Bearer tok", &fakeAuthenticator{err: &service.Error{Reason: service.ReasonSessionRevoked}}, http.StatusUnauthorized, "UNAUTHORIZED", false},
		{"store outage", "Bearer tok", &fakeAuthenticator{err: errors.New("redis down")}, http.StatusInternalServerError, "INTERNAL_ERROR", false},
		{"valid", "bearer tok", &fakeAuthenticator{claims: okClaims}, http.StatusOK, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				claims, ok := ClaimsFromContext(r.Context())
				if !ok || claims.Subject != "acct-1" {
					t.Errorf("claims = %+v, %v", claims, ok)
				}
				w.WriteHeader(http.StatusOK)
			})

			m := NewAuthMiddleware(tt.auth, testLogger())
			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			m.RequireAuth(next).ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if called != tt.wantNext {
				t.Errorf("next called = %v, want %v", called, tt.wantNext)
			}
			if tt.code != "" {
				if got := errorCode(t, rec.Body.Bytes()); got != tt.code {
					t.Errorf("code = %q, want %q", got, tt.code)
				}
			}
			if tt.wantNext && tt.auth.token != "tok" {
				t.Errorf("token passed = %q, want tok", tt.auth.token)
			}
		})
	}
}

func TestClaimsFromContext_Missing(t *testing.T) {
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Error("ClaimsFromContext on empty context returned ok")
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/request-code", strings.NewReader(`{"code":"123456"}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal log line %q: %v", buf.String(), err)
	}
	if entry["status"] != float64(http.StatusTooManyRequests) || entry["level"] != "warning" {
		t.Errorf("entry = %v", entry)
	}
	if entry["path"] != "/api/v1/auth/request-code" {
		t.Errorf("path = %v", entry["path"])
	}
	if strings.Contains(buf.String(), "123456") {
		t.Error("request body leaked into logs")
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := CORSMiddleware([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	// Browsers send the requested header names lower-cased.
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.EqualFold(got, "content-type") {
		t.Errorf("Allow-Headers = %q", got)
	}
}
