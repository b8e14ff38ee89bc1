package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewTwilioClient_Defaults(t *testing.T) {
	client := NewTwilioClient("AC123", "token", "+15550000000", "")
	if client.BaseURL != "https://api.twilio.com" {
		t.Errorf("BaseURL = %q, want default", client.BaseURL)
	}
	if client.HTTPClient == nil || client.HTTPClient.Timeout != defaultTimeout {
		t.Errorf("HTTPClient timeout should be %v", defaultTimeout)
	}
	if !client.Configured() {
		t.Error("Configured() = false, want true")
	}
}

func TestTwilioSend_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("To"); got != "+15551234567" {
			t.Errorf("To = %q", got)
		}
		if got := r.PostForm.Get("From"); got != "+15550000000" {
			t.Errorf("From = %q", got)
		}
		if got := r.PostForm.Get("Body"); got != "code 123456" {
			t.Errorf("Body = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer server.Close()

	client := NewTwilioClient("AC123", "secret", "+15550000000", server.URL+"/")
	if err := client.Send(context.Background(), "+15551234567", "ignored", "code 123456"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestTwilioSend_NotConfigured(t *testing.T) {
	client := NewTwilioClient("", "", "", "")
	err := client.Send(context.Background(), "+15551234567", "", "body")
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("err = %v, want not configured", err)
	}
}

func TestTwilioSend_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid To"}`))
	}))
	defer server.Close()

	client := NewTwilioClient("AC123", "secret", "+15550000000", server.URL)
	err := client.Send(context.Background(), "+1", "", "body")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status=400") || !strings.Contains(err.Error(), "invalid To") {
		t.Errorf("err = %q", err.Error())
	}
}

func TestTwilioSend_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	// Unblock the handler before Close waits on it.
	defer close(release)

	client := NewTwilioClient("AC123", "secret", "+15550000000", server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := client.Send(ctx, "+15551234567", "", "body"); err == nil {
		t.Fatal("expected deadline error")
	}
}
