package delivery

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/sirupsen/logrus"
)

type recordingSender struct {
	to, subject, body string
	err               error
}

func (s *recordingSender) Send(ctx context.Context, to, subject, body string) error {
	s.to, s.subject, s.body = to, subject, body
	return s.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestGateway_RoutesByChannel(t *testing.T) {
	sms := &recordingSender{}
	email := &recordingSender{}
	g := NewGateway(5*time.Minute, testLogger())
	g.Register(models.ChannelMobile, sms)
	g.Register(models.ChannelEmail, email)

	if err := g.Send(context.Background(), models.EmailChannel("user@example.com"), "482913"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sms.to != "" {
		t.Errorf("sms sender should not be used, got to=%q", sms.to)
	}
	if email.to != "user@example.com" {
		t.Errorf("email to = %q", email.to)
	}
	want := "Your verification code is: 482913. This code will expire in 5 minutes. Do not share this code with anyone."
	if email.body != want {
		t.Errorf("body = %q, want %q", email.body, want)
	}
}

func TestGateway_UnconfiguredChannel(t *testing.T) {
	g := NewGateway(5*time.Minute, testLogger())
	err := g.Send(context.Background(), models.MobileChannel("+15551234567"), "123456")
	if !errors.Is(err, ErrChannelNotConfigured) {
		t.Fatalf("err = %v, want ErrChannelNotConfigured", err)
	}
}

func TestGateway_WrapsSenderError(t *testing.T) {
	boom := errors.New("relay down")
	g := NewGateway(time.Minute, testLogger())
	g.Register(models.ChannelMobile, &recordingSender{err: boom})

	err := g.Send(context.Background(), models.MobileChannel("+15551234567"), "123456")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if !strings.Contains(err.Error(), "mobile") {
		t.Errorf("err = %q, want channel in message", err.Error())
	}
}
