package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

var (
	ErrSMTPHostRequired = errors.New("smtp host and port are required")
	ErrSMTPNoSender     = errors.New("smtp sender address is required")
)

// SMTPSender sends plain-text mail through an SMTP relay.
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host string, port int, username, password, from string) (*SMTPSender, error) {
	if host == "" || port == 0 {
		return nil, ErrSMTPHostRequired
	}
	if from == "" {
		return nil, ErrSMTPNoSender
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	return &SMTPSender{
		addr:     fmt.Sprintf("%s:%d", host, port),
		from:     from,
		auth:     auth,
		sendMail: smtp.SendMail,
	}, nil
}

// Send returns when the relay accepted the message or ctx is done, whichever
// comes first. net/smtp has no context support, so an abandoned send keeps
// running in the background until the connection gives up.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	raw := strings.Join(headers, "\r\n") + "\r\n\r\n" + body

	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(s.addr, s.auth, envelopeAddress(s.from), []string{to}, []byte(raw))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// envelopeAddress extracts the bare address from "Name <addr>".
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return from
}
