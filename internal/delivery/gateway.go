// Package delivery sends one-time codes over SMS and email.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/sirupsen/logrus"
)

var ErrChannelNotConfigured = errors.New("delivery: channel not configured")

// Sender delivers a rendered message to a single destination.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Gateway renders the code message and routes it to the sender registered
// for the channel. It never retries; the caller decides what a failure means.
type Gateway struct {
	senders map[models.ChannelKind]Sender
	ttl     time.Duration
	logger  *logrus.Logger
}

// NewGateway takes the code lifetime so the message can state it.
func NewGateway(ttl time.Duration, logger *logrus.Logger) *Gateway {
	return &Gateway{
		senders: make(map[models.ChannelKind]Sender),
		ttl:     ttl,
		logger:  logger,
	}
}

func (g *Gateway) Register(kind models.ChannelKind, sender Sender) {
	g.senders[kind] = sender
}

func (g *Gateway) Send(ctx context.Context, channel models.Channel, code string) error {
	sender, ok := g.senders[channel.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotConfigured, channel.Kind)
	}

	if err := sender.Send(ctx, channel.Destination, "Your verification code", g.message(code)); err != nil {
		return fmt.Errorf("failed to send %s code: %w", channel.Kind, err)
	}

	g.logger.WithField("channel", channel.Kind).Debug("Verification code delivered")
	return nil
}

func (g *Gateway) message(code string) string {
	minutes := int(g.ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your verification code is: %s. This code will expire in %d minutes. Do not share this code with anyone.", code, minutes)
}
