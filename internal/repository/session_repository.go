package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SessionRepository keeps the revocation list for session tokens. Entries
// expire together with the token they revoke.
type SessionRepository struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewSessionRepository(client *redis.Client, logger *logrus.Logger) *SessionRepository {
	return &SessionRepository{
		client: client,
		logger: logger,
	}
}

func revokedKey(jti string) string {
	return fmt.Sprintf("revoked_session:%s", jti)
}

func (r *SessionRepository) Revoke(ctx context.Context, session models.RevokedSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		// Already expired; nothing left to revoke.
		return nil
	}

	dataJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal revoked session: %w", err)
	}

	if err := r.client.Set(ctx, revokedKey(session.JTI), dataJSON, ttl).Err(); err != nil {
		r.logger.WithError(err).Error("Failed to store revoked session in Redis")
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	return nil
}

func (r *SessionRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := r.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoked session: %w", err)
	}
	return exists > 0, nil
}
