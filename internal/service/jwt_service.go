package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/chartmaker/chartmaker/internal/config"
	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const sessionTokenType = "session"

// ErrInvalidToken wraps every reason a presented token is rejected.
var ErrInvalidToken = errors.New("invalid token")

type JWTService struct {
	secretKey     []byte
	sessionExpiry time.Duration
	clock         Clock
	logger        *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, clock Clock, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}
	if cfg.SessionExpiry <= 0 {
		return nil, fmt.Errorf("session expiry must be positive")
	}

	return &JWTService{
		secretKey:     secretKey,
		sessionExpiry: cfg.SessionExpiry,
		clock:         clock,
		logger:        logger,
	}, nil
}

type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// IssueSessionToken signs a session token for accountID. The jti identifies
// the session for revocation on logout.
func (s *JWTService) IssueSessionToken(accountID string) (*models.SessionToken, error) {
	now := s.clock.Now()
	jti := uuid.New().String()
	expiresAt := now.Add(s.sessionExpiry)

	claims := &Claims{
		Type: sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign session token")
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &models.SessionToken{
		Token:     signed,
		TokenType: "Bearer",
		JTI:       jti,
		AccountID: accountID,
		ExpiresAt: expiresAt.UTC(),
		ExpiresIn: int64(s.sessionExpiry.Seconds()),
	}, nil
}

func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.clock.Now))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Type != sessionTokenType {
		return nil, fmt.Errorf("%w: not a session token", ErrInvalidToken)
	}

	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidToken)
	}

	return claims, nil
}
