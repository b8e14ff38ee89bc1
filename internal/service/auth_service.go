package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chartmaker/chartmaker/internal/config"
	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/chartmaker/chartmaker/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByPhone(ctx context.Context, phone string) (*models.Account, error)
	Update(ctx context.Context, id string, mutate repository.AccountMutation) (*models.Account, error)
}

type SessionStore interface {
	Revoke(ctx context.Context, session models.RevokedSession) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Deliverer sends a code to a channel's destination.
type Deliverer interface {
	Send(ctx context.Context, channel models.Channel, code string) error
}

// ClientInfo describes the caller of a request for login history and the
// activity log.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type RegisterInput struct {
	Name     string
	Username string
	Email    string
	Phone    string
	Password string
}

type RegisterResult struct {
	Account *models.Account
	// Channel is where the first code went.
	Channel        models.ChannelKind
	ExpiresAt      time.Time
	DeliveryFailed bool
}

type CodeSent struct {
	AccountID string
	Channel   models.ChannelKind
	ExpiresAt time.Time
}

type SubmitCodeResult struct {
	Account       *models.Account
	FullyVerified bool
	// Session is set when auto-login is enabled and this code completed
	// verification.
	Session *models.SessionToken
}

// LoginResult is either a session or, when VerificationRequired is set, the
// list of channels still blocking login.
type LoginResult struct {
	Session              *models.SessionToken
	Account              *models.Account
	VerificationRequired bool
	Pending              []models.ChannelKind
	AccountID            string
}

type AuthService struct {
	accounts  AccountStore
	sessions  SessionStore
	otp       *OTPService
	delivery  Deliverer
	tokens    *JWTService
	activity  *ActivityService
	passwords *Hasher
	clock     Clock
	cfg       config.AuthConfig
	timeout   time.Duration
	logger    *logrus.Logger
}

type AuthServiceDeps struct {
	Accounts AccountStore
	Sessions SessionStore
	OTP      *OTPService
	Delivery Deliverer
	Tokens   *JWTService
	Activity *ActivityService
	Clock    Clock
}

func NewAuthService(deps AuthServiceDeps, cfg *config.AuthConfig, deliveryTimeout time.Duration, logger *logrus.Logger) *AuthService {
	return &AuthService{
		accounts:  deps.Accounts,
		sessions:  deps.Sessions,
		otp:       deps.OTP,
		delivery:  deps.Delivery,
		tokens:    deps.Tokens,
		activity:  deps.Activity,
		passwords: NewHasher(cfg.PasswordCost),
		clock:     deps.Clock,
		cfg:       *cfg,
		timeout:   deliveryTimeout,
		logger:    logger,
	}
}

// Register creates an account and sends the first code to its preferred
// channel. A failed delivery does not undo the registration; the caller can
// request a new code.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, client ClientInfo) (*RegisterResult, error) {
	email := NormalizeEmail(in.Email)
	if !IsValidEmail(email) {
		return nil, newError(ReasonInvalidInput, "A valid email address is required")
	}

	var phone string
	if strings.TrimSpace(in.Phone) != "" {
		if phone = NormalizePhone(in.Phone); phone == "" {
			return nil, newError(ReasonInvalidInput, "Phone number must be in international format")
		}
	}

	username := strings.ToLower(strings.TrimSpace(in.Username))
	if username == "" {
		return nil, newError(ReasonInvalidInput, "Username is required")
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		ID:                  uuid.New().String(),
		Name:                strings.TrimSpace(in.Name),
		Username:            username,
		Email:               email,
		Phone:               phone,
		PasswordHash:        hash,
		Role:                models.RoleUser,
		Active:              true,
		RequireVerification: s.cfg.RequireVerification,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		switch {
		case errors.Is(err, repository.ErrUsernameTaken):
			return nil, newError(ReasonUsernameTaken, "Username is already taken")
		case errors.Is(err, repository.ErrEmailTaken):
			return nil, newError(ReasonEmailTaken, "Email is already registered")
		case errors.Is(err, repository.ErrPhoneTaken):
			return nil, newError(ReasonPhoneTaken, "Phone number is already registered")
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"has_phone":  phone != "",
	}).Info("Account registered")
	s.activity.Record(ctx, models.Activity{
		AccountID: account.ID,
		Action:    models.ActionAccountRegistered,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})

	result := &RegisterResult{Account: account, Channel: account.PreferredChannel()}
	sent, err := s.sendCode(ctx, account, result.Channel, false, client)
	if err != nil {
		if _, ok := AsError(err); !ok {
			s.logger.WithError(err).WithField("account_id", account.ID).Error("Failed to issue registration code")
		}
		result.DeliveryFailed = true
		return result, nil
	}

	result.ExpiresAt = sent.ExpiresAt
	return result, nil
}

// RequestCode sends a fresh code to one of the account's channels, subject to
// the resend policy.
func (s *AuthService) RequestCode(ctx context.Context, accountID string, channel models.ChannelKind, client ClientInfo) (*CodeSent, error) {
	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.sendCode(ctx, account, channel, true, client)
}

func (s *AuthService) sendCode(ctx context.Context, account *models.Account, kind models.ChannelKind, throttle bool, client ClientInfo) (*CodeSent, error) {
	channel, ok := account.Channel(kind)
	if !ok {
		return nil, newError(ReasonChannelUnavailable, "No %s is registered for this account", channelNoun(kind))
	}

	if !throttle {
		issued, err := s.otp.Issue(ctx, account.ID, kind)
		if err != nil {
			return nil, err
		}
		return s.deliver(ctx, channel, issued, client)
	}

	issued, decision, err := s.otp.IssueIfAllowed(ctx, account.ID, kind)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		e := newError(ReasonResendThrottled, "%s", decision.Reason)
		e.Throttle = decision.Throttle
		e.RetryAfter = decision.RetryAfter
		return nil, e
	}
	return s.deliver(ctx, channel, issued, client)
}

// deliver sends issued within the configured timeout. On failure the code is
// invalidated so the next request starts clean.
func (s *AuthService) deliver(ctx context.Context, channel models.Channel, issued *IssuedCode, client ClientInfo) (*CodeSent, error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.delivery.Send(sendCtx, channel, issued.Code); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"account_id": issued.AccountID,
			"channel":    channel.Kind,
		}).Warn("Code delivery failed")

		if invErr := s.otp.Invalidate(context.WithoutCancel(ctx), issued); invErr != nil {
			s.logger.WithError(invErr).WithField("account_id", issued.AccountID).Error("Failed to invalidate undelivered code")
		}

		s.activity.Record(ctx, models.Activity{
			AccountID: issued.AccountID,
			Action:    models.ActionOTPDeliveryFailed,
			Channel:   channel.Kind,
			IPAddress: client.IPAddress,
			UserAgent: client.UserAgent,
		})
		return nil, newError(ReasonDeliveryFailed, "Could not send the code to your %s. Please try again.", channelNoun(channel.Kind))
	}

	action := models.ActionOTPSent
	if issued.Resend {
		action = models.ActionOTPResend
	}
	s.activity.Record(ctx, models.Activity{
		AccountID: issued.AccountID,
		Action:    action,
		Channel:   channel.Kind,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})

	return &CodeSent{AccountID: issued.AccountID, Channel: channel.Kind, ExpiresAt: issued.ExpiresAt}, nil
}

// SubmitCode verifies a code for one of the account's channels.
func (s *AuthService) SubmitCode(ctx context.Context, accountID string, kind models.ChannelKind, code string, client ClientInfo) (*SubmitCodeResult, error) {
	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	verified, err := s.verifyCode(ctx, account, kind, code, client)
	if err != nil {
		return nil, err
	}
	updated := verified.Account

	result := &SubmitCodeResult{
		Account:       updated,
		FullyVerified: updated.VerificationState() == models.StateVerified,
	}

	if result.FullyVerified && account.VerificationState() != models.StateVerified {
		s.activity.Record(ctx, models.Activity{
			AccountID: updated.ID,
			Action:    models.ActionAccountVerified,
			IPAddress: client.IPAddress,
			UserAgent: client.UserAgent,
		})
		if s.cfg.AutoLogin {
			session, err := s.tokens.IssueSessionToken(updated.ID)
			if err != nil {
				return nil, err
			}
			result.Session = session
		}
	}

	return result, nil
}

func (s *AuthService) verifyCode(ctx context.Context, account *models.Account, kind models.ChannelKind, code string, client ClientInfo) (*VerificationResult, error) {
	if _, ok := account.Channel(kind); !ok {
		return nil, newError(ReasonChannelUnavailable, "No %s is registered for this account", channelNoun(kind))
	}

	result, err := s.otp.Verify(ctx, account.ID, kind, code)
	if err != nil {
		return nil, err
	}

	if !result.Success {
		s.activity.Record(ctx, models.Activity{
			AccountID: account.ID,
			Action:    models.ActionOTPFailed,
			Channel:   kind,
			IPAddress: client.IPAddress,
			UserAgent: client.UserAgent,
			Metadata:  map[string]string{"reason": string(result.Reason)},
		})
		return nil, verificationError(result)
	}

	s.activity.Record(ctx, models.Activity{
		AccountID: account.ID,
		Action:    models.ActionOTPVerified,
		Channel:   kind,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})
	return result, nil
}

// Login authenticates identifier (an email address or phone number) and
// password. An account still missing channel verification gets a
// VerificationRequired result instead of a session.
func (s *AuthService) Login(ctx context.Context, identifier, password string, client ClientInfo) (*LoginResult, error) {
	account, err := s.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, newError(ReasonAccountDeactivated, "This account has been deactivated")
	}
	if !s.passwords.Matches(account.PasswordHash, password) {
		s.logger.WithField("account_id", account.ID).Info("Login rejected: invalid credentials")
		return nil, newError(ReasonInvalidCredentials, "Invalid credentials")
	}

	if account.RequireVerification {
		if pending := account.PendingChannels(); len(pending) > 0 {
			return &LoginResult{
				VerificationRequired: true,
				Pending:              pending,
				AccountID:            account.ID,
			}, nil
		}
	}

	entry := models.LoginEntry{
		Timestamp: s.clock.Now(),
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	}
	updated, err := s.accounts.Update(ctx, account.ID, func(a *models.Account) (bool, error) {
		a.AppendLogin(entry, s.cfg.LoginHistorySize)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	session, err := s.tokens.IssueSessionToken(updated.ID)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("account_id", updated.ID).Info("Login succeeded")
	s.activity.Record(ctx, models.Activity{
		AccountID: updated.ID,
		Action:    models.ActionLogin,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})

	return &LoginResult{Session: session, Account: updated, AccountID: updated.ID}, nil
}

// ForgotPassword sends a reset code to the account behind identifier. kind
// may be empty, in which case the channel matching the identifier is used.
func (s *AuthService) ForgotPassword(ctx context.Context, identifier string, kind models.ChannelKind, client ClientInfo) (*CodeSent, error) {
	account, err := s.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, newError(ReasonAccountDeactivated, "This account has been deactivated")
	}
	if kind == "" {
		kind = identifierChannel(identifier)
	}
	return s.sendCode(ctx, account, kind, true, client)
}

// ResetPassword replaces the password after verifying a reset code and signs
// the caller in. Proving control of the channel also marks it verified.
func (s *AuthService) ResetPassword(ctx context.Context, identifier string, kind models.ChannelKind, code, newPassword string, client ClientInfo) (*models.SessionToken, error) {
	account, err := s.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, newError(ReasonAccountDeactivated, "This account has been deactivated")
	}
	if kind == "" {
		kind = identifierChannel(identifier)
	}

	// Hash first so a rejected password never consumes the code.
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	verified, err := s.verifyCode(ctx, account, kind, code, client)
	if err != nil {
		return nil, err
	}

	if _, err := s.accounts.Update(ctx, account.ID, func(a *models.Account) (bool, error) {
		a.PasswordHash = hash
		return true, nil
	}); err != nil {
		s.otp.restore(ctx, verified)
		return nil, fmt.Errorf("failed to reset password: %w", err)
	}

	s.logger.WithField("account_id", account.ID).Info("Password reset")
	s.activity.Record(ctx, models.Activity{
		AccountID: account.ID,
		Action:    models.ActionPasswordReset,
		Channel:   kind,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})

	return s.tokens.IssueSessionToken(account.ID)
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := s.passwords.Hash(password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", newError(ReasonInvalidInput, "Password must be at most 72 bytes")
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// Authenticate validates a bearer token and rejects revoked sessions.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return nil, err
	}

	revoked, err := s.sessions.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if revoked {
		return nil, newError(ReasonSessionRevoked, "Session has been revoked")
	}

	return claims, nil
}

func (s *AuthService) Logout(ctx context.Context, claims *Claims) error {
	session := models.RevokedSession{
		JTI:       claims.ID,
		AccountID: claims.Subject,
		RevokedAt: s.clock.Now(),
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}

	if err := s.sessions.Revoke(ctx, session); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	s.logger.WithField("account_id", claims.Subject).Info("Session revoked")
	return nil
}

func (s *AuthService) Profile(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, newError(ReasonNotFound, "Account not found")
	}
	return account, nil
}

func (s *AuthService) RecentActivity(ctx context.Context, accountID string, limit int) ([]models.Activity, error) {
	activities, err := s.activity.Recent(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return activities, nil
}

func (s *AuthService) activeAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.Profile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, newError(ReasonAccountDeactivated, "This account has been deactivated")
	}
	return account, nil
}

// resolve finds the account behind an email address or phone number.
func (s *AuthService) resolve(ctx context.Context, identifier string) (*models.Account, error) {
	identifier = strings.TrimSpace(identifier)

	var (
		account *models.Account
		err     error
	)
	if IsEmailIdentifier(identifier) {
		account, err = s.accounts.GetByEmail(ctx, NormalizeEmail(identifier))
	} else if phone := NormalizePhone(identifier); phone != "" {
		account, err = s.accounts.GetByPhone(ctx, phone)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return nil, newError(ReasonNotFound, "No account matches that email or phone number")
	}
	return account, nil
}

func identifierChannel(identifier string) models.ChannelKind {
	if IsEmailIdentifier(identifier) {
		return models.ChannelEmail
	}
	return models.ChannelMobile
}

func channelNoun(kind models.ChannelKind) string {
	if kind == models.ChannelMobile {
		return "phone number"
	}
	return "email address"
}
