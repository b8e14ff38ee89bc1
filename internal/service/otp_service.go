package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/chartmaker/chartmaker/internal/config"
	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/chartmaker/chartmaker/internal/repository"
	"github.com/sirupsen/logrus"
)

// resendWindow is the rolling period MaxResendsPerDay is counted over.
const resendWindow = 24 * time.Hour

type ChallengeStore interface {
	Get(ctx context.Context, accountID string, channel models.ChannelKind) (*models.Challenge, error)
	Update(ctx context.Context, accountID string, channel models.ChannelKind, mutate repository.ChallengeMutation) (*models.Challenge, error)
}

// VerifiedMarker records that an account proved control of a channel.
type VerifiedMarker interface {
	Update(ctx context.Context, id string, mutate repository.AccountMutation) (*models.Account, error)
}

// IssuedCode is a freshly generated code. Code is the only copy of the
// plaintext and must go nowhere except the delivery gateway.
type IssuedCode struct {
	AccountID string
	Channel   models.ChannelKind
	Code      string
	ExpiresAt time.Time
	Resend    bool
	hash      string
}

type VerificationResult struct {
	Success           bool
	Reason            Reason
	RemainingAttempts int
	// Account is the account after the channel was marked verified.
	Account *models.Account

	consumed *consumedCode
}

// consumedCode is the challenge as it was before a successful verify cleared
// it, kept so the code can be put back when a follow-up write fails.
type consumedCode struct {
	before  models.Challenge
	version int64
}

type ResendDecision struct {
	Allowed    bool
	Throttle   ThrottleReason
	Reason     string
	RetryAfter time.Duration
}

// OTPService owns the lifecycle of one-time codes: issue, verify, resend
// throttling and invalidation. All state changes go through the store's
// versioned Update, so concurrent calls for the same (account, channel)
// never lose an attempt or resurrect a consumed code.
type OTPService struct {
	store    ChallengeStore
	accounts VerifiedMarker
	hasher   *Hasher
	clock    Clock
	cfg      config.OTPConfig
	logger   *logrus.Logger

	generate func(length int) (string, error)
}

func NewOTPService(store ChallengeStore, accounts VerifiedMarker, cfg *config.OTPConfig, clock Clock, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:    store,
		accounts: accounts,
		hasher:   NewHasher(cfg.HashCost),
		clock:    clock,
		cfg:      *cfg,
		logger:   logger,
		generate: generateCode,
	}
}

// Issue replaces any outstanding code for the pair with a new one. The
// previous code stops verifying the moment this returns.
func (s *OTPService) Issue(ctx context.Context, accountID string, channel models.ChannelKind) (*IssuedCode, error) {
	issued, _, err := s.issue(ctx, accountID, channel, false)
	return issued, err
}

// IssueIfAllowed applies the resend policy and issues in the same atomic
// update, so two concurrent resend requests cannot both slip under the
// limit. When the policy refuses, the returned decision says why and no code
// is issued.
func (s *OTPService) IssueIfAllowed(ctx context.Context, accountID string, channel models.ChannelKind) (*IssuedCode, *ResendDecision, error) {
	return s.issue(ctx, accountID, channel, true)
}

func (s *OTPService) issue(ctx context.Context, accountID string, channel models.ChannelKind, throttle bool) (*IssuedCode, *ResendDecision, error) {
	code, err := s.generate(s.cfg.Length)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate code: %w", err)
	}

	hash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash code: %w", err)
	}

	issued := &IssuedCode{AccountID: accountID, Channel: channel, Code: code, hash: hash}
	var decision ResendDecision

	_, err = s.store.Update(ctx, accountID, channel, func(c *models.Challenge) (bool, error) {
		now := s.clock.Now()
		if throttle {
			decision = s.resendDecision(c, now)
			if !decision.Allowed {
				return false, nil
			}
		}

		// A throttled issue is a requested resend and counts even when it
		// opens the window.
		if c.ResendWindowStart.IsZero() || now.Sub(c.ResendWindowStart) >= resendWindow {
			c.ResendWindowStart = now
			c.ResendCount = 0
			if throttle {
				c.ResendCount = 1
			}
			issued.Resend = false
		} else {
			c.ResendCount++
			issued.Resend = true
		}

		c.CodeHash = hash
		c.IssuedAt = now
		c.ExpiresAt = now.Add(s.cfg.TTL)
		c.Attempts = 0
		issued.ExpiresAt = c.ExpiresAt
		return true, nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("account_id", accountID).Error("Failed to store verification code")
		return nil, nil, fmt.Errorf("failed to store code: %w", err)
	}

	if throttle && !decision.Allowed {
		s.logger.WithFields(logrus.Fields{
			"account_id": accountID,
			"channel":    channel,
			"throttle":   decision.Throttle,
		}).Info("Code resend throttled")
		return nil, &decision, nil
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"channel":    channel,
		"expires_at": issued.ExpiresAt,
		"resend":     issued.Resend,
	}).Info("Verification code issued")

	decision.Allowed = true
	return issued, &decision, nil
}

// Verify checks code against the outstanding code for the pair. Checks run
// in a fixed order: no code, expired, attempts exhausted, mismatch. Only a
// mismatch consumes an attempt; a match consumes the code and marks the
// channel verified on the account.
func (s *OTPService) Verify(ctx context.Context, accountID string, channel models.ChannelKind, code string) (*VerificationResult, error) {
	var result VerificationResult
	var before models.Challenge

	stored, err := s.store.Update(ctx, accountID, channel, func(c *models.Challenge) (bool, error) {
		result = VerificationResult{}
		now := s.clock.Now()

		if !c.Outstanding() {
			result.Reason = ReasonNoChallenge
			return false, nil
		}
		if !now.Before(c.ExpiresAt) {
			result.Reason = ReasonExpired
			return false, nil
		}
		if c.Attempts >= s.cfg.MaxAttempts {
			result.Reason = ReasonTooManyAttempts
			return false, nil
		}

		if !s.hasher.Matches(c.CodeHash, code) {
			c.Attempts++
			result.Reason = ReasonInvalidOTP
			result.RemainingAttempts = max(s.cfg.MaxAttempts-c.Attempts, 0)
			return true, nil
		}

		before = *c
		c.ClearCode()
		c.ResendCount = 0
		c.ResendWindowStart = time.Time{}
		result.Success = true
		return true, nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("account_id", accountID).Error("Failed to verify code")
		return nil, fmt.Errorf("failed to verify code: %w", err)
	}

	fields := logrus.Fields{"account_id": accountID, "channel": channel}
	if !result.Success {
		fields["reason"] = result.Reason
		s.logger.WithFields(fields).Info("Code verification failed")
		return &result, nil
	}

	result.consumed = &consumedCode{before: before, version: stored.Version}

	verifiedAt := s.clock.Now()
	account, err := s.accounts.Update(ctx, accountID, func(a *models.Account) (bool, error) {
		if a.IsVerified(channel) {
			return false, nil
		}
		a.MarkVerified(channel, verifiedAt)
		return true, nil
	})
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("Failed to mark channel verified")
		s.restore(ctx, &result)
		return nil, fmt.Errorf("failed to mark channel verified: %w", err)
	}

	result.Account = account
	s.logger.WithFields(fields).Info("Code verified")
	return &result, nil
}

// restore puts back the code a successful Verify consumed, so the caller can
// retry with the same code after a later write failed. Nothing is restored
// when the challenge changed since, e.g. a new code was issued.
func (s *OTPService) restore(ctx context.Context, result *VerificationResult) {
	if result == nil || result.consumed == nil {
		return
	}
	consumed := result.consumed
	result.consumed = nil

	restored := false
	_, err := s.store.Update(context.WithoutCancel(ctx), consumed.before.AccountID, consumed.before.Channel, func(c *models.Challenge) (bool, error) {
		restored = false
		if c.Version != consumed.version || c.Outstanding() {
			return false, nil
		}
		c.CodeHash = consumed.before.CodeHash
		c.IssuedAt = consumed.before.IssuedAt
		c.ExpiresAt = consumed.before.ExpiresAt
		c.Attempts = consumed.before.Attempts
		c.ResendCount = consumed.before.ResendCount
		c.ResendWindowStart = consumed.before.ResendWindowStart
		restored = true
		return true, nil
	})

	entry := s.logger.WithFields(logrus.Fields{
		"account_id": consumed.before.AccountID,
		"channel":    consumed.before.Channel,
	})
	switch {
	case err != nil:
		entry.WithError(err).Error("Failed to restore consumed code")
	case restored:
		entry.Warn("Consumed code restored after failed write")
	default:
		entry.Info("Challenge changed since verify, consumed code not restored")
	}
}

// CanResend reports whether a new code may be sent now. It only reads;
// IssueIfAllowed is the race-free way to act on the answer.
func (s *OTPService) CanResend(ctx context.Context, accountID string, channel models.ChannelKind) (*ResendDecision, error) {
	c, err := s.store.Get(ctx, accountID, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	if c == nil {
		return &ResendDecision{Allowed: true}, nil
	}

	decision := s.resendDecision(c, s.clock.Now())
	return &decision, nil
}

func (s *OTPService) resendDecision(c *models.Challenge, now time.Time) ResendDecision {
	windowOpen := !c.ResendWindowStart.IsZero() && now.Sub(c.ResendWindowStart) < resendWindow
	if windowOpen && c.ResendCount >= s.cfg.MaxResendsPerDay {
		return ResendDecision{
			Throttle:   ThrottleDailyMax,
			Reason:     "Maximum resend attempts reached for today",
			RetryAfter: c.ResendWindowStart.Add(resendWindow).Sub(now),
		}
	}

	if !c.IssuedAt.IsZero() {
		if elapsed := now.Sub(c.IssuedAt); elapsed < s.cfg.ResendInterval {
			wait := s.cfg.ResendInterval - elapsed
			return ResendDecision{
				Throttle:   ThrottleTooSoon,
				Reason:     fmt.Sprintf("Please wait %d seconds before requesting a new code", int(math.Ceil(wait.Seconds()))),
				RetryAfter: wait,
			}
		}
	}

	return ResendDecision{Allowed: true}
}

// Invalidate clears issued when its delivery failed. The resend count is
// kept. A newer code issued in the meantime is left alone.
func (s *OTPService) Invalidate(ctx context.Context, issued *IssuedCode) error {
	cleared := false
	_, err := s.store.Update(ctx, issued.AccountID, issued.Channel, func(c *models.Challenge) (bool, error) {
		cleared = false
		if !c.Outstanding() || c.CodeHash != issued.hash {
			return false, nil
		}
		c.ClearCode()
		cleared = true
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate code: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": issued.AccountID,
		"channel":    issued.Channel,
		"cleared":    cleared,
	}).Info("Undelivered code invalidated")
	return nil
}

// generateCode draws uniformly from the length-digit numbers with no leading
// zero, e.g. [100000, 999999] for six digits.
func generateCode(length int) (string, error) {
	low := int64(1)
	for i := 1; i < length; i++ {
		low *= 10
	}

	n, err := rand.Int(rand.Reader, big.NewInt(9*low))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(low+n.Int64(), 10), nil
}
