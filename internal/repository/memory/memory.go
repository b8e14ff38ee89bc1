// Package memory provides process-local implementations of the repository
// contracts for local development and tests. Each store guards its records
// with a mutex, which gives the same per-record atomicity as the versioned
// DynamoDB writes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/chartmaker/chartmaker/internal/repository"
)

type AccountStore struct {
	mu        sync.Mutex
	byID      map[string]*models.Account
	usernames map[string]string
	emails    map[string]string
	phones    map[string]string
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		byID:      make(map[string]*models.Account),
		usernames: make(map[string]string),
		emails:    make(map[string]string),
		phones:    make(map[string]string),
	}
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	c.LoginHistory = append([]models.LoginEntry(nil), a.LoginHistory...)
	return &c
}

func (s *AccountStore) Create(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usernames[account.Username]; ok {
		return repository.ErrUsernameTaken
	}
	if _, ok := s.emails[account.Email]; ok {
		return repository.ErrEmailTaken
	}
	if account.Phone != "" {
		if _, ok := s.phones[account.Phone]; ok {
			return repository.ErrPhoneTaken
		}
	}
	if _, ok := s.byID[account.ID]; ok {
		return repository.ErrConflict
	}

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	account.Version = 1

	s.byID[account.ID] = copyAccount(account)
	s.usernames[account.Username] = account.ID
	s.emails[account.Email] = account.ID
	if account.Phone != "" {
		s.phones[account.Phone] = account.ID
	}
	return nil
}

func (s *AccountStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id), nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(s.emails[email]), nil
}

func (s *AccountStore) GetByPhone(ctx context.Context, phone string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(s.phones[phone]), nil
}

func (s *AccountStore) get(id string) *models.Account {
	a, ok := s.byID[id]
	if !ok {
		return nil
	}
	return copyAccount(a)
}

func (s *AccountStore) Update(ctx context.Context, id string, mutate repository.AccountMutation) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}

	account := copyAccount(current)
	write, err := mutate(account)
	if err != nil {
		return nil, err
	}
	if !write {
		return account, nil
	}

	account.Version = current.Version + 1
	account.UpdatedAt = time.Now().UTC()
	s.byID[id] = copyAccount(account)
	return account, nil
}

type challengeKey struct {
	accountID string
	channel   models.ChannelKind
}

type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[challengeKey]models.Challenge
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{challenges: make(map[challengeKey]models.Challenge)}
}

func (s *ChallengeStore) Get(ctx context.Context, accountID string, channel models.ChannelKind) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[challengeKey{accountID, channel}]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *ChallengeStore) Update(ctx context.Context, accountID string, channel models.ChannelKind, mutate repository.ChallengeMutation) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey{accountID, channel}
	c, ok := s.challenges[key]
	if !ok {
		c = models.Challenge{AccountID: accountID, Channel: channel}
	}

	expected := c.Version
	write, err := mutate(&c)
	if err != nil {
		return nil, err
	}
	if !write {
		return &c, nil
	}

	c.Version = expected + 1
	s.challenges[key] = c
	return &c, nil
}

type ActivityStore struct {
	mu         sync.Mutex
	activities map[string][]models.Activity
}

func NewActivityStore() *ActivityStore {
	return &ActivityStore{activities: make(map[string][]models.Activity)}
}

func (s *ActivityStore) Store(ctx context.Context, activity *models.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[activity.AccountID] = append(s.activities[activity.AccountID], *activity)
	return nil
}

func (s *ActivityStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append([]models.Activity(nil), s.activities[accountID]...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type SessionStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{revoked: make(map[string]time.Time)}
}

func (s *SessionStore) Revoke(ctx context.Context, session models.RevokedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[session.JTI] = session.ExpiresAt
	return nil
}

func (s *SessionStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.revoked[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		delete(s.revoked, jti)
		return false, nil
	}
	return true, nil
}
