package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chartmaker/chartmaker/internal/config"
	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/chartmaker/chartmaker/internal/repository"
	"github.com/chartmaker/chartmaker/internal/repository/memory"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// newFakeClock starts at the current second so anything stored against the
// wall clock (such as session revocations) stays consistent with it.
func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testOTPConfig() config.OTPConfig {
	cfg := config.DefaultOTPConfig()
	cfg.HashCost = bcrypt.MinCost
	return cfg
}

// fixedCodes makes the generator hand out codes in order, repeating the last.
func fixedCodes(codes ...string) func(int) (string, error) {
	var mu sync.Mutex
	i := 0
	return func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[min(i, len(codes)-1)]
		i++
		return code, nil
	}
}

type fakeDeliverer struct {
	mu    sync.Mutex
	sent  map[string]string
	calls int
	err   error
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{sent: make(map[string]string)}
}

func (d *fakeDeliverer) Send(ctx context.Context, channel models.Channel, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return d.err
	}
	d.sent[channel.Destination] = code
	return nil
}

func (d *fakeDeliverer) last(destination string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[destination]
}

func (d *fakeDeliverer) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// flakyAccounts is a memory account store whose updates can be made to fail
// after a number of successful ones.
type flakyAccounts struct {
	*memory.AccountStore

	mu   sync.Mutex
	skip int
	err  error
}

func newFlakyAccounts() *flakyAccounts {
	return &flakyAccounts{AccountStore: memory.NewAccountStore()}
}

// failUpdatesAfter lets skip more updates through, then fails every update
// with err. A nil err restores normal behaviour.
func (f *flakyAccounts) failUpdatesAfter(skip int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skip = skip
	f.err = err
}

func (f *flakyAccounts) Update(ctx context.Context, id string, mutate repository.AccountMutation) (*models.Account, error) {
	f.mu.Lock()
	err := f.err
	if err != nil && f.skip > 0 {
		f.skip--
		err = nil
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return f.AccountStore.Update(ctx, id, mutate)
}

type otpHarness struct {
	svc        *OTPService
	clock      *fakeClock
	challenges *memory.ChallengeStore
	accounts   *flakyAccounts
	account    *models.Account
}

func newOTPHarness(t *testing.T, cfg config.OTPConfig) *otpHarness {
	t.Helper()

	accounts := newFlakyAccounts()
	account := &models.Account{
		ID:                  "acct-1",
		Username:            "ada",
		Email:               "ada@example.com",
		Phone:               "+15551234567",
		Active:              true,
		RequireVerification: true,
	}
	if err := accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock := newFakeClock()
	challenges := memory.NewChallengeStore()
	return &otpHarness{
		svc:        NewOTPService(challenges, accounts, &cfg, clock, testLogger()),
		clock:      clock,
		challenges: challenges,
		accounts:   accounts,
		account:    account,
	}
}
