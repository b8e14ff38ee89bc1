package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/chartmaker/chartmaker/internal/repository"
)

func TestAccountStore_CreateEnforcesUniqueness(t *testing.T) {
	s := NewAccountStore()
	ctx := context.Background()

	first := &models.Account{ID: "a1", Username: "ada", Email: "ada@example.com", Phone: "+15551234567"}
	if err := s.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.Version != 1 || first.CreatedAt.IsZero() {
		t.Errorf("Create did not stamp version/timestamps: %+v", first)
	}

	tests := []struct {
		name    string
		account *models.Account
		want    error
	}{
		{"username", &models.Account{ID: "a2", Username: "ada", Email: "x@example.com"}, repository.ErrUsernameTaken},
		{"email", &models.Account{ID: "a3", Username: "bob", Email: "ada@example.com"}, repository.ErrEmailTaken},
		{"phone", &models.Account{ID: "a4", Username: "cy", Email: "cy@example.com", Phone: "+15551234567"}, repository.ErrPhoneTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Create(ctx, tt.account); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	noPhone := &models.Account{ID: "a5", Username: "dee", Email: "dee@example.com"}
	other := &models.Account{ID: "a6", Username: "eve", Email: "eve@example.com"}
	if err := s.Create(ctx, noPhone); err != nil {
		t.Fatalf("Create without phone: %v", err)
	}
	if err := s.Create(ctx, other); err != nil {
		t.Errorf("a second phoneless account must be allowed: %v", err)
	}
}

func TestAccountStore_Lookups(t *testing.T) {
	s := NewAccountStore()
	ctx := context.Background()
	if err := s.Create(ctx, &models.Account{ID: "a1", Username: "ada", Email: "ada@example.com", Phone: "+15551234567"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	byEmail, _ := s.GetByEmail(ctx, "ada@example.com")
	byPhone, _ := s.GetByPhone(ctx, "+15551234567")
	if byEmail == nil || byPhone == nil || byEmail.ID != "a1" || byPhone.ID != "a1" {
		t.Fatalf("lookups = %+v / %+v", byEmail, byPhone)
	}

	missing, err := s.GetByID(ctx, "nope")
	if missing != nil || err != nil {
		t.Errorf("GetByID(missing) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestAccountStore_UpdateCopiesAndVersions(t *testing.T) {
	s := NewAccountStore()
	ctx := context.Background()
	if err := s.Create(ctx, &models.Account{ID: "a1", Username: "ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := s.Update(ctx, "a1", func(a *models.Account) (bool, error) {
		a.AppendLogin(models.LoginEntry{Timestamp: time.Now(), IPAddress: "10.0.0.1"}, 10)
		return true, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}

	updated.LoginHistory[0].IPAddress = "tampered"
	stored, _ := s.GetByID(ctx, "a1")
	if stored.LoginHistory[0].IPAddress != "10.0.0.1" {
		t.Error("returned account aliases stored login history")
	}

	skipped, err := s.Update(ctx, "a1", func(a *models.Account) (bool, error) {
		a.Name = "not saved"
		return false, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	stored, _ = s.GetByID(ctx, "a1")
	if stored.Name == "not saved" || stored.Version != 2 || skipped.Version != 2 {
		t.Errorf("skipped write was persisted: %+v", stored)
	}

	boom := errors.New("boom")
	if _, err := s.Update(ctx, "a1", func(*models.Account) (bool, error) { return true, boom }); !errors.Is(err, boom) {
		t.Errorf("err = %v, want mutation error", err)
	}
	if _, err := s.Update(ctx, "nope", func(*models.Account) (bool, error) { return true, nil }); !errors.Is(err, repository.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestChallengeStore_UpdateIsSerialized(t *testing.T) {
	s := NewChallengeStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "a1", models.ChannelMobile, func(c *models.Challenge) (bool, error) {
				c.Attempts++
				return true, nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	c, err := s.Get(ctx, "a1", models.ChannelMobile)
	if err != nil || c == nil {
		t.Fatalf("Get = %+v, %v", c, err)
	}
	if c.Attempts != 50 || c.Version != 50 {
		t.Errorf("Attempts = %d Version = %d, want 50/50", c.Attempts, c.Version)
	}

	other, _ := s.Get(ctx, "a1", models.ChannelEmail)
	if other != nil {
		t.Errorf("email challenge should not exist: %+v", other)
	}
}

func TestActivityStore_ListNewestFirst(t *testing.T) {
	s := NewActivityStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Store(ctx, &models.Activity{ID: string(rune('a' + i)), AccountID: "a1", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	s.Store(ctx, &models.Activity{ID: "z", AccountID: "a2", CreatedAt: base})

	got, err := s.ListByAccount(ctx, "a1", 3)
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(got) != 3 || got[0].ID != "e" || got[2].ID != "c" {
		t.Errorf("got = %+v", got)
	}
}

func TestSessionStore(t *testing.T) {
	s := NewSessionStore()
	ctx := context.Background()

	if err := s.Revoke(ctx, models.RevokedSession{JTI: "live", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := s.Revoke(ctx, models.RevokedSession{JTI: "old", ExpiresAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if revoked, _ := s.IsRevoked(ctx, "live"); !revoked {
		t.Error("live session should be revoked")
	}
	if revoked, _ := s.IsRevoked(ctx, "old"); revoked {
		t.Error("expired revocation should be dropped")
	}
	if revoked, _ := s.IsRevoked(ctx, "never"); revoked {
		t.Error("unknown session reported revoked")
	}
}
