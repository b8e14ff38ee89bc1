package service

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes secrets (passwords and one-time codes) with bcrypt. The
// adaptive cost matters most for codes: a 6 digit code has only 900000
// candidates, so the hash itself has to be expensive to brute force.
type Hasher struct {
	Cost int
}

// NewHasher clamps cost into bcrypt's accepted range; zero or negative means
// bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

func (h *Hasher) Hash(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Matches compares secret against hash in constant time. A malformed or
// empty hash never matches.
func (h *Hasher) Matches(hash, secret string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
