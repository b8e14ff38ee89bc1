package repository

import (
	"errors"

	"github.com/chartmaker/chartmaker/internal/models"
)

var (
	ErrUsernameTaken   = errors.New("username already registered")
	ErrEmailTaken      = errors.New("email already registered")
	ErrPhoneTaken      = errors.New("phone number already registered")
	ErrAccountNotFound = errors.New("account not found")

	// ErrConflict is returned when a conditional write kept losing to
	// concurrent writers after all retries.
	ErrConflict = errors.New("concurrent update conflict")
)

// AccountMutation edits an account in place. Returning false leaves the
// stored record untouched.
type AccountMutation func(a *models.Account) (bool, error)

// ChallengeMutation edits a challenge in place. It receives a zero challenge
// (Version 0) when none is stored yet. Returning false skips the write.
type ChallengeMutation func(c *models.Challenge) (bool, error)
