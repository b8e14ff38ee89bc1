package service

import (
	"net/mail"
	"regexp"
	"strings"
)

// E.164: + followed by up to 15 digits, no leading zero.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func IsValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// NormalizePhone strips everything but digits and returns the number in
// E.164 form, or "" when what remains is not a plausible number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.WriteByte('+')
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if !e164Pattern.MatchString(normalized) {
		return ""
	}
	return normalized
}

// IsEmailIdentifier reports whether a login identifier names an email
// address rather than a phone number.
func IsEmailIdentifier(identifier string) bool {
	return strings.Contains(identifier, "@")
}
