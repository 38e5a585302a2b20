package identity

import (
	"crypto/rand"
	"encoding/base64"
	"unicode"

	"github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// MinStrengthScore is the lowest zxcvbn score (0-4) accepted for a password.
const MinStrengthScore = 3

// ValidPassword reports whether p has at least 8 characters, at most
// MaxPasswordBytes bytes, and includes an upper-case letter, a lower-case
// letter and a digit.
func ValidPassword(p string) bool {
	if len([]rune(p)) < 8 || len(p) > MaxPasswordBytes {
		return false
	}
	var upper, lower, digit bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}

var patternHints = map[string]string{
	"dictionary": "Avoid common words, names and passwords.",
	"spatial":    "Avoid keyboard patterns like qwerty.",
	"repeat":     "Avoid repeated words and characters.",
	"sequence":   "Avoid sequences like abc or 1234.",
	"date":       "Avoid dates and years that are associated with you.",
	"year":       "Avoid recent years.",
}

// CheckStrength scores p with zxcvbn. userInputs (name, email, id) are
// penalised when they appear in the password. When the score is too low the
// returned suggestions explain what to change.
func CheckStrength(p string, userInputs ...string) (bool, []string) {
	result := zxcvbn.PasswordStrength(p, userInputs)
	if result.Score >= MinStrengthScore {
		return true, nil
	}
	seen := map[string]bool{}
	var suggestions []string
	for _, m := range result.MatchSequence {
		hint, ok := patternHints[m.Pattern]
		if !ok || seen[hint] {
			continue
		}
		seen[hint] = true
		suggestions = append(suggestions, hint)
	}
	return false, append(suggestions, "Add another word or two. Uncommon words are better.")
}

// HashPassword returns a bcrypt hash of p.
func HashPassword(p string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(p), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether p matches hash.
func CheckPassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

// newResetToken returns 32 random bytes, URL-safe base64 encoded.
func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
