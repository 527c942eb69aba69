package http

import (
	"regexp"
	"unicode"
)

const phoneFormatMessage = "phone number must be entered in the format '+999999999', up to 15 digits"

var (
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern    = regexp.MustCompile(`^\+?1?\d{9,15}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.@+-]{1,30}$`)
)

func validEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func validPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

func validUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// passwordStrength returns an empty string for acceptable passwords and a
// field message otherwise.
func passwordStrength(password string) string {
	if len(password) < 8 {
		return "password must be at least 8 characters"
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return "password must contain at least one letter and one digit"
	}
	return ""
}
