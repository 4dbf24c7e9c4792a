package util

import (
	"fmt"
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func ValidateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if !emailRe.MatchString(email) {
		return "", fmt.Errorf("invalid email format: %s", email)
	}
	return email, nil
}

// CleanEmail returns a lower-cased valid email or an empty string.
func CleanEmail(email string) string {
	valid, err := ValidateEmail(email)
	if err != nil {
		return ""
	}
	return strings.ToLower(valid)
}
