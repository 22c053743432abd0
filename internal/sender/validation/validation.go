// Package validation provides shared validation utilities for email requests and configuration.
package validation

import (
	"net/mail"
	"strings"
)

// IsValidURL checks if a string is a valid HTTP/HTTPS URL.
func IsValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsValidEmail checks if s is a single bare address such as "user@example.com".
// Display names ("Name <user@example.com>") are rejected.
func IsValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	_, domain, _ := strings.Cut(addr.Address, "@")
	return strings.Contains(domain, ".")
}

// InvalidEmails returns the addresses in list that fail IsValidEmail.
func InvalidEmails(list []string) []string {
	var bad []string
	for _, s := range list {
		if !IsValidEmail(s) {
			bad = append(bad, s)
		}
	}
	return bad
}
