package middleware

import (
	"errors"
	"net/mail"
	"unicode/utf8"
)

// ValidateMessageContent validates chat message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateEmail validates an email address.
func ValidateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email address")
	}
	return nil
}

// ValidateSlug validates a conversation or mailbox slug.
func ValidateSlug(slug string) error {
	if len(slug) == 0 {
		return errors.New("slug cannot be empty")
	}
	if len(slug) > 64 {
		return errors.New("slug exceeds maximum length")
	}
	return nil
}
