// Package auth validates onboarding input and guards the local HTTP API
// against cross-site requests.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultCredentialPrefix = "AIza"

var (
	ErrMissingKey      = errors.New("api key is required")
	ErrKeyPrefix       = errors.New("api key has an unexpected format")
	ErrMissingUserName = errors.New("user name is required")
)

// ValidateSettings checks onboarding input: the key must carry prefix and
// a display name is required. It returns the trimmed values.
func ValidateSettings(apiKey, userName, prefix string) (string, string, error) {
	apiKey = strings.TrimSpace(apiKey)
	userName = strings.TrimSpace(userName)
	if prefix == "" {
		prefix = DefaultCredentialPrefix
	}
	if apiKey == "" {
		return "", "", ErrMissingKey
	}
	if !strings.HasPrefix(apiKey, prefix) || len(apiKey) == len(prefix) {
		return "", "", fmt.Errorf("%w: expected prefix %q", ErrKeyPrefix, prefix)
	}
	if userName == "" {
		return "", "", ErrMissingUserName
	}
	return apiKey, userName, nil
}

// Service issues CSRF tokens and carries the cookie and header names.
type Service struct {
	tokenTTL       time.Duration
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs a guard whose cookies live for ttl.
func NewService(ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		tokenTTL:       ttl,
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured cookie lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
