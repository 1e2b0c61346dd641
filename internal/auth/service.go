package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrMissingToken = errors.New("authorization required")
	ErrInvalidToken = errors.New("invalid token")
)

// Service validates the static bearer token that guards privileged endpoints.
type Service struct {
	token      string
	headerName string
}

// NewService builds a guard for token. An empty token leaves the guarded routes open.
func NewService(token string) *Service {
	return &Service{
		token:      token,
		headerName: "Authorization",
	}
}

// Enabled reports whether a token is required.
func (s *Service) Enabled() bool {
	return s != nil && s.token != ""
}

// ValidateToken compares the presented token in constant time.
func (s *Service) ValidateToken(token string) error {
	if !s.Enabled() {
		return nil
	}
	if token == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
