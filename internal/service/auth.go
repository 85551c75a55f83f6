package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing token")
	ErrWeakToken    = errors.New("token does not meet requirements")
)

const minTokenLength = 24

func validateTokenStrength(token string) error {
	if len(token) < minTokenLength {
		return fmt.Errorf("must be at least %d characters", minTokenLength)
	}
	for _, r := range token {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("must not contain whitespace or control characters")
		}
	}
	return nil
}

// HashToken returns the bcrypt hash to configure as AUTH_TOKEN_HASH.
func HashToken(token string) (string, error) {
	if err := validateTokenStrength(token); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWeakToken, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// TokenAuth checks API bearer tokens against a single bcrypt hash. Tokens
// that verified once are remembered by digest so bcrypt runs once per token.
type TokenAuth struct {
	hash     []byte
	mu       sync.RWMutex
	verified map[[32]byte]struct{}
}

// NewTokenAuth returns nil when hash is empty, which disables authentication.
func NewTokenAuth(hash string) (*TokenAuth, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid token hash: %w", err)
	}
	return &TokenAuth{
		hash:     []byte(hash),
		verified: make(map[[32]byte]struct{}),
	}, nil
}

func (a *TokenAuth) Enabled() bool {
	return a != nil
}

func (a *TokenAuth) Verify(token string) error {
	if !a.Enabled() {
		return nil
	}
	if token == "" {
		return ErrMissingToken
	}

	digest := blake2b.Sum256([]byte(token))
	a.mu.RLock()
	_, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}

	a.mu.Lock()
	a.verified[digest] = struct{}{}
	a.mu.Unlock()
	return nil
}

// BearerToken extracts the token of an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
