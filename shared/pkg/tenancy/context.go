package tenancy

import (
	"context"
	"errors"
	"sync"
)

// Header names attached to every API call
const (
	AccountHeader   = "X-Account-ID"
	RequestIDHeader = "X-Request-ID"
)

type contextKey string

const accountIDKey contextKey = "account_id"

var (
	ErrNoAccountInContext = errors.New("no account ID in context")
	ErrInvalidAccountID   = errors.New("invalid account ID")
)

// GetAccountID extracts the account ID from context
func GetAccountID(ctx context.Context) (string, error) {
	accountID, ok := ctx.Value(accountIDKey).(string)
	if !ok || accountID == "" {
		return "", ErrNoAccountInContext
	}
	return accountID, nil
}

// WithAccount pins a request to an account, overriding the session account
func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// SwitchFunc is notified after the active account changes
type SwitchFunc func(from, to string)

// Session holds the identity attached to outgoing calls.
// The active account can change at runtime; listeners registered with OnSwitch
// run after every change so cached data of the previous account can be dropped.
type Session struct {
	mu        sync.RWMutex
	apiKey    string
	accountID string
	listeners []SwitchFunc
}

// NewSession creates a session
func NewSession(apiKey, accountID string) *Session {
	return &Session{apiKey: apiKey, accountID: accountID}
}

// APIKey returns the bearer credential
func (s *Session) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey
}

// AccountID returns the active account
func (s *Session) AccountID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountID
}

// Resolve returns the account for a call: the context account when set, else the session account
func (s *Session) Resolve(ctx context.Context) string {
	if id, err := GetAccountID(ctx); err == nil {
		return id
	}
	return s.AccountID()
}

// OnSwitch registers fn to run after the active account changes
func (s *Session) OnSwitch(fn SwitchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SwitchAccount changes the active account and notifies listeners.
// Switching to the current account is a no-op.
func (s *Session) SwitchAccount(accountID string) error {
	if accountID != "" && !IsValidAccountID(accountID) {
		return ErrInvalidAccountID
	}

	s.mu.Lock()
	from := s.accountID
	if from == accountID {
		s.mu.Unlock()
		return nil
	}
	s.accountID = accountID
	listeners := append([]SwitchFunc(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(from, accountID)
	}
	return nil
}

// IsValidAccountID validates account ID format
func IsValidAccountID(accountID string) bool {
	if len(accountID) == 0 || len(accountID) > 64 {
		return false
	}
	// Allow alphanumeric, hyphens, and underscores
	for _, ch := range accountID {
		if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') || ch == '-' || ch == '_') {
			return false
		}
	}
	return true
}
