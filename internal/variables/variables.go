// ABOUTME: Per-user configuration variables backing runtime credentials.
// ABOUTME: Resolves keys like OPENAI_API_KEY with a typed unset error.

package variables

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/agency-gateway/internal/store"
)

// KeyOpenAIAPIKey is the variable holding a user's remote API credential.
const KeyOpenAIAPIKey = "OPENAI_API_KEY"

// UnsetVariableError reports a variable a user has not configured. Its
// message is safe to surface to the end user verbatim.
type UnsetVariableError struct {
	Key string
}

func (e *UnsetVariableError) Error() string {
	return fmt.Sprintf("Variable %s is not set. Please set it first.", e.Key)
}

// Store is the persistence surface the manager needs.
type Store interface {
	GetUserVariable(ctx context.Context, userID, key string) (string, error)
	SetUserVariable(ctx context.Context, userID, key, value string) error
}

// Manager reads and writes per-user variables.
type Manager struct {
	store Store
}

// NewManager creates a variable manager over the given store.
func NewManager(st Store) *Manager {
	return &Manager{store: st}
}

// Get returns the user's value for key. A missing variable is an
// *UnsetVariableError so callers can forward its message to the user.
func (m *Manager) Get(ctx context.Context, userID, key string) (string, error) {
	value, err := m.store.GetUserVariable(ctx, userID, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", &UnsetVariableError{Key: key}
	}
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", &UnsetVariableError{Key: key}
	}
	return value, nil
}

// Set stores the user's value for key.
func (m *Manager) Set(ctx context.Context, userID, key, value string) error {
	return m.store.SetUserVariable(ctx, userID, key, value)
}
