package core

import (
	"context"
	"errors"
	"sync"
)

const AuthTokenKey = "authToken"

// TokenSlot holds at most one AuthToken in the backing storage.
type TokenSlot struct {
	store Storage
	mu    sync.Mutex
}

func NewTokenSlot(store Storage) *TokenSlot {
	return &TokenSlot{store: store}
}

// Read returns ok=false when the slot is empty.
func (s *TokenSlot) Read(ctx context.Context) (token string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err = s.store.GetItem(ctx, AuthTokenKey)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (s *TokenSlot) Write(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SetItem(ctx, AuthTokenKey, token)
}

func (s *TokenSlot) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.RemoveItem(ctx, AuthTokenKey)
}
