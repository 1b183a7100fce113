package core

import (
	"context"
	"fmt"
)

// ProtectionResolver reports which keys must never be deleted by an import.
type ProtectionResolver interface {
	ProtectedKeys(ctx context.Context) (KeySet, error)
}

// ProtectionFunc adapts a function to ProtectionResolver.
type ProtectionFunc func(ctx context.Context) (KeySet, error)

func (f ProtectionFunc) ProtectedKeys(ctx context.Context) (KeySet, error) {
	return f(ctx)
}

// StoreProtection resolves protected keys from the link table: a key is
// protected when at least one link references it.
type StoreProtection struct {
	Store interface {
		ListProtectedKeys(ctx context.Context) (KeySet, error)
	}
}

func (p StoreProtection) ProtectedKeys(ctx context.Context) (KeySet, error) {
	keys, err := p.Store.ListProtectedKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list protected keys: %w", err)
	}
	return keys, nil
}
