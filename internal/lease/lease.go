// Package lease выдаёт эксклюзивные аренды по ключу с ограниченным сроком жизни.
package lease

import (
	"context"
	"errors"
)

// ErrHeld возвращается, если аренда уже принадлежит другому владельцу.
var (
	ErrHeld = errors.New("lease is held")
	// ErrLost возвращается, если аренда истекла или перешла другому владельцу.
	ErrLost = errors.New("lease lost")
)

// Lease выданная аренда.
type Lease interface {
	// Refresh продлевает аренду на полный срок.
	Refresh(ctx context.Context) error
	// Release освобождает аренду.
	Release(ctx context.Context) error
}

// Locker выдаёт аренды по ключу.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}
