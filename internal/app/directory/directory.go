/*
Package directory implements the room directory: the durable lookup service that maps a
room code to its room record and current document snapshot.

Lookup failures for unknown codes are a normal outcome and are reported as ErrNotFound.
Register reports ErrCodeTaken when the code is already in use; the directory is the only
place room-code uniqueness is enforced.
*/
package directory

import (
	"context"
	"errors"
	"time"

	"linkroom/internal/app/room"
)

var (
	// ErrNotFound is returned by Lookup and SaveDocument when no room has the given code.
	ErrNotFound = errors.New("directory: room not found")

	// ErrCodeTaken is returned by Register when the room code is already registered.
	ErrCodeTaken = errors.New("directory: room code already registered")
)

// Directory is the room directory consumed by the session layer.
type Directory interface {
	// Lookup returns the room registered under code, or ErrNotFound.
	Lookup(ctx context.Context, code string) (room.Room, error)

	// Register persists a new room, or returns ErrCodeTaken.
	Register(ctx context.Context, r room.Room) error

	// SaveDocument replaces the stored document snapshot of the room.
	// Concurrent writers are applied in arrival order.
	SaveDocument(ctx context.Context, code string, content string, at time.Time) error

	// Close releases any resources held by the directory.
	Close() error
}
