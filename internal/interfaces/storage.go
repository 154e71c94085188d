// Package interfaces defines service contracts for Hearth
package interfaces

import (
	"context"

	"github.com/avhall/hearth/internal/models"
)

// ConnectionStore is the persistence contract the session layer requires.
// Implementations may back it with any engine; the session only needs one
// record shape and these access patterns.
type ConnectionStore interface {
	// Upsert inserts or updates a connection record and commits it.
	Upsert(ctx context.Context, conn *models.Connection) error

	// MostRecent returns the connection with the latest LastConnectedAt,
	// or (nil, nil) when the store is empty.
	MostRecent(ctx context.Context) (*models.Connection, error)

	// Delete removes a connection record by id. Deleting a missing record
	// is not an error.
	Delete(ctx context.Context, id string) error

	Close() error
}
