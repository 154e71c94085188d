// Package connections implements the ConnectionStore using BadgerHold.
// Tokens can optionally be diverted to the OS keyring so the on-disk record
// holds no secrets.
package connections

import (
	"context"
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"
	"github.com/zalando/go-keyring"

	"github.com/avhall/hearth/internal/common"
	"github.com/avhall/hearth/internal/interfaces"
	"github.com/avhall/hearth/internal/models"
)

// StorageError wraps a persistence failure with the failed operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store implements interfaces.ConnectionStore using BadgerHold.
type Store struct {
	db             *badgerhold.Store
	logger         *common.Logger
	keyringService string
}

// Option configures the store
type Option func(*Store)

// WithKeyring diverts access and refresh tokens to the OS keyring under the
// given service name. Keyring failures degrade to inline storage with a warn.
func WithKeyring(service string) Option {
	return func(s *Store) {
		s.keyringService = service
	}
}

// NewStore creates a connection store at the given directory path.
func NewStore(logger *common.Logger, path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("failed to create store directory %s: %w", path, err)}
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	logger.Debug().Str("path", path).Msg("Connection store opened")

	s := &Store{db: db, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upsert inserts or updates a connection record and commits it.
func (s *Store) Upsert(_ context.Context, conn *models.Connection) error {
	if err := conn.Validate(); err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}

	record := *conn
	if s.keyringService != "" {
		s.stashTokens(&record)
	}

	if err := s.db.Upsert(record.ID, record); err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}

	s.logger.Debug().Str("id", conn.ID).Str("url", conn.URL).Msg("Connection saved")
	return nil
}

// MostRecent returns the connection with the latest LastConnectedAt, or
// (nil, nil) when the store is empty.
func (s *Store) MostRecent(_ context.Context) (*models.Connection, error) {
	var all []models.Connection
	if err := s.db.Find(&all, nil); err != nil {
		return nil, &StorageError{Op: "fetch", Err: err}
	}
	if len(all) == 0 {
		return nil, nil
	}

	latest := all[0]
	for _, conn := range all[1:] {
		if conn.LastConnectedAt.After(latest.LastConnectedAt) {
			latest = conn
		}
	}

	if s.keyringService != "" {
		s.hydrateTokens(&latest)
	}
	return &latest, nil
}

// Delete removes a connection record. Deleting a missing record is not an
// error.
func (s *Store) Delete(_ context.Context, id string) error {
	if err := s.db.Delete(id, models.Connection{}); err != nil && err != badgerhold.ErrNotFound {
		return &StorageError{Op: "delete", Err: err}
	}
	if s.keyringService != "" {
		_ = keyring.Delete(s.keyringService, id+"-access")
		_ = keyring.Delete(s.keyringService, id+"-refresh")
	}
	return nil
}

// Close shuts down the BadgerHold database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// stashTokens moves the record's tokens into the keyring and blanks them in
// the record. On keyring failure the tokens stay inline.
func (s *Store) stashTokens(record *models.Connection) {
	if err := keyring.Set(s.keyringService, record.ID+"-access", record.AccessToken); err != nil {
		s.logger.Warn().Err(err).Str("id", record.ID).Msg("Keyring unavailable, storing access token inline")
		return
	}
	record.AccessToken = ""

	if record.RefreshToken == "" {
		return
	}
	if err := keyring.Set(s.keyringService, record.ID+"-refresh", record.RefreshToken); err != nil {
		s.logger.Warn().Err(err).Str("id", record.ID).Msg("Keyring unavailable, storing refresh token inline")
		return
	}
	record.RefreshToken = ""
}

// hydrateTokens restores keyring-held tokens into a record read from disk.
func (s *Store) hydrateTokens(record *models.Connection) {
	if record.AccessToken == "" {
		if token, err := keyring.Get(s.keyringService, record.ID+"-access"); err == nil {
			record.AccessToken = token
		} else {
			s.logger.Warn().Err(err).Str("id", record.ID).Msg("Failed to read access token from keyring")
		}
	}
	if record.RefreshToken == "" {
		if token, err := keyring.Get(s.keyringService, record.ID+"-refresh"); err == nil {
			record.RefreshToken = token
		}
	}
}

// Ensure Store implements ConnectionStore
var _ interfaces.ConnectionStore = (*Store)(nil)
