// Package sqlstore implements store.Client on a PostgreSQL table. Values are
// sealed with a data key and every write adds a new version.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/doodlesbykumbi/vaultsweep/pkg/cipher"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
)

// Secret is one stored version of a key.
type Secret struct {
	Path      string
	SecretKey string `gorm:"column:secret_key"`
	Version   int
	Value     []byte `gorm:"type:bytea"`
	Metadata  string
	CreatedAt time.Time
}

func (Secret) TableName() string {
	return "vaultsweep_secrets"
}

// Store is a store.Client on PostgreSQL.
type Store struct {
	db     *gorm.DB
	cipher cipher.Cipher
	now    func() time.Time
}

var _ store.Client = (*Store)(nil)

// Open connects to url. Debug enables gorm statement logging.
func Open(url string, c cipher.Cipher, debug bool) (*Store, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}
	logMode := logger.Silent
	if debug {
		logMode = logger.Info
	}

	db, err := gorm.Open(
		postgres.New(postgres.Config{
			DSN:                  url,
			PreferSimpleProtocol: true,
		}),
		&gorm.Config{
			Logger:                 logger.Default.LogMode(logMode),
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, &store.ConnectivityError{Address: redact(url), Err: err}
	}
	return New(db, c), nil
}

// New wraps an existing connection. A nil cipher leaves the store sealed.
func New(db *gorm.DB, c cipher.Cipher) *Store {
	return &Store{db: db, cipher: c, now: time.Now}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func aad(path, key string) []byte {
	return []byte(path + ":" + key)
}

// Status pings the database. The store reports sealed when it has no data key.
func (s *Store) Status(ctx context.Context) (store.Status, error) {
	var version string
	if err := s.db.WithContext(ctx).Raw(`SHOW server_version`).Row().Scan(&version); err != nil {
		return store.Status{}, &store.ConnectivityError{Err: err}
	}
	return store.Status{Sealed: s.cipher == nil, Version: version}, nil
}

func (s *Store) Put(ctx context.Context, path, key, value string, meta store.Metadata) error {
	if s.cipher == nil {
		return &store.WriteError{Path: path, Key: key, Err: store.ErrSealed}
	}
	sealed, err := s.cipher.Seal(aad(path, key), []byte(value))
	if err != nil {
		return &store.WriteError{Path: path, Key: key, Err: err}
	}
	if meta == nil {
		meta = store.Metadata{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return &store.WriteError{Path: path, Key: key, Err: err}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var version int
		row := tx.Raw(`SELECT COALESCE(MAX(version), 0) FROM vaultsweep_secrets WHERE path = ? AND secret_key = ?`, path, key).Row()
		if err := row.Scan(&version); err != nil {
			return err
		}
		return tx.Exec(
			`INSERT INTO vaultsweep_secrets (path, secret_key, version, value, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			path, key, version+1, sealed, string(metaJSON), s.now().UTC(),
		).Error
	})
	if err != nil {
		return &store.WriteError{Path: path, Key: key, Err: err}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path, key string) (string, error) {
	if s.cipher == nil {
		return "", store.ErrSealed
	}
	var sealed []byte
	row := s.db.WithContext(ctx).Raw(
		`SELECT value FROM vaultsweep_secrets WHERE path = ? AND secret_key = ? ORDER BY version DESC LIMIT 1`,
		path, key,
	).Row()
	if err := row.Scan(&sealed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s:%s", store.ErrNotFound, path, key)
		}
		return "", err
	}

	value, err := s.cipher.Open(aad(path, key), sealed)
	if err != nil {
		return "", fmt.Errorf("secret decryption failed for %s:%s: %w", path, key, err)
	}
	return string(value), nil
}

func (s *Store) PathExists(ctx context.Context, path string) (bool, error) {
	var exists bool
	row := s.db.WithContext(ctx).Raw(`SELECT EXISTS(SELECT 1 FROM vaultsweep_secrets WHERE path = ?)`, path).Row()
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Versions lists the stored versions of key, newest first, without values.
func (s *Store) Versions(ctx context.Context, path, key string) ([]Secret, error) {
	var secrets []Secret
	err := s.db.WithContext(ctx).
		Select("path", "secret_key", "version", "metadata", "created_at").
		Where("path = ? AND secret_key = ?", path, key).
		Order("version desc").
		Find(&secrets).Error
	return secrets, err
}
