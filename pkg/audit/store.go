package audit

import (
	"database/sql"
	"encoding/json"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

// Store persists audit messages to the vaultsweep_audit_messages table
// created by the sqlstore migrations.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens a store for dbURL.
func NewStore(dbURL string) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	return NewStoreWithDB(db), nil
}

// NewStoreFromEnv opens a store from AUDIT_DATABASE_URL. It returns nil when
// the variable is unset.
func NewStoreFromEnv() (*Store, error) {
	dbURL := os.Getenv("AUDIT_DATABASE_URL")
	if dbURL == "" {
		return nil, nil
	}
	return NewStore(dbURL)
}

// NewStoreWithDB wraps an existing connection.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save inserts one event.
func (s *Store) Save(event Event, hostname, appName string, pid int) error {
	if s.db == nil {
		return nil
	}

	sdata, err := json.Marshal(event.StructuredData())
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO vaultsweep_audit_messages (facility, severity, timestamp, hostname, appname, procid, msgid, sdata, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		event.Facility(),
		int(event.Severity()),
		s.now().UTC(),
		hostname,
		appName,
		strconv.Itoa(pid),
		event.MessageID(),
		sdata,
		event.Message(),
	)
	return err
}
