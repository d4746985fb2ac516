package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"companion/pkg/types"
)

// SQLite optimization pragmas for a single-device deployment
// ARCHITECTURAL DISCOVERY: WAL mode enables concurrent reads while keeping
// the single-writer pattern SQLite requires
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA temp_store = MEMORY;
	PRAGMA busy_timeout = 5000;
`

const historySchema = `
	CREATE TABLE IF NOT EXISTS conversation_history (
		client_id  TEXT PRIMARY KEY,
		entries    TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
`

// sqliteStore keeps history in a local SQLite file, the natural fit for a
// device that spends time offline.
type sqliteStore struct {
	db *sql.DB
}

func newSQLiteStore(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// FUNCTIONAL DISCOVERY: One connection sidesteps SQLITE_BUSY under
	// concurrent saves; history writes are small and infrequent
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(sqliteOptimizations); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(historySchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Save replaces the stored history for a client identity.
func (s *sqliteStore) Save(ctx context.Context, clientID string, history []types.HistoryEntry) error {
	val, err := json.Marshal(history)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_history (client_id, entries, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			entries = excluded.entries,
			updated_at = excluded.updated_at
	`, clientID, string(val), time.Now().UTC())
	return err
}

// Load retrieves stored history. A missing row returns (nil, nil).
func (s *sqliteStore) Load(ctx context.Context, clientID string) ([]types.HistoryEntry, error) {
	var val string
	err := s.db.QueryRowContext(ctx,
		"SELECT entries FROM conversation_history WHERE client_id = ?",
		clientID,
	).Scan(&val)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var history []types.HistoryEntry
	if err := json.Unmarshal([]byte(val), &history); err != nil {
		return nil, err
	}
	return history, nil
}

// Delete removes stored history.
func (s *sqliteStore) Delete(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM conversation_history WHERE client_id = ?", clientID)
	return err
}

// Close releases the database handle.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}
