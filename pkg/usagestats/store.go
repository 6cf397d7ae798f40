package usagestats

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS request_log (
	id                    TEXT PRIMARY KEY,
	key_id                TEXT NOT NULL,
	account_id            TEXT NOT NULL,
	model                 TEXT NOT NULL,
	input_tokens          INTEGER NOT NULL DEFAULT 0,
	output_tokens         INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
	cost                  REAL NOT NULL DEFAULT 0,
	completed             INTEGER NOT NULL DEFAULT 1,
	created_at            TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_log_key_time ON request_log(key_id, created_at);
CREATE INDEX IF NOT EXISTS idx_request_log_account_time ON request_log(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_request_log_created ON request_log(created_at);
`

// Config contains settings for the usage log.
type Config struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`

	// RetentionDays is how long request rows are kept. Zero disables
	// pruning.
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a cron expression for the retention job.
	PruneSchedule string `yaml:"prune_schedule"`
}

// Entry is one relayed request's outcome.
type Entry struct {
	ID                  string
	KeyID               string
	AccountID           string
	Model               string
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	Cost                float64

	// Completed is false for streams that failed mid-flight; their
	// partial usage is still recorded.
	Completed bool

	CreatedAt time.Time
}

// KeySummary aggregates a key's logged requests over a period.
type KeySummary struct {
	KeyID        string
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// Store is the SQLite-backed usage log.
type Store struct {
	db  *sql.DB
	cfg Config
}

// Open opens (and if needed creates) the usage log database.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("usagestats: opening %q: %w", cfg.Path, err)
	}

	// SQLite allows one writer; serialize through a single connection
	// instead of racing on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("usagestats: enabling WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("usagestats: creating schema: %w", err)
	}

	slog.Info("usage log opened", "path", cfg.Path, "retention_days", cfg.RetentionDays)
	return &Store{db: db, cfg: cfg}, nil
}

// Record appends one request entry. Missing IDs and timestamps are filled
// in.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_log (
			id, key_id, account_id, model,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
			cost, completed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.KeyID, entry.AccountID, entry.Model,
		entry.InputTokens, entry.OutputTokens, entry.CacheCreationTokens, entry.CacheReadTokens,
		entry.Cost, entry.Completed, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("usagestats: recording entry: %w", err)
	}
	return nil
}

// SummarizeKey aggregates one key's requests in [since, until).
func (s *Store) SummarizeKey(ctx context.Context, keyID string, since, until time.Time) (*KeySummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cost), 0)
		FROM request_log
		WHERE key_id = ? AND created_at >= ? AND created_at < ?`,
		keyID, since, until,
	)

	summary := &KeySummary{KeyID: keyID}
	if err := row.Scan(&summary.Requests, &summary.InputTokens, &summary.OutputTokens, &summary.Cost); err != nil {
		return nil, fmt.Errorf("usagestats: summarizing key %q: %w", keyID, err)
	}
	return summary, nil
}

// RecentEntries returns the newest entries for a key, most recent first.
func (s *Store) RecentEntries(ctx context.Context, keyID string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key_id, account_id, model,
		       input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
		       cost, completed, created_at
		FROM request_log
		WHERE key_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		keyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("usagestats: listing entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.KeyID, &e.AccountID, &e.Model,
			&e.InputTokens, &e.OutputTokens, &e.CacheCreationTokens, &e.CacheReadTokens,
			&e.Cost, &e.Completed, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("usagestats: scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention window and returns how
// many rows were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	result, err := s.db.ExecContext(ctx, `DELETE FROM request_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("usagestats: pruning: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
