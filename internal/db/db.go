package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nelsonng/tensient/internal/config"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Querier is satisfied by both *sql.DB and *sql.Tx so query helpers can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at baseDir/tensient.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tensient.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "tensient.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
// Call after Init if you need to tune pool behavior for contention.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error.
func WithTx(ctx context.Context, database *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		if _, err := db.Exec(schemaV1); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS canons (
  id            TEXT PRIMARY KEY,
  workspace_id  TEXT NOT NULL,
  content       TEXT NOT NULL,
  raw_input     TEXT,
  pillars_json  TEXT,
  embedding     BLOB,
  created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_canons_workspace_created
ON canons(workspace_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS captures (
  id            TEXT PRIMARY KEY,
  user_id       TEXT NOT NULL,
  workspace_id  TEXT NOT NULL,
  content       TEXT NOT NULL,
  source        TEXT NOT NULL,
  created_at    INTEGER NOT NULL,
  processed_at  INTEGER
);

CREATE INDEX IF NOT EXISTS idx_captures_workspace_created
ON captures(workspace_id, created_at DESC);

CREATE TABLE IF NOT EXISTS artifacts (
  id                     TEXT PRIMARY KEY,
  capture_id             TEXT NOT NULL REFERENCES captures(id),
  workspace_id           TEXT NOT NULL,
  canon_id               TEXT,
  parent_artifact_id     TEXT,
  iteration              INTEGER NOT NULL DEFAULT 0,
  alignment_score        REAL NOT NULL,
  drift_score            REAL NOT NULL,
  sentiment_score        REAL NOT NULL,
  synthesis              TEXT NOT NULL,
  feedback               TEXT NOT NULL,
  alignment_explanation  TEXT,
  coaching_json          TEXT,
  goal_pillar            TEXT,
  embedding              BLOB,
  created_at             INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_capture_created
ON artifacts(capture_id, created_at, id);

CREATE INDEX IF NOT EXISTS idx_artifacts_workspace_created
ON artifacts(workspace_id, created_at DESC);

CREATE TABLE IF NOT EXISTS actions (
  id                    TEXT PRIMARY KEY,
  workspace_id          TEXT NOT NULL,
  user_id               TEXT NOT NULL,
  artifact_id           TEXT NOT NULL REFERENCES artifacts(id),
  goal_id               TEXT,
  title                 TEXT NOT NULL,
  status                TEXT NOT NULL,
  extracted_status      TEXT NOT NULL,
  priority              TEXT NOT NULL,
  goal_alignment_score  REAL,
  goal_pillar           TEXT,
  position              INTEGER NOT NULL,
  created_at            INTEGER NOT NULL,
  updated_at            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_artifact_position
ON actions(artifact_id, position);

CREATE INDEX IF NOT EXISTS idx_actions_workspace_created
ON actions(workspace_id, created_at DESC);

CREATE TABLE IF NOT EXISTS memberships (
  user_id          TEXT NOT NULL,
  workspace_id     TEXT NOT NULL,
  role             TEXT NOT NULL,
  last_capture_at  INTEGER,
  streak           INTEGER NOT NULL DEFAULT 0,
  traction         REAL NOT NULL DEFAULT 0,
  version          INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (user_id, workspace_id)
);

CREATE TABLE IF NOT EXISTS digests (
  id            TEXT PRIMARY KEY,
  workspace_id  TEXT NOT NULL,
  week_start    INTEGER NOT NULL,
  summary       TEXT NOT NULL,
  items_json    TEXT NOT NULL,
  created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_digests_workspace_week
ON digests(workspace_id, week_start DESC, created_at DESC);

CREATE TABLE IF NOT EXISTS conversations (
  id            TEXT PRIMARY KEY,
  workspace_id  TEXT NOT NULL,
  user_id       TEXT NOT NULL,
  title         TEXT NOT NULL,
  created_at    INTEGER NOT NULL,
  updated_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_scope
ON conversations(workspace_id, user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
  id               TEXT PRIMARY KEY,
  conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
  role             TEXT NOT NULL,
  content          TEXT NOT NULL,
  created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
ON messages(conversation_id, created_at, id);

CREATE TABLE IF NOT EXISTS signals (
  id               TEXT PRIMARY KEY,
  workspace_id     TEXT NOT NULL,
  user_id          TEXT NOT NULL,
  conversation_id  TEXT,
  message_id       TEXT,
  content          TEXT NOT NULL,
  embedding        BLOB,
  ai_priority      TEXT,
  human_priority   TEXT,
  reviewed_at      INTEGER,
  status           TEXT NOT NULL,
  source           TEXT NOT NULL,
  created_at       INTEGER NOT NULL,
  updated_at       INTEGER NOT NULL,
  CHECK ((conversation_id IS NULL) = (message_id IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_signals_workspace_created
ON signals(workspace_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_signals_workspace_status
ON signals(workspace_id, status);

CREATE TABLE IF NOT EXISTS documents (
  id            TEXT PRIMARY KEY,
  workspace_id  TEXT NOT NULL,
  owner_id      TEXT,
  kind          TEXT NOT NULL,
  title         TEXT NOT NULL,
  content       TEXT NOT NULL,
  embedding     BLOB,
  created_at    INTEGER NOT NULL,
  updated_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_workspace_kind
ON documents(workspace_id, kind, updated_at DESC);

CREATE TABLE IF NOT EXISTS synthesis_commits (
  id            TEXT PRIMARY KEY,
  workspace_id  TEXT NOT NULL,
  parent_id     TEXT REFERENCES synthesis_commits(id),
  summary       TEXT NOT NULL,
  created_by    TEXT NOT NULL,
  created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_commits_workspace_created
ON synthesis_commits(workspace_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS synthesis_commit_signals (
  commit_id  TEXT NOT NULL REFERENCES synthesis_commits(id),
  signal_id  TEXT NOT NULL,
  PRIMARY KEY (commit_id, signal_id)
);

CREATE INDEX IF NOT EXISTS idx_commit_signals_signal
ON synthesis_commit_signals(signal_id);

CREATE TABLE IF NOT EXISTS synthesis_commit_documents (
  commit_id    TEXT NOT NULL REFERENCES synthesis_commits(id),
  document_id  TEXT NOT NULL,
  change       TEXT NOT NULL,
  title        TEXT NOT NULL,
  patch        TEXT,
  PRIMARY KEY (commit_id, document_id)
);

CREATE TABLE IF NOT EXISTS usage_events (
  id             TEXT PRIMARY KEY,
  user_id        TEXT NOT NULL,
  workspace_id   TEXT NOT NULL,
  operation      TEXT NOT NULL,
  model          TEXT,
  input_tokens   INTEGER NOT NULL,
  output_tokens  INTEGER NOT NULL,
  created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_user_created
ON usage_events(user_id, created_at);
`

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
