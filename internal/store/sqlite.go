package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/agora-labs/internal/domain"
	"github.com/ashureev/agora-labs/internal/shared"
	_ "modernc.org/sqlite"
)

// ErrAlreadyExists is returned when inserting a record whose key is taken.
var ErrAlreadyExists = errors.New("record already exists")

const (
	writeAttempts  = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tone TEXT NOT NULL,
		sample_prompts_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		agents_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS chat_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		agent_id TEXT,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_entries_session ON chat_entries(session_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertProfile creates or replaces a profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p domain.Profile) error {
	prompts, err := json.Marshal(p.SamplePrompts)
	if err != nil {
		return fmt.Errorf("marshal sample prompts: %w", err)
	}

	query := `
	INSERT INTO profiles (id, name, tone, sample_prompts_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		tone = excluded.tone,
		sample_prompts_json = excluded.sample_prompts_json,
		updated_at = excluded.updated_at`

	now := time.Now().UnixMilli()
	return shared.RetryOnConflict(ctx, "upsert profile", writeAttempts, writeBaseDelay, func() error {
		if _, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.Tone, string(prompts), now, now); err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		return nil
	})
}

// GetProfile retrieves a profile by ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, tone, sample_prompts_json FROM profiles WHERE id = ?`, id)

	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, ErrNotFound
	}
	if err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// ListProfiles returns all profiles ordered by ID.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, tone, sample_prompts_json FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close profile rows", "error", closeErr)
		}
	}()

	var profiles []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (domain.Profile, error) {
	var p domain.Profile
	var prompts string
	if err := row.Scan(&p.ID, &p.Name, &p.Tone, &prompts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scan profile row: %w", err)
	}
	if err := json.Unmarshal([]byte(prompts), &p.SamplePrompts); err != nil {
		return p, fmt.Errorf("decode sample prompts for %s: %w", p.ID, err)
	}
	return p, nil
}

// CreateSession inserts a new session. Returns ErrAlreadyExists if the ID is taken.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	agents, err := json.Marshal(sess.Agents)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}

	query := `
	INSERT INTO chat_sessions (id, agents_json, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	return shared.RetryOnConflict(ctx, "create session", writeAttempts, writeBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, query,
			sess.ID, string(agents), sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrAlreadyExists
		}
		return nil
	})
}

// GetSession loads a session and its history ordered by insertion.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agents_json, created_at, updated_at FROM chat_sessions WHERE id = ?`, id)

	var sess domain.Session
	var agents string
	var createdAt, updatedAt int64
	err := row.Scan(&sess.ID, &agents, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	if err := json.Unmarshal([]byte(agents), &sess.Agents); err != nil {
		return nil, fmt.Errorf("decode agents for %s: %w", id, err)
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, agent_id, content, created_at
		FROM chat_entries WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close entry rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var e domain.Entry
		var agentID sql.NullString
		var ts int64
		if err := rows.Scan(&e.ID, &e.Role, &agentID, &e.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		e.AgentID = agentID.String
		e.CreatedAt = time.UnixMilli(ts)
		sess.History = append(sess.History, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return &sess, nil
}

// AppendEntries appends a turn's entries atomically.
func (s *SQLiteStore) AppendEntries(ctx context.Context, sessionID string, entries []domain.Entry, updatedAt time.Time) error {
	return shared.RetryOnConflict(ctx, "append entries", writeAttempts, writeBaseDelay, func() error {
		return s.appendEntriesOnce(ctx, sessionID, entries, updatedAt)
	})
}

func (s *SQLiteStore) appendEntriesOnce(ctx context.Context, sessionID string, entries []domain.Entry, updatedAt time.Time) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("failed to roll back append", "session_id", sessionID, "error", rbErr)
			}
		}
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, updatedAt.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chat_entries (id, session_id, role, agent_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			slog.Debug("failed to close entry statement", "error", closeErr)
		}
	}()

	for _, e := range entries {
		var agentID any
		if e.AgentID != "" {
			agentID = e.AgentID
		}
		if _, err = stmt.ExecContext(ctx, e.ID, sessionID, e.Role, agentID, e.Content, e.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit entries: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its history.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	return shared.RetryOnConflict(ctx, "delete session", writeAttempts, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_entries WHERE session_id = ?`, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit delete: %w", err)
		}
		return nil
	})
}

// CleanupExpiredSessions removes sessions last updated before idleBefore,
// except the ids in keep.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, idleBefore time.Time, keep []string) (int64, error) {
	threshold := idleBefore.UnixMilli()
	if keep == nil {
		keep = []string{}
	}
	keepJSON, err := json.Marshal(keep)
	if err != nil {
		return 0, fmt.Errorf("marshal kept ids: %w", err)
	}

	const expired = `SELECT id FROM chat_sessions
		WHERE updated_at < ? AND id NOT IN (SELECT value FROM json_each(?))`

	var deleted int64
	err = shared.RetryOnConflict(ctx, "cleanup sessions", writeAttempts, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chat_entries WHERE session_id IN (`+expired+`)`, threshold, string(keepJSON)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("cleanup entries: %w", err)
		}
		result, err := tx.ExecContext(ctx,
			`DELETE FROM chat_sessions WHERE id IN (`+expired+`)`, threshold, string(keepJSON))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("cleanup sessions: %w", err)
		}
		if deleted, err = result.RowsAffected(); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("get rows affected: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

var _ Repository = (*SQLiteStore)(nil)
