package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes abuse-state writes to avoid SQLITE_BUSY
	retry   shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL for concurrent readers; immediate transactions take the write lock up front.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		picture_url TEXT NOT NULL DEFAULT '',
		is_blocked INTEGER NOT NULL DEFAULT 0,
		block_expires_at INTEGER,
		created_at INTEGER NOT NULL,
		last_login_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_blocked ON users(block_expires_at) WHERE is_blocked = 1;

	CREATE TABLE IF NOT EXISTS violations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_violations_user ON violations(user_id, id);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auth_sessions_expires ON auth_sessions(expires_at);
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

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, email, name, picture_url, is_blocked, block_expires_at,
		       created_at, last_login_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var blockExpires sql.NullInt64
	var createdAt, lastLogin, updatedAt int64

	err := row.Scan(
		&user.UserID, &user.Profile.Email, &user.Profile.Name, &user.Profile.PictureURL,
		&user.IsBlocked, &blockExpires, &createdAt, &lastLogin, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = fromMillis(createdAt)
	user.LastLoginAt = fromMillis(lastLogin)
	user.UpdatedAt = fromMillis(updatedAt)
	if blockExpires.Valid {
		ts := fromMillis(blockExpires.Int64)
		user.BlockExpiresAt = &ts
	}

	violations, err := s.listViolations(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Violations = violations

	return &user, nil
}

func (s *SQLiteStore) listViolations(ctx context.Context, userID string) ([]domain.Violation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, content, created_at FROM violations WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close violation rows", "error", closeErr)
		}
	}()

	violations := []domain.Violation{}
	for rows.Next() {
		var v domain.Violation
		var kind string
		var createdAt int64
		if err := rows.Scan(&kind, &v.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan violation row: %w", err)
		}
		v.Kind = domain.ViolationKind(kind)
		v.Timestamp = fromMillis(createdAt)
		violations = append(violations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return violations, nil
}

// UpsertUserProfile creates or refreshes a user's profile.
func (s *SQLiteStore) UpsertUserProfile(ctx context.Context, userID string, profile domain.Profile, at time.Time) (*domain.User, error) {
	query := `
	INSERT INTO users (user_id, email, name, picture_url, created_at, last_login_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		email = excluded.email,
		name = excluded.name,
		picture_url = excluded.picture_url,
		last_login_at = excluded.last_login_at,
		updated_at = excluded.updated_at`

	ts := at.UnixMilli()
	err := shared.RetryOnConflict(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			userID, profile.Email, profile.Name, profile.PictureURL, ts, ts, ts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUser(ctx, userID)
}

// AppendViolation records a violation and applies the block threshold atomically.
func (s *SQLiteStore) AppendViolation(ctx context.Context, userID string, v domain.Violation, threshold int, blockUntil time.Time) (ViolationResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var result ViolationResult
	err := shared.RetryOnConflict(ctx, s.retry, func() error {
		var err error
		result, err = s.appendViolationOnce(ctx, userID, v, threshold, blockUntil)
		return err
	})
	if err != nil {
		return ViolationResult{}, fmt.Errorf("append violation for %s: %w", userID, err)
	}
	return result, nil
}

func (s *SQLiteStore) appendViolationOnce(ctx context.Context, userID string, v domain.Violation, threshold int, blockUntil time.Time) (ViolationResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ViolationResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := v.Timestamp.UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (user_id, created_at, last_login_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`, userID, ts, ts, ts); err != nil {
		return ViolationResult{}, fmt.Errorf("ensure user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO violations (user_id, kind, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, string(v.Kind), v.Content, ts); err != nil {
		return ViolationResult{}, fmt.Errorf("insert violation: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET is_blocked = 1, block_expires_at = ?, updated_at = ?
		WHERE user_id = ? AND is_blocked = 0
		  AND (SELECT COUNT(*) FROM violations WHERE user_id = ?) >= ?`,
		blockUntil.UnixMilli(), ts, userID, userID, threshold)
	if err != nil {
		return ViolationResult{}, fmt.Errorf("apply block: %w", err)
	}
	blockedRows, err := res.RowsAffected()
	if err != nil {
		return ViolationResult{}, fmt.Errorf("get rows affected: %w", err)
	}

	var result ViolationResult
	var blockExpires sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM violations WHERE user_id = ?), is_blocked, block_expires_at
		FROM users WHERE user_id = ?`, userID, userID).
		Scan(&result.ViolationCount, &result.IsBlocked, &blockExpires)
	if err != nil {
		return ViolationResult{}, fmt.Errorf("read abuse state: %w", err)
	}
	if blockExpires.Valid {
		exp := fromMillis(blockExpires.Int64)
		result.BlockExpiresAt = &exp
	}
	result.NewlyBlocked = blockedRows > 0

	if err := tx.Commit(); err != nil {
		return ViolationResult{}, fmt.Errorf("commit violation: %w", err)
	}
	return result, nil
}

// ClearExpiredBlock unblocks a single user whose block has lapsed.
func (s *SQLiteStore) ClearExpiredBlock(ctx context.Context, userID string, now time.Time) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rows int64
	err := shared.RetryOnConflict(ctx, s.retry, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE users SET is_blocked = 0, block_expires_at = NULL, updated_at = ?
			WHERE user_id = ? AND is_blocked = 1 AND block_expires_at <= ?`,
			now.UnixMilli(), userID, now.UnixMilli())
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("clear expired block: %w", err)
	}
	return rows > 0, nil
}

// ClearAllExpiredBlocks unblocks every user whose block has lapsed.
func (s *SQLiteStore) ClearAllExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rows int64
	err := shared.RetryOnConflict(ctx, s.retry, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE users SET is_blocked = 0, block_expires_at = NULL, updated_at = ?
			WHERE is_blocked = 1 AND block_expires_at <= ?`,
			now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear expired blocks: %w", err)
	}
	return rows, nil
}

// CreateSession persists an issued bearer session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.AuthSession) error {
	err := shared.RetryOnConflict(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO auth_sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			session.Token, session.UserID, session.CreatedAt.UnixMilli(), session.ExpiresAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token.
func (s *SQLiteStore) GetSession(ctx context.Context, token string) (*domain.AuthSession, error) {
	var session domain.AuthSession
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM auth_sessions WHERE token = ?`, token).
		Scan(&session.Token, &session.UserID, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return &session, nil
}

// DeleteSession revokes a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, token string) error {
	err := shared.RetryOnConflict(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE token = ?`, token)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes expired sessions.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	var rows int64
	err := shared.RetryOnConflict(ctx, s.retry, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at <= ?`, now.UnixMilli())
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return rows, nil
}
