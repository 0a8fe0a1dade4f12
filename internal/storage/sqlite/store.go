package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/storage/sqlite/migrations"
)

// Store provides SQLite-backed session persistence.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Backend = (*Store)(nil)

// Open opens a session SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 单连接：同一进程内的写入按顺序执行，CAS 只需要判断受影响行数
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get loads one session record and upgrades it to the current schema.
func (s *Store) Get(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var data string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT data FROM sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return storage.DecodeSession([]byte(data))
}

// Put writes a session when the stored version still equals expectedVersion.
func (s *Store) Put(ctx context.Context, sc *models.SessionContext, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := storage.CheckPut(sc, expectedVersion); err != nil {
		return err
	}
	data, err := storage.EncodeSession(sc)
	if err != nil {
		return err
	}

	var result sql.Result
	if expectedVersion == 0 {
		result, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (session_id, version, schema_version, data, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO NOTHING
`,
			sc.SessionID,
			sc.Version,
			sc.SchemaVersion,
			string(data),
			sc.CreatedAt.UTC().UnixMilli(),
			sc.UpdatedAt.UTC().UnixMilli(),
		)
	} else {
		result, err = s.sqlDB.ExecContext(ctx, `
UPDATE sessions
SET version = ?, schema_version = ?, data = ?, updated_at = ?
WHERE session_id = ? AND version = ?
`,
			sc.Version,
			sc.SchemaVersion,
			string(data),
			sc.UpdatedAt.UTC().UnixMilli(),
			sc.SessionID,
			expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("put session rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}

// List returns every stored session ordered by id.
func (s *Store) List(ctx context.Context) ([]storage.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT session_id, version, updated_at
FROM sessions
ORDER BY session_id
`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []storage.SessionSummary{}
	for rows.Next() {
		var (
			summary   storage.SessionSummary
			updatedAt int64
		)
		if err := rows.Scan(&summary.SessionID, &summary.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		summary.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}
