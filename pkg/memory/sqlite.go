package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	content TEXT NOT NULL,
	type TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_username_created
	ON memories(username, created_at DESC);

CREATE TABLE IF NOT EXISTS user_configs (
	username TEXT PRIMARY KEY,
	config TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// SQLiteConfig holds the parameters for opening a SQLite-backed store.
type SQLiteConfig struct {
	// Path is the filesystem path to the database file. The file is
	// created if it does not exist. Use ":memory:" with PoolSize 1 for
	// tests.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. If nil, logging is discarded.
	Logger *slog.Logger
}

// SQLiteStore implements Store on a SQLite connection pool. Safe for
// concurrent use; each call borrows its own connection.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at cfg.Path and applies
// the schema on every pooled connection. The caller must Close the store.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("memory: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	if cfg.Path == ":memory:" {
		// Each in-memory connection is independent; the pool must not
		// fan out across connections.
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("memory: %s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("memory: opening %s: %w", cfg.Path, err)
	}

	logger.Info("memory store opened", "path", cfg.Path, "pool_size", poolSize)
	return &SQLiteStore{pool: pool, logger: logger, now: time.Now}, nil
}

// Close closes the pool. Blocks until borrowed connections are returned.
func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("memory: close: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StoreMemory(ctx context.Context, username, content, memType, memContext string, tags []string) (int64, error) {
	if memType == "" {
		memType = TypeConversation
	}
	attrs := []any{"username", username, "type", memType, "bytes", len(content)}
	if memContext != "" {
		attrs = append(attrs, "context", memContext)
	}
	if len(tags) > 0 {
		attrs = append(attrs, "tags", strings.Join(tags, ","))
	}
	s.logger.Debug("storing memory", attrs...)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("memory: store: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO memories (username, content, type, created_at) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{username, content, memType, s.now().Unix()},
		})
	if err != nil {
		return 0, fmt.Errorf("memory: store: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

func (s *SQLiteStore) GetRecentMemories(ctx context.Context, username string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.queryMemories(ctx,
		"SELECT id, username, content, type, created_at FROM memories WHERE username = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		username, limit)
}

func (s *SQLiteStore) SearchMemories(ctx context.Context, username, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 5
	}
	pattern := "%" + escapeLike(query) + "%"
	return s.queryMemories(ctx,
		"SELECT id, username, content, type, created_at FROM memories WHERE username = ? AND content LIKE ? ESCAPE '\\' ORDER BY created_at DESC, id DESC LIMIT ?",
		username, pattern, limit)
}

func (s *SQLiteStore) GetAllMemories(ctx context.Context, username string) ([]Record, error) {
	return s.queryMemories(ctx,
		"SELECT id, username, content, type, created_at FROM memories WHERE username = ? ORDER BY created_at DESC, id DESC",
		username)
}

func (s *SQLiteStore) GetMemory(ctx context.Context, id int64, username string) (Record, error) {
	records, err := s.queryMemories(ctx,
		"SELECT id, username, content, type, created_at FROM memories WHERE id = ? AND username = ?",
		id, username)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}
	return records[0], nil
}

func (s *SQLiteStore) DeleteMemory(ctx context.Context, id int64, username string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM memories WHERE id = ? AND username = ?",
		&sqlitex.ExecOptions{Args: []any{id, username}})
	if err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateMemory(ctx context.Context, id int64, content, username string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("memory: update: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE memories SET content = ? WHERE id = ? AND username = ?",
		&sqlitex.ExecOptions{Args: []any{content, id, username}})
	if err != nil {
		return fmt.Errorf("memory: update: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetUserConfig(ctx context.Context, username string) (json.RawMessage, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("memory: get config: %w", err)
	}
	defer s.pool.Put(conn)

	var raw string
	found := false
	err = sqlitex.Execute(conn,
		"SELECT config FROM user_configs WHERE username = ?",
		&sqlitex.ExecOptions{
			Args: []any{username},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				raw = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, false, fmt.Errorf("memory: get config: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return json.RawMessage(raw), true, nil
}

func (s *SQLiteStore) SetUserConfig(ctx context.Context, username string, cfg json.RawMessage) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("memory: set config: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO user_configs (username, config, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{username, string(cfg), s.now().Unix()}})
	if err != nil {
		return fmt.Errorf("memory: set config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserPasswordHash(ctx context.Context, username string) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("memory: get user: %w", err)
	}
	defer s.pool.Put(conn)

	var hash string
	found := false
	err = sqlitex.Execute(conn,
		"SELECT password_hash FROM users WHERE username = ?",
		&sqlitex.ExecOptions{
			Args: []any{username},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				hash = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("memory: get user: %w", err)
	}
	if !found {
		return "", ErrNotFound
	}
	return hash, nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, username, passwordHash string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("memory: upsert user: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash`,
		&sqlitex.ExecOptions{Args: []any{username, passwordHash, s.now().Unix()}})
	if err != nil {
		return fmt.Errorf("memory: upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryMemories(ctx context.Context, query string, args ...any) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}
	defer s.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, Record{
				ID:        stmt.ColumnInt64(0),
				Username:  stmt.ColumnText(1),
				Content:   stmt.ColumnText(2),
				Type:      stmt.ColumnText(3),
				CreatedAt: time.Unix(stmt.ColumnInt64(4), 0).UTC(),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}
	return records, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}
