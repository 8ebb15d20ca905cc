package directory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"linkroom/internal/app/room"
	"linkroom/internal/pkg/logx"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// pgxPool is the subset of *pgxpool.Pool the directory queries with.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres is a Directory backed by a PostgreSQL rooms table.
type Postgres struct {
	pool pgxPool
}

// NewPostgres initializes a new PostgreSQL connection pool, executes database migrations
// and returns a Directory using it.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := runMigrations(sqlDB); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

// runMigrations applies all pending migrations from the embedded file system.
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logx.Info("Database migrations applied successfully.")
	return nil
}

const lookupRoomSQL = `
SELECT id, code, created_at, document, language
FROM rooms
WHERE code = $1`

func (p *Postgres) Lookup(ctx context.Context, code string) (room.Room, error) {
	var r room.Room

	err := p.pool.QueryRow(ctx, lookupRoomSQL, code).
		Scan(&r.ID, &r.Code, &r.CreatedAt, &r.Document, &r.Language)
	if errors.Is(err, pgx.ErrNoRows) {
		return room.Room{}, ErrNotFound
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("lookup room %s: %w", code, err)
	}

	return r, nil
}

const registerRoomSQL = `
INSERT INTO rooms (id, code, created_at, document, language, document_updated_at)
VALUES ($1, $2, $3, $4, $5, $3)`

func (p *Postgres) Register(ctx context.Context, r room.Room) error {
	_, err := p.pool.Exec(ctx, registerRoomSQL, r.ID, r.Code, r.CreatedAt, r.Document, r.Language)
	if IsUniqueViolation(err) {
		return ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("register room %s: %w", r.Code, err)
	}
	return nil
}

const saveDocumentSQL = `
UPDATE rooms
SET document = $2, document_updated_at = $3
WHERE code = $1`

func (p *Postgres) SaveDocument(ctx context.Context, code string, content string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, saveDocumentSQL, code, content, at)
	if err != nil {
		return fmt.Errorf("save document for room %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// IsUniqueViolation checks if the error is a PostgreSQL unique constraint violation (code 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
