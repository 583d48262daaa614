package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolOptions задаёт параметры пула соединений.
type PoolOptions struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Option настраивает пул соединений Store.
type Option func(*PoolOptions)

// WithMaxOpenConns ограничивает число открытых соединений.
func WithMaxOpenConns(n int) Option {
	return func(o *PoolOptions) {
		if n > 0 {
			o.MaxOpenConns = n
		}
	}
}

// WithConnMaxLifetime задаёт максимальное время жизни соединения.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *PoolOptions) {
		if d > 0 {
			o.ConnMaxLifetime = d
		}
	}
}

// Store оборачивает SQL-подключение к PostgreSQL: каталог, заказы, outbox,
// таймлайн и ключи идемпотентности живут в одной базе.
type Store struct {
	db *sql.DB
}

// Open открывает подключение к PostgreSQL через драйвер pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool := PoolOptions{
		MaxOpenConns:    defaultMaxOpenConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
	for _, opt := range opts {
		opt(&pool)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxOpenConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения (health-check).
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все недостающие up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
