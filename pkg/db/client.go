package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

const defaultTxAttempts = 3

// Client owns the GORM pool shared by every repository in a process.
type Client struct {
	conn       *gorm.DB
	txAttempts int
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// New opens Postgres, or sqlite for local runs and tests, and sizes the
// pool from cfg. Queries slower than cfg.SlowQuery are logged at warn.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}

	conn, err := gorm.Open(dialector(cfg), gormConfig(logg, cfg.SlowQuery))
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}
	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	sizePool(pool, cfg)

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"driver":         cfg.Driver,
			"max_open_conns": pool.Stats().MaxOpenConnections,
		}), "database connection established")
	}
	c := NewFromGorm(conn)
	if cfg.TxAttempts > 0 {
		c.txAttempts = cfg.TxAttempts
	}
	return c, nil
}

// NewFromGorm wraps an open connection. Tests use it with sqlite.
func NewFromGorm(conn *gorm.DB) *Client {
	return &Client{conn: conn, txAttempts: defaultTxAttempts}
}

func dialector(cfg config.DBConfig) gorm.Dialector {
	if cfg.IsSQLite() {
		return sqlite.Open(cfg.DSN)
	}
	return postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true})
}

func sizePool(pool *sql.DB, cfg config.DBConfig) {
	if cfg.IsSQLite() {
		// sqlite allows one writer; more connections only produce SQLITE_BUSY
		pool.SetMaxOpenConns(1)
		return
	}
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// WithTx runs fn in a transaction. A panic or error rolls back. When
// Postgres aborts the transaction for a serialization failure or a
// deadlock, fn runs again from the start, so fn must not have side effects
// outside tx.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	attempts := max(c.txAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.conn.WithContext(ctx).Transaction(fn)
		if err == nil || !IsRetryableTxError(err) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("transaction aborted after %d attempts: %w", attempts, err)
}
