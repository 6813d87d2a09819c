package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/annel0/slime-worlds/internal/config"
)

// sqlDialect holds the statements that differ between MySQL/MariaDB and SQLite.
type sqlDialect struct {
	driver      string
	createTable string
	upsert      string
}

var dialects = map[string]sqlDialect{
	config.DialectMySQL: {
		driver: "mysql",
		createTable: `
			CREATE TABLE IF NOT EXISTS %s (
				name       VARCHAR(64)  NOT NULL PRIMARY KEY,
				data       MEDIUMBLOB   NOT NULL,
				updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
				           ON UPDATE    CURRENT_TIMESTAMP
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		upsert: `
			INSERT INTO %s (name, data) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE
				data = VALUES(data),
				updated_at = CURRENT_TIMESTAMP`,
	},
	config.DialectSQLite: {
		driver: "sqlite",
		createTable: `
			CREATE TABLE IF NOT EXISTS %s (
				name       TEXT    NOT NULL PRIMARY KEY,
				data       BLOB    NOT NULL,
				updated_at INTEGER NOT NULL DEFAULT 0
			)`,
		upsert: `
			INSERT INTO %s (name, data, updated_at) VALUES (?, ?, strftime('%%s','now'))
			ON CONFLICT(name) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at`,
	},
}

// SQLLoader keeps worlds in a single table keyed by world name.
type SQLLoader struct {
	db      *sql.DB
	table   string
	dialect sqlDialect
	timeout time.Duration
}

// NewSQLLoader opens the database, pings it and creates the table if needed.
// A failed ping is reported as *ConnectionError.
func NewSQLLoader(ctx context.Context, cfg config.SQLConfig) (*SQLLoader, error) {
	name := cfg.Dialect
	if name == "" {
		name = config.DialectMySQL
	}
	dialect, ok := dialects[name]
	if !ok {
		return nil, &UnsupportedBackendError{Type: "sql/" + name}
	}
	if cfg.Table == "" {
		cfg.Table = "worlds"
	}

	dsn := cfg.URI
	if dsn == "" {
		dsn = buildDSN(name, cfg)
	}

	db, err := sql.Open(dialect.driver, dsn)
	if err != nil {
		return nil, &ConnectionError{Backend: name, Err: err}
	}
	if name == config.DialectSQLite {
		// in-memory база живёт в одном соединении
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &ConnectionError{Backend: name, Err: err}
	}

	l := &SQLLoader{
		db:      db,
		table:   cfg.Table,
		dialect: dialect,
		timeout: 10 * time.Second,
	}
	if err := l.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func buildDSN(dialect string, cfg config.SQLConfig) string {
	if dialect == config.DialectSQLite {
		return cfg.Database
	}

	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	if cfg.UseTLS {
		mc.TLSConfig = "true"
	}
	return mc.FormatDSN()
}

func (l *SQLLoader) createTable(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, fmt.Sprintf(l.dialect.createTable, l.table)); err != nil {
		return ioErr("create table "+l.table, "", err)
	}
	return nil
}

func (l *SQLLoader) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var one int
	err := l.db.QueryRowContext(ctx, "SELECT 1 FROM "+l.table+" WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ioErr("exists", name, err)
	}
	return true, nil
}

func (l *SQLLoader) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	rows, err := l.db.QueryContext(ctx, "SELECT name FROM "+l.table)
	if err != nil {
		return nil, ioErr("list", "", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ioErr("list", "", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("list", "", err)
	}
	return names, nil
}

func (l *SQLLoader) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var data []byte
	err := l.db.QueryRowContext(ctx, "SELECT data FROM "+l.table+" WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, ioErr("read", name, err)
	}
	return data, nil
}

// Write is a single upsert statement, so readers see either the old or the new row.
func (l *SQLLoader) Write(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, fmt.Sprintf(l.dialect.upsert, l.table), name, data); err != nil {
		return ioErr("write", name, err)
	}
	return nil
}

func (l *SQLLoader) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	result, err := l.db.ExecContext(ctx, "DELETE FROM "+l.table+" WHERE name = ?", name)
	if err != nil {
		return ioErr("delete", name, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ioErr("delete", name, err)
	}
	if rowsAffected == 0 {
		return notFound(name)
	}
	return nil
}

// Close закрывает соединение с базой данных.
func (l *SQLLoader) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
