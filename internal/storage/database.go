package storage

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gemchat/internal/config"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Open connects to the SQL backend named by dbType.
// "sqlite3" uses the cgo driver, "sqlite" the pure Go one.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite3", "sqlite":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		if err := ensureDir(dbCfg.DSN); err != nil {
			return nil, err
		}
		db, err = sql.Open(dbType, dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", dbType, err)
		}
		// one connection keeps :memory: databases shared and writes serialized
		db.SetMaxOpenConns(1)
	case "mysql":
		dsn, err := mysqlDSN(dbCfg)
		if err != nil {
			return nil, err
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the document table is present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite3", "sqlite":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS kv_documents (
				doc_key TEXT PRIMARY KEY,
				doc_value TEXT NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS kv_documents (
				doc_key VARCHAR(191) NOT NULL,
				doc_value LONGTEXT NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (doc_key)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// mysqlDSN prefers an explicit dsn and otherwise assembles one from the
// host fields. Params is a url query string such as "charset=utf8mb4".
func mysqlDSN(dbCfg config.DatabaseConfig) (string, error) {
	if dbCfg.DSN != "" {
		return dbCfg.DSN, nil
	}
	mc := mysql.NewConfig()
	mc.User = dbCfg.Username
	mc.Passwd = dbCfg.Password
	mc.Net = "tcp"
	port := dbCfg.Port
	if port == 0 {
		port = 3306
	}
	mc.Addr = net.JoinHostPort(dbCfg.Host, strconv.Itoa(port))
	mc.DBName = dbCfg.DBName
	mc.ParseTime = true
	if dbCfg.Params != "" {
		values, err := url.ParseQuery(dbCfg.Params)
		if err != nil {
			return "", fmt.Errorf("parse mysql params: %w", err)
		}
		mc.Params = make(map[string]string, len(values))
		for k := range values {
			mc.Params[k] = values.Get(k)
		}
	}
	return mc.FormatDSN(), nil
}

func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database dir %s: %w", dir, err)
	}
	return nil
}
