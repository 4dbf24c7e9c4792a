package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"ordersync/internal/config"
)

type MySql struct {
	db         *sql.DB
	prefix     string
	structure  map[string]map[string]Column
	statements map[string]*sql.Stmt
	mu         sync.Mutex
	log        *slog.Logger
}

func NewSQLClient(conf *config.Config, log *slog.Logger) (*MySql, error) {
	if !conf.SQL.Enabled {
		return nil, fmt.Errorf("SQL client is disabled in configuration")
	}

	dsn := mysql.NewConfig()
	dsn.User = conf.SQL.UserName
	dsn.Passwd = conf.SQL.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(conf.SQL.HostName, conf.SQL.Port)
	dsn.DBName = conf.SQL.Database
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	db, err := sql.Open(conf.SQL.Driver, dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("sql connect: %w", err)
	}

	// the database may still be starting; three pings, 30 seconds apart
	for i := 0; i < 3; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i == 2 {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		time.Sleep(30 * time.Second)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	sdb := newWithDB(db, conf.SQL.Prefix, log)
	if err = sdb.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sdb, nil
}

func newWithDB(db *sql.DB, prefix string, log *slog.Logger) *MySql {
	return &MySql{
		db:         db,
		prefix:     prefix,
		structure:  make(map[string]map[string]Column),
		statements: make(map[string]*sql.Stmt),
		log:        log,
	}
}

func (s *MySql) Close() {
	s.closeStmt()
	_ = s.db.Close()
}

// Stats returns database info only if there are connections in use
func (s *MySql) Stats() string {
	stats := s.db.Stats()
	if stats.InUse > 0 {
		return fmt.Sprintf("open: %d, inuse: %d, idle: %d, stmts: %d, structure: %d",
			stats.OpenConnections,
			stats.InUse,
			stats.Idle,
			len(s.statements),
			len(s.structure))
	}
	return ""
}

func (s *MySql) table(name string) string {
	return s.prefix + name
}

func (s *MySql) prepareStmt(name, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.statements[name]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement [%s]: %w", name, err)
	}

	s.statements[name] = stmt
	return stmt, nil
}

func (s *MySql) closeStmt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, stmt := range s.statements {
		_ = stmt.Close()
		delete(s.statements, name)
	}
}
