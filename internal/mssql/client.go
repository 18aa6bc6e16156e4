// Package mssql provides SQL Server connectivity and the chain-routed query
// and identity collaborators the traversal core drives.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/rs/zerolog"
)

// Config holds connection parameters for the entry server.
type Config struct {
	Server       string // host, host:port, or host\instance
	Port         int    // used when Server carries no port
	Database     string
	UserID       string
	Password     string
	DialTimeout  time.Duration
	QueryTimeout time.Duration
}

// ConnString assembles a go-mssqldb ADO-style connection string. Certificate
// validation is intentionally off: the tool must connect to whatever server
// the operator points it at.
func (c *Config) ConnString() string {
	host, port, instance := splitServer(c.Server, c.Port)

	server := host
	if instance != "" {
		server = host + "\\" + instance
	}
	parts := []string{
		"server=" + server,
		"app name=sqlhopper",
		"encrypt=optional",
		"TrustServerCertificate=true",
	}
	if instance == "" {
		parts = append(parts, "port="+strconv.Itoa(port))
	}
	if c.Database != "" {
		parts = append(parts, "database="+c.Database)
	}
	if c.UserID != "" {
		parts = append(parts, "user id="+c.UserID, "password="+c.Password)
	} else {
		parts = append(parts, "trusted_connection=yes")
	}
	if c.DialTimeout > 0 {
		parts = append(parts, fmt.Sprintf("dial timeout=%d", int(c.DialTimeout.Seconds())))
	}
	return strings.Join(parts, ";")
}

// splitServer parses host, host:port, and host\instance forms.
func splitServer(server string, defaultPort int) (host string, port int, instance string) {
	host = server
	port = defaultPort
	if port == 0 {
		port = 1433
	}
	if idx := strings.Index(host, "\\"); idx >= 0 {
		instance = host[idx+1:]
		host = host[:idx]
		return host, port, instance
	}
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		if p, err := strconv.Atoi(host[idx+1:]); err == nil {
			port = p
			host = host[:idx]
		}
	}
	return host, port, instance
}

// Session is one pinned SQL Server connection. The traversal core requires
// that every impersonation and reversion in an exploration tree hit the same
// physical session, so Session holds a single *sql.Conn checked out of the
// pool for its whole lifetime rather than the pool itself.
type Session struct {
	db           *sql.DB
	conn         *sql.Conn
	serverName   string
	queryTimeout time.Duration
	log          zerolog.Logger
}

// Connect opens the entry server, pins one connection, and reads
// @@SERVERNAME to anchor the report.
func Connect(ctx context.Context, cfg *Config, log zerolog.Logger) (*Session, error) {
	db, err := sql.Open("sqlserver", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s: %w", cfg.Server, err)
	}

	s := &Session{
		db:           db,
		conn:         conn,
		queryTimeout: cfg.QueryTimeout,
		log:          log,
	}
	if s.queryTimeout == 0 {
		s.queryTimeout = 30 * time.Second
	}

	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := conn.QueryRowContext(qctx, "SELECT @@SERVERNAME").Scan(&s.serverName); err != nil {
		s.Close()
		return nil, fmt.Errorf("read server name: %w", err)
	}
	log.Info().Str("server", s.serverName).Msg("connected")
	return s, nil
}

// ServerName returns the entry server's @@SERVERNAME.
func (s *Session) ServerName() string { return s.serverName }

// Close releases the pinned connection and the pool behind it.
func (s *Session) Close() error {
	var first error
	if s.conn != nil {
		first = s.conn.Close()
		s.conn = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && first == nil {
			first = err
		}
		s.db = nil
	}
	return first
}

// exec runs a statement on the pinned session under the query timeout.
func (s *Session) exec(ctx context.Context, stmt string) error {
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.conn.ExecContext(qctx, stmt)
	return err
}

// queryAll runs a statement, fully materializes the result set, and closes
// it. Materializing keeps the timeout context scoped to this call instead of
// leaking it into a live rows iterator.
func (s *Session) queryAll(ctx context.Context, stmt string, scan func(*sql.Rows) error) error {
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.conn.QueryContext(qctx, stmt)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
