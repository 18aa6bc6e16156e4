package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sqlhopper/sqlhopper/internal/traversal"
)

// listLinksQuery enumerates a server's outgoing links together with the
// local login each link expects. A NULL local principal on the login mapping
// means the mapping applies to whatever login arrives, so the session
// identity is used as-is (empty string, the traversal sentinel).
const listLinksQuery = `SELECT s.name, COALESCE(sp.name, '')
FROM sys.servers s
INNER JOIN sys.linked_logins ll ON s.server_id = ll.server_id
LEFT JOIN sys.server_principals sp ON ll.local_principal_id = sp.principal_id
WHERE s.is_linked = 1 AND s.is_data_access_enabled = 1
ORDER BY s.name`

const readIdentityQuery = `SELECT SYSTEM_USER, USER_NAME(), CAST(ISNULL(IS_SRVROLEMEMBER('sysadmin'), 0) AS INT)`

// WrapForChain nests stmt in one EXEC (...) AT layer per hop, innermost
// last. Single quotes double once per nesting level, so a statement routed
// three hops deep carries eight consecutive quotes where the original had
// one. Identities recorded on the chain are not applied here; they are
// session state, replayed by WithChainIdentities.
func WrapForChain(stmt string, chain traversal.Chain) string {
	servers := chain.Servers()
	wrapped := stmt
	for i := len(servers) - 1; i >= 0; i-- {
		wrapped = fmt.Sprintf("EXEC (N'%s') AT %s", strings.ReplaceAll(wrapped, "'", "''"), quoteIdent(servers[i]))
	}
	return wrapped
}

// quoteIdent bracket-quotes a server name for use as an identifier.
func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// quoteString single-quote-escapes a value for embedding in a statement that
// will be wrapped for a chain. Chain-routed statements cannot carry driver
// parameters; literals are the only option, as with every tool that walks
// EXEC AT.
func quoteString(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

// ListLinkedServers implements traversal.Querier against the hop the chain
// currently targets.
func (s *Session) ListLinkedServers(ctx context.Context, chain traversal.Chain) ([]traversal.Link, error) {
	stmt := WrapForChain(listLinksQuery, chain)
	var links []traversal.Link
	err := s.queryAll(ctx, stmt, func(rows *sql.Rows) error {
		var link traversal.Link
		if err := rows.Scan(&link.Name, &link.LocalLogin); err != nil {
			return err
		}
		links = append(links, link)
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}
	return links, nil
}

// ReadIdentity implements traversal.Querier: who the session is at the hop
// the chain currently targets.
func (s *Session) ReadIdentity(ctx context.Context, chain traversal.Chain) (traversal.Identity, error) {
	stmt := WrapForChain(readIdentityQuery, chain)
	var ident traversal.Identity
	var elevated int
	found := false
	err := s.queryAll(ctx, stmt, func(rows *sql.Rows) error {
		found = true
		return rows.Scan(&ident.SystemLogin, &ident.MappedUser, &elevated)
	})
	if err != nil {
		return traversal.Identity{}, s.classify(err)
	}
	if !found {
		return traversal.Identity{}, fmt.Errorf("identity query at %v returned no rows", chain.Servers())
	}
	ident.IsElevated = elevated == 1
	return ident, nil
}

// QueryChain runs an arbitrary statement at the chain tail and materializes
// the first result set as strings. NULLs render as empty strings; callers
// wanting typed access issue their own catalog queries instead.
func (s *Session) QueryChain(ctx context.Context, chain traversal.Chain, stmt string) ([]string, [][]string, error) {
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.conn.QueryContext(qctx, WrapForChain(stmt, chain))
	if err != nil {
		return nil, nil, s.classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]string
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			row[i] = renderValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, s.classify(err)
	}
	return cols, out, nil
}

// renderValue flattens a scanned database value for display.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ExecChain runs a statement at the chain tail, discarding any result.
func (s *Session) ExecChain(ctx context.Context, chain traversal.Chain, stmt string) error {
	if err := s.exec(ctx, WrapForChain(stmt, chain)); err != nil {
		return s.classify(err)
	}
	return nil
}

// classify separates "the hop never answered" from "the hop answered with an
// error". Timeouts and transport failures wrap traversal.ErrNoResponse so
// the explorer treats the hop as unreachable rather than surfacing a fault.
func (s *Session) classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sql.ErrConnDone),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %v", traversal.ErrNoResponse, err)
	}
	if msg := err.Error(); strings.Contains(msg, "timeout") || strings.Contains(msg, "Login timeout") {
		return fmt.Errorf("%w: %v", traversal.ErrNoResponse, err)
	}
	return err
}
