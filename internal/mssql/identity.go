package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sqlhopper/sqlhopper/internal/traversal"
)

// canImpersonateQuery answers whether the current login may EXECUTE AS the
// named login: sysadmin and IMPERSONATE ANY LOGIN cover everything, plus the
// explicit IMPERSONATE grants visible on the session.
const canImpersonateQuery = `SELECT CASE
WHEN ISNULL(IS_SRVROLEMEMBER('sysadmin'), 0) = 1 THEN 1
WHEN EXISTS (
	SELECT 1 FROM sys.fn_my_permissions(NULL, 'SERVER')
	WHERE permission_name = 'IMPERSONATE ANY LOGIN'
) THEN 1
WHEN EXISTS (
	SELECT 1
	FROM sys.server_permissions pe
	INNER JOIN sys.server_principals pr ON pe.grantor_principal_id = pr.principal_id
	WHERE pe.permission_name = 'IMPERSONATE' AND pr.name = N'%s'
) THEN 1
ELSE 0 END`

// CanImpersonate implements traversal.Impersonator. The probe runs on the
// pinned session, so the answer reflects whatever identity the session
// currently holds.
func (s *Session) CanImpersonate(ctx context.Context, login string) (bool, error) {
	stmt := fmt.Sprintf(canImpersonateQuery, quoteString(login))
	allowed := false
	err := s.queryAll(ctx, stmt, func(rows *sql.Rows) error {
		var v int
		if err := rows.Scan(&v); err != nil {
			return err
		}
		allowed = v == 1
		return nil
	})
	if err != nil {
		return false, s.classify(err)
	}
	return allowed, nil
}

// Impersonate switches the pinned session's identity. The caller is expected
// to have checked CanImpersonate first; a failure here still comes back as a
// plain error for the explorer's frame-level handling.
func (s *Session) Impersonate(ctx context.Context, login string) error {
	stmt := fmt.Sprintf("EXECUTE AS LOGIN = N'%s'", quoteString(login))
	if err := s.exec(ctx, stmt); err != nil {
		return s.classify(fmt.Errorf("impersonate %s: %w", login, err))
	}
	return nil
}

// RevertLast undoes the most recent still-active impersonation on the pinned
// session. EXECUTE AS contexts stack server-side; one REVERT pops one.
func (s *Session) RevertLast(ctx context.Context) error {
	if err := s.exec(ctx, "REVERT"); err != nil {
		return s.classify(fmt.Errorf("revert impersonation: %w", err))
	}
	return nil
}

// WithChainIdentities replays the impersonations recorded on a chain
// specification: each /identity segment is re-performed in chain order on
// the pinned session, fn runs with the aligned identity, and every switch is
// reverted afterwards in reverse order regardless of fn's outcome. This is
// how a discovered chain is targeted directly without re-running discovery.
func (s *Session) WithChainIdentities(ctx context.Context, chain traversal.Chain, fn func() error) error {
	var pushed int
	defer func() {
		for ; pushed > 0; pushed-- {
			if err := s.RevertLast(ctx); err != nil {
				s.log.Error().Err(err).Msg("failed to revert replayed impersonation")
			}
		}
	}()
	for _, step := range chain.Steps() {
		if step.Identity == "" {
			continue
		}
		if err := s.Impersonate(ctx, step.Identity); err != nil {
			return err
		}
		pushed++
	}
	return fn()
}
