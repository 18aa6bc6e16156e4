package traversal

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxDepth is the traversal depth bound applied when the caller
	// does not set one.
	DefaultMaxDepth = 10
	// MaxDepthCeiling is the hard upper limit on the configurable bound.
	MaxDepthCeiling = 50
)

// Options configures an Explorer.
type Options struct {
	// MaxDepth bounds recursion per tree. Zero means DefaultMaxDepth;
	// values outside [1, MaxDepthCeiling] are rejected.
	MaxDepth int
}

func (o *Options) validate() error {
	if o.MaxDepth == 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxDepth < 1 || o.MaxDepth > MaxDepthCeiling {
		return fmt.Errorf("max depth %d out of range [1, %d]", o.MaxDepth, MaxDepthCeiling)
	}
	return nil
}

// Explorer walks the linked-server graph reachable from the root session.
// Traversal is sequential depth-first: every branch of a tree shares the one
// physical session that performed its impersonations, so identity state is
// only coherent for one in-flight hop at a time.
type Explorer struct {
	q    Querier
	imp  Impersonator
	opts Options
	log  zerolog.Logger
}

// NewExplorer validates options and builds an explorer over the given
// collaborators.
func NewExplorer(q Querier, imp Impersonator, opts Options, log zerolog.Logger) (*Explorer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Explorer{q: q, imp: imp, opts: opts, log: log}, nil
}

// Run enumerates the root's direct links and explores one tree per link.
// Each tree gets a fresh visited set and impersonation stack; after a tree
// is exhausted every impersonation it performed is reverted in reverse push
// order before the next tree starts. Fatal outcomes exist only at the root:
// a failure to read the root's own identity or to enumerate its links means
// the entry server itself is unusable, so the run aborts. Zero discovered
// chains is a successful run with an empty report.
func (e *Explorer) Run(ctx context.Context, rootName string) ([]*TreeMapping, error) {
	rootIdent, err := e.q.ReadIdentity(ctx, Chain{})
	if err != nil {
		return nil, fmt.Errorf("read identity at %s: %w", rootName, err)
	}
	links, err := e.q.ListLinkedServers(ctx, Chain{})
	if err != nil {
		return nil, fmt.Errorf("enumerate linked servers at %s: %w", rootName, err)
	}
	e.log.Info().Str("root", rootName).Int("links", len(links)).Msg("starting chain exploration")

	mappings := make([]*TreeMapping, 0, len(links))
	for _, link := range links {
		tree := newTreeState()
		e.log.Debug().Str("tree", tree.id.String()).Str("link", link.Name).Msg("exploring tree")

		root := branch{chain: Chain{}, target: rootName, tree: tree}
		e.explore(ctx, root.clone(), link, 0)
		e.revertAll(ctx, tree)

		mappings = append(mappings, &TreeMapping{
			TreeID:    tree.id,
			Link:      link.Name,
			Root:      rootName,
			RootLogin: rootIdent.SystemLogin,
			RootUser:  rootIdent.MappedUser,
			Entries:   tree.entries,
		})
	}
	return mappings, nil
}

// explore attempts one hop: align identity with what the hop expects, extend
// the chain, fingerprint the resulting state, record it unless it closes a
// cycle, then recurse into the hop's own links. Every failure is contained
// to this frame; siblings and the rest of the tree continue regardless. The
// caller's branch is never mutated: each frame works on copies, so no
// restore step is needed on return.
func (e *Explorer) explore(ctx context.Context, b branch, hop Link, depth int) {
	log := e.log.With().Str("hop", hop.Name).Int("depth", depth).Logger()
	if depth >= e.opts.MaxDepth {
		log.Debug().Int("max_depth", e.opts.MaxDepth).Msg("depth bound reached, not descending")
		return
	}

	// Identity alignment. An empty LocalLogin means the link carries no
	// explicit mapping and the current session identity applies.
	impersonated := ""
	if hop.LocalLogin != "" {
		ident, err := e.q.ReadIdentity(ctx, b.chain)
		if err != nil {
			e.warnHop(log, err, "identity read failed")
			return
		}
		if ident.SystemLogin != hop.LocalLogin {
			ok, err := e.imp.CanImpersonate(ctx, hop.LocalLogin)
			if err != nil {
				e.warnHop(log, err, "impersonation check failed")
				return
			}
			if !ok {
				log.Debug().Str("login", hop.LocalLogin).Msg("insufficient privilege to impersonate, abandoning branch")
				return
			}
			if err := e.imp.Impersonate(ctx, hop.LocalLogin); err != nil {
				e.warnHop(log, err, "impersonation failed")
				return
			}
			b.tree.imps.PushBack(hop.LocalLogin)
			impersonated = hop.LocalLogin
			log.Debug().Str("login", hop.LocalLogin).Msg("impersonated login")
		}
	}

	// Chain extension on a copy; the caller's chain stays as it was.
	chain := b.chain.Extend(Step{Server: hop.Name, Identity: impersonated})

	ident, err := e.q.ReadIdentity(ctx, chain)
	if err != nil {
		e.warnHop(log, err, "hop did not answer identity query")
		return
	}
	state := ServerState{
		TargetHop:        hop.Name,
		SystemLogin:      ident.SystemLogin,
		MappedUser:       ident.MappedUser,
		IsElevated:       ident.IsElevated,
		ImpersonatedUser: impersonated,
	}
	hash := state.Hash()
	if b.tree.seen(hash) {
		log.Debug().Str("state", hash[:12]).Msg("state already visited, loop closed")
		return
	}

	display := impersonated
	if display == "" {
		display = "-"
	}
	b.tree.record(hash, MappingEntry{
		ServerName:       hop.Name,
		LoggedInAs:       ident.SystemLogin,
		MappedAs:         ident.MappedUser,
		ImpersonatedUser: display,
		StateHash:        hash,
		Chain:            chain,
	})
	log.Info().Str("login", ident.SystemLogin).Str("user", ident.MappedUser).Bool("sysadmin", ident.IsElevated).Msg("reached server")

	links, err := e.q.ListLinkedServers(ctx, chain)
	if err != nil {
		e.warnHop(log, err, "linked server enumeration failed")
		return
	}
	next := branch{chain: chain, target: hop.Name, tree: b.tree}
	for _, link := range links {
		e.explore(ctx, next.clone(), link, depth+1)
	}
}

// warnHop logs a per-hop recoverable failure, distinguishing unreachable
// hops from unexpected collaborator errors.
func (e *Explorer) warnHop(log zerolog.Logger, err error, msg string) {
	if errors.Is(err, ErrNoResponse) {
		log.Warn().Err(err).Msg("hop unreachable, abandoning branch")
		return
	}
	log.Warn().Err(err).Msg(msg)
}

// revertAll pops the tree's impersonation stack, reverting in exact reverse
// push order. A failed revert is logged and the loop continues with the
// remaining entries.
func (e *Explorer) revertAll(ctx context.Context, tree *treeState) {
	for tree.imps.Len() > 0 {
		login := tree.imps.PopBack()
		if err := e.imp.RevertLast(ctx); err != nil {
			e.log.Error().Err(err).Str("login", login).Msg("failed to revert impersonation")
			continue
		}
		e.log.Debug().Str("login", login).Msg("reverted impersonation")
	}
}
