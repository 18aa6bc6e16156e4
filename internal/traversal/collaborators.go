package traversal

import (
	"context"
	"errors"
)

// ErrNoResponse marks a hop that did not answer at all: a timeout or a
// connectivity failure, as opposed to a query that executed and returned
// zero rows. The query layer wraps transport failures with this sentinel so
// the explorer can tell an unreachable hop from an ordinary leaf.
var ErrNoResponse = errors.New("no response from hop")

// Link is one row of a hop's server-link catalog. LocalLogin is the login
// the next hop expects the caller to present; empty means the link has no
// explicit mapping and the current session identity is used as-is.
type Link struct {
	Name       string
	LocalLogin string
}

// Querier executes catalog queries against the hop currently targeted by a
// chain, routing the statement through however many nested remote-execution
// layers the chain implies.
type Querier interface {
	ListLinkedServers(ctx context.Context, chain Chain) ([]Link, error)
	ReadIdentity(ctx context.Context, chain Chain) (Identity, error)
}

// Impersonator switches and reverts the session identity. All three calls
// execute on the one pinned entry session a tree explores over — there is
// no per-hop session — and the switched login reaches downstream hops
// through their linked-login mappings. The explorer is responsible for
// calling RevertLast exactly once per successful Impersonate, in reverse
// order.
type Impersonator interface {
	CanImpersonate(ctx context.Context, login string) (bool, error)
	Impersonate(ctx context.Context, login string) error
	RevertLast(ctx context.Context) error
}
