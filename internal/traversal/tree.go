package traversal

import (
	"github.com/gammazero/deque"
	"github.com/google/uuid"
)

// treeState is the state shared by every branch beneath one top-level link:
// cycle knowledge, impersonation bookkeeping, and the discovery log. It is
// created when a top-level link begins exploration, passed by reference down
// the recursion, and torn down (the stack via full reversion) when the
// tree's subtree is exhausted. Nothing outside the explorer touches it.
type treeState struct {
	id      uuid.UUID
	visited map[string]struct{}
	imps    deque.Deque[string]
	entries []MappingEntry
}

func newTreeState() *treeState {
	return &treeState{
		id:      uuid.New(),
		visited: make(map[string]struct{}),
	}
}

// seen reports whether the state hash was already visited in this tree.
func (t *treeState) seen(hash string) bool {
	_, ok := t.visited[hash]
	return ok
}

// record marks a state visited and appends its mapping entry. Called at most
// once per hash; the visited set only grows until the tree completes.
func (t *treeState) record(hash string, entry MappingEntry) {
	t.visited[hash] = struct{}{}
	t.entries = append(t.entries, entry)
}

// branch is one recursive path within a tree. Cloning copies the chain and
// target so sibling fan-outs cannot observe each other's extensions, while
// the tree pointer is shared: cycle knowledge and the impersonation stack
// belong to the whole tree, not to a single path.
type branch struct {
	chain  Chain
	target string
	tree   *treeState
}

func (b branch) clone() branch {
	return branch{
		chain:  NewChain(b.chain.steps...),
		target: b.target,
		tree:   b.tree,
	}
}
