package graphout

import (
	"github.com/sqlhopper/sqlhopper/internal/traversal"
)

// WriteMappings renders completed tree mappings into the graph file. The
// root server gets one synthetic node; every discovered state becomes a node
// keyed by its tree-scoped state fingerprint, and every traversed link an
// edge carrying the impersonated identity.
func WriteMappings(w *StreamingWriter, mappings []*traversal.TreeMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	rootID := "root:" + mappings[0].Root
	rootNode := &Node{
		ID:    rootID,
		Kinds: []string{"SQLServer"},
		Properties: map[string]any{
			"name":     mappings[0].Root,
			"login":    mappings[0].RootLogin,
			"user":     mappings[0].RootUser,
			"is_entry": true,
		},
	}
	if err := w.WriteNode(rootNode); err != nil {
		return err
	}

	// Node ids keyed by chain spec so edges can find their endpoints.
	type edgeRec struct {
		start, end, identity string
	}
	var edges []edgeRec
	for _, m := range mappings {
		ids := make(map[string]string, len(m.Entries))
		for _, entry := range m.Entries {
			spec := entry.Chain.Spec()
			// State hashes are unique within a tree, not across trees.
			id := m.TreeID.String() + ":" + entry.StateHash
			ids[spec] = id
			node := &Node{
				ID:    id,
				Kinds: []string{"SQLServer"},
				Properties: map[string]any{
					"name":         entry.ServerName,
					"login":        entry.LoggedInAs,
					"user":         entry.MappedAs,
					"impersonated": entry.ImpersonatedUser,
					"chain":        spec,
					"tree":         m.TreeID.String(),
				},
			}
			if err := w.WriteNode(node); err != nil {
				return err
			}

			steps := entry.Chain.Steps()
			start := rootID
			if len(steps) > 1 {
				parent := traversal.NewChain(steps[:len(steps)-1]...)
				start = ids[parent.Spec()]
			}
			edges = append(edges, edgeRec{start: start, end: id, identity: entry.Chain.Last().Identity})
		}
	}

	// All nodes are out; edges close the file's node section on first write.
	for _, e := range edges {
		if e.start == "" {
			continue
		}
		edge := &Edge{
			Start: EdgeEndpoint{Value: e.start},
			End:   EdgeEndpoint{Value: e.end},
			Kind:  "LinkedTo",
			Properties: map[string]any{
				"impersonated": e.identity,
			},
		}
		if err := w.WriteEdge(edge); err != nil {
			return err
		}
	}
	return nil
}
