package graphout

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlhopper/sqlhopper/internal/traversal"
)

type graphFile struct {
	Metadata struct {
		SourceKind string `json:"source_kind"`
	} `json:"metadata"`
	Graph struct {
		Nodes []Node `json:"nodes"`
		Edges []Edge `json:"edges"`
	} `json:"graph"`
}

func readGraph(t *testing.T, path string) graphFile {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var g graphFile
	require.NoError(t, json.Unmarshal(data, &g), "output must be valid JSON: %s", data)
	return g
}

func TestWriterProducesValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "graph.json")
	w, err := NewStreamingWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.WriteNode(&Node{ID: "n1", Kinds: []string{"SQLServer"}, Properties: map[string]any{"name": "A"}}))
	require.NoError(t, w.WriteNode(&Node{ID: "n2", Kinds: []string{"SQLServer"}, Properties: map[string]any{"name": "B"}}))
	require.NoError(t, w.WriteEdge(&Edge{Start: EdgeEndpoint{Value: "n1"}, End: EdgeEndpoint{Value: "n2"}, Kind: "LinkedTo"}))
	// Exact duplicate: skipped.
	require.NoError(t, w.WriteEdge(&Edge{Start: EdgeEndpoint{Value: "n1"}, End: EdgeEndpoint{Value: "n2"}, Kind: "LinkedTo"}))
	require.NoError(t, w.Close())

	g := readGraph(t, path)
	assert.Equal(t, "sqlhopper", g.Metadata.SourceKind)
	require.Len(t, g.Graph.Nodes, 2)
	require.Len(t, g.Graph.Edges, 1)
	assert.Equal(t, "n1", g.Graph.Edges[0].Start.Value)
}

func TestWriterNoEdges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	w, err := NewStreamingWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteNode(&Node{ID: "n1", Kinds: []string{"SQLServer"}}))
	require.NoError(t, w.Close())

	g := readGraph(t, path)
	require.Len(t, g.Graph.Nodes, 1)
	assert.Empty(t, g.Graph.Edges)
}

func TestWriterRejectsNodeAfterEdge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	w, err := NewStreamingWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteNode(&Node{ID: "n1"}))
	require.NoError(t, w.WriteEdge(&Edge{Start: EdgeEndpoint{Value: "n1"}, End: EdgeEndpoint{Value: "n1"}, Kind: "LinkedTo"}))
	assert.Error(t, w.WriteNode(&Node{ID: "n2"}))
	require.NoError(t, w.Close())
}

func TestWriteMappings(t *testing.T) {
	chainA := traversal.NewChain(traversal.Step{Server: "A"})
	chainAB := chainA.Extend(traversal.Step{Server: "B", Identity: "svcB"})
	mapping := &traversal.TreeMapping{
		Link:      "A",
		Root:      "SQL01",
		RootLogin: "sa",
		RootUser:  "dbo",
		Entries: []traversal.MappingEntry{
			{ServerName: "A", LoggedInAs: "sa", MappedAs: "dbo", ImpersonatedUser: "-", StateHash: "hashA", Chain: chainA},
			{ServerName: "B", LoggedInAs: "svcB", MappedAs: "dbo", ImpersonatedUser: "svcB", StateHash: "hashB", Chain: chainAB},
		},
	}

	path := filepath.Join(t.TempDir(), "graph.json")
	w, err := NewStreamingWriter(path)
	require.NoError(t, err)
	require.NoError(t, WriteMappings(w, []*traversal.TreeMapping{mapping}))
	nodes, edges := w.Counts()
	require.NoError(t, w.Close())

	assert.Equal(t, 3, nodes)
	assert.Equal(t, 2, edges)

	g := readGraph(t, path)
	require.Len(t, g.Graph.Nodes, 3, "root plus two discovered states")
	require.Len(t, g.Graph.Edges, 2)
	assert.Equal(t, "root:SQL01", g.Graph.Nodes[0].ID)

	// Nodes are keyed by the tree-scoped state fingerprint, and each edge
	// starts at the node for the chain one hop shorter.
	treeID := mapping.TreeID.String()
	assert.Equal(t, treeID+":hashA", g.Graph.Nodes[1].ID)
	assert.Equal(t, treeID+":hashB", g.Graph.Nodes[2].ID)
	assert.Equal(t, "root:SQL01", g.Graph.Edges[0].Start.Value)
	assert.Equal(t, treeID+":hashA", g.Graph.Edges[0].End.Value)
	assert.Equal(t, treeID+":hashA", g.Graph.Edges[1].Start.Value)
	assert.Equal(t, treeID+":hashB", g.Graph.Edges[1].End.Value)

	// The edge identity comes from the chain step, not the report display
	// form: no switch renders as the empty string rather than "-".
	assert.Equal(t, "", g.Graph.Edges[0].Properties["impersonated"])
	assert.Equal(t, "svcB", g.Graph.Edges[1].Properties["impersonated"])
}
