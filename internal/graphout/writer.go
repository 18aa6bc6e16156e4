// Package graphout streams the discovered linked-server topology to a JSON
// graph file: one node per discovered server state, one edge per traversed
// link.
package graphout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Node is one discovered server state. WriteMappings keys it by the
// tree-scoped state fingerprint, so a server reached under two identities
// appears as two nodes.
type Node struct {
	ID         string         `json:"id"`
	Kinds      []string       `json:"kinds"`
	Properties map[string]any `json:"properties"`
}

// Edge is one traversed link between two states.
type Edge struct {
	Start      EdgeEndpoint   `json:"start"`
	End        EdgeEndpoint   `json:"end"`
	Kind       string         `json:"kind"`
	Properties map[string]any `json:"properties,omitempty"`
}

// EdgeEndpoint names one end of an edge by node id.
type EdgeEndpoint struct {
	Value string `json:"value"`
}

// StreamingWriter appends nodes and edges to the output file as they are
// discovered, closing the JSON envelope on Close. Nodes must all be written
// before the first edge.
type StreamingWriter struct {
	file      *os.File
	mu        sync.Mutex
	firstNode bool
	firstEdge bool
	inEdges   bool
	seenEdges map[string]bool
	nodeCount int
	edgeCount int
}

// NewStreamingWriter creates the output file and writes the graph header.
func NewStreamingWriter(path string) (*StreamingWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create graph file: %w", err)
	}
	w := &StreamingWriter{
		file:      file,
		firstNode: true,
		firstEdge: true,
		seenEdges: make(map[string]bool),
	}
	header := "{\n  \"metadata\": {\n    \"source_kind\": \"sqlhopper\"\n  },\n  \"graph\": {\n    \"nodes\": [\n"
	if _, err := file.WriteString(header); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// WriteNode appends one node.
func (w *StreamingWriter) WriteNode(node *Node) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inEdges {
		return fmt.Errorf("cannot write nodes after edges have started")
	}
	if !w.firstNode {
		if _, err := w.file.WriteString(",\n"); err != nil {
			return err
		}
	}
	w.firstNode = false
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	if _, err := w.file.WriteString("      "); err != nil {
		return err
	}
	if _, err := w.file.Write(data); err != nil {
		return err
	}
	w.nodeCount++
	return nil
}

// WriteEdge appends one edge. Exact duplicates are silently skipped; edges
// between the same pair that differ in properties are kept.
func (w *StreamingWriter) WriteEdge(edge *Edge) error {
	if edge == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(edge)
	if err != nil {
		return err
	}
	if w.seenEdges[string(data)] {
		return nil
	}
	w.seenEdges[string(data)] = true

	if !w.inEdges {
		if _, err := w.file.WriteString("\n    ],\n    \"edges\": [\n"); err != nil {
			return err
		}
		w.inEdges = true
	}
	if !w.firstEdge {
		if _, err := w.file.WriteString(",\n"); err != nil {
			return err
		}
	}
	w.firstEdge = false
	if _, err := w.file.WriteString("      "); err != nil {
		return err
	}
	if _, err := w.file.Write(data); err != nil {
		return err
	}
	w.edgeCount++
	return nil
}

// Counts returns how many nodes and edges have been written.
func (w *StreamingWriter) Counts() (nodes, edges int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nodeCount, w.edgeCount
}

// Close finishes the JSON envelope and closes the file.
func (w *StreamingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var tail string
	if w.inEdges {
		tail = "\n    ]\n  }\n}\n"
	} else {
		tail = "\n    ],\n    \"edges\": []\n  }\n}\n"
	}
	if _, err := w.file.WriteString(tail); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
