package traversal

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MappingEntry records one newly discovered, non-cyclic traversal state:
// the hop, the identity the session holds there, the login impersonated to
// reach it ("-" when the session identity was used as-is), and the state
// fingerprint the cycle check ran on. Entries within a tree appear in
// depth-first visitation order.
type MappingEntry struct {
	ServerName       string
	LoggedInAs       string
	MappedAs         string
	ImpersonatedUser string
	StateHash        string
	Chain            Chain
}

// PathReport is one fully rendered path of a tree: the human-readable arrow
// line and the equivalent replayable chain specification.
type PathReport struct {
	Line string
	Spec string
}

// TreeMapping is the discovery report for one top-level direct link of the
// root and everything reachable beneath it.
type TreeMapping struct {
	TreeID    uuid.UUID
	Link      string
	Root      string
	RootLogin string
	RootUser  string
	Entries   []MappingEntry
}

// entryFor finds the entry discovered at exactly the given chain.
func (m *TreeMapping) entryFor(chain Chain) *MappingEntry {
	for i := range m.Entries {
		if m.Entries[i].Chain.Len() == chain.Len() && m.Entries[i].Chain.HasPrefix(chain) {
			return &m.Entries[i]
		}
	}
	return nil
}

// Paths renders one report per maximal discovered path: entries whose chain
// is not a strict prefix of any other entry's chain.
func (m *TreeMapping) Paths() []PathReport {
	var reports []PathReport
	for i := range m.Entries {
		leaf := &m.Entries[i]
		isPrefix := false
		for j := range m.Entries {
			if j == i {
				continue
			}
			if m.Entries[j].Chain.Len() > leaf.Chain.Len() && m.Entries[j].Chain.HasPrefix(leaf.Chain) {
				isPrefix = true
				break
			}
		}
		if isPrefix {
			continue
		}
		reports = append(reports, PathReport{
			Line: m.renderPath(leaf.Chain),
			Spec: leaf.Chain.Spec(),
		})
	}
	return reports
}

// renderPath draws root (login[mapped]) -imp-> hop (login[mapped]) -> ...
// for every step of the chain, with "-" standing in for steps that needed no
// impersonation.
func (m *TreeMapping) renderPath(chain Chain) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s[%s])", m.Root, m.RootLogin, m.RootUser)
	steps := chain.Steps()
	for i := range steps {
		prefix := NewChain(steps[:i+1]...)
		entry := m.entryFor(prefix)
		imp := "-"
		login, mapped := "?", "?"
		if entry != nil {
			imp = entry.ImpersonatedUser
			login = entry.LoggedInAs
			mapped = entry.MappedAs
		}
		fmt.Fprintf(&b, " -%s-> %s (%s[%s])", imp, steps[i].Server, login, mapped)
	}
	return b.String()
}
