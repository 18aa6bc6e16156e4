// Package traversal implements linked-server chain discovery: depth-first
// exploration of nested server links with per-hop identity switching, cycle
// detection keyed on session state, and strict impersonation unwinding.
package traversal

import (
	"fmt"
	"strings"
)

// Step is one hop of an execution chain: the server the hop targets and the
// login that was impersonated to traverse into it (empty when the session
// identity was used as-is).
type Step struct {
	Server   string
	Identity string
}

// Chain is the ordered hop sequence from the entry server to the currently
// targeted one. Chains have value semantics: Extend returns a new Chain and
// never mutates the receiver, so a Chain held by one traversal branch cannot
// be corrupted by a sibling.
type Chain struct {
	steps []Step
}

// NewChain builds a chain from explicit steps.
func NewChain(steps ...Step) Chain {
	c := Chain{steps: make([]Step, len(steps))}
	copy(c.steps, steps)
	return c
}

// Len returns the number of hops, which equals the recursion depth that
// produced the chain.
func (c Chain) Len() int { return len(c.steps) }

// Steps returns a copy of the hop sequence.
func (c Chain) Steps() []Step {
	out := make([]Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// Servers returns the hop names in order.
func (c Chain) Servers() []string {
	out := make([]string, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.Server
	}
	return out
}

// Last returns the final step, or a zero Step for an empty chain.
func (c Chain) Last() Step {
	if len(c.steps) == 0 {
		return Step{}
	}
	return c.steps[len(c.steps)-1]
}

// Extend returns a new chain with step appended. The receiver is unchanged.
func (c Chain) Extend(step Step) Chain {
	steps := make([]Step, len(c.steps)+1)
	copy(steps, c.steps)
	steps[len(c.steps)] = step
	return Chain{steps: steps}
}

// HasPrefix reports whether other is a (not necessarily strict) prefix of c,
// comparing both server and identity per step.
func (c Chain) HasPrefix(other Chain) bool {
	if len(other.steps) > len(c.steps) {
		return false
	}
	for i, s := range other.steps {
		if c.steps[i] != s {
			return false
		}
	}
	return true
}

// Spec renders the chain specification string: hops joined by ';', an
// impersonated identity appended after '/', and any name containing a
// reserved character wrapped in brackets with literal ']' doubled. The
// result parses back with ParseSpec, so a discovered path can be replayed
// without re-discovery.
func (c Chain) Spec() string {
	parts := make([]string, len(c.steps))
	for i, s := range c.steps {
		name := escapeSegment(s.Server)
		if s.Identity != "" {
			name += "/" + escapeSegment(s.Identity)
		}
		parts[i] = name
	}
	return strings.Join(parts, ";")
}

func escapeSegment(s string) string {
	if !strings.ContainsAny(s, ";/[]") {
		return s
	}
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

// String is the chain specification form.
func (c Chain) String() string { return c.Spec() }

// ParseSpec parses a chain specification string produced by Spec. An empty
// string yields an empty chain (the entry server itself).
func ParseSpec(spec string) (Chain, error) {
	if spec == "" {
		return Chain{}, nil
	}
	var steps []Step
	rest := spec
	for {
		server, after, err := readSegment(rest, spec)
		if err != nil {
			return Chain{}, err
		}
		if server == "" {
			return Chain{}, fmt.Errorf("chain spec %q: empty hop name", spec)
		}
		step := Step{Server: server}
		if len(after) > 0 && after[0] == '/' {
			ident, followed, err := readSegment(after[1:], spec)
			if err != nil {
				return Chain{}, err
			}
			if ident == "" {
				return Chain{}, fmt.Errorf("chain spec %q: empty identity", spec)
			}
			step.Identity = ident
			after = followed
		}
		steps = append(steps, step)
		if after == "" {
			break
		}
		if after[0] != ';' {
			return Chain{}, fmt.Errorf("chain spec %q: unexpected text after bracket", spec)
		}
		rest = after[1:]
		if rest == "" {
			return Chain{}, fmt.Errorf("chain spec %q: empty hop name", spec)
		}
	}
	return Chain{steps: steps}, nil
}

// readSegment consumes one server or identity segment from s and returns it
// together with the unconsumed remainder. A bracketed segment may contain
// any character, with "]]" standing for a literal ']'; a bare segment ends
// at the next ';' or '/'.
func readSegment(s, spec string) (string, string, error) {
	if len(s) > 0 && s[0] == '[' {
		var b strings.Builder
		i := 1
		for i < len(s) {
			if s[i] != ']' {
				b.WriteByte(s[i])
				i++
				continue
			}
			if i+1 < len(s) && s[i+1] == ']' {
				b.WriteByte(']')
				i += 2
				continue
			}
			return b.String(), s[i+1:], nil
		}
		return "", "", fmt.Errorf("chain spec %q: unterminated bracket", spec)
	}
	end := len(s)
	if sep := strings.IndexAny(s, ";/"); sep >= 0 {
		end = sep
	}
	return s[:end], s[end:], nil
}
