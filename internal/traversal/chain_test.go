package traversal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainSpecRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		chain Chain
		spec  string
	}{
		{
			name:  "empty",
			chain: Chain{},
			spec:  "",
		},
		{
			name:  "single hop",
			chain: NewChain(Step{Server: "SQL02"}),
			spec:  "SQL02",
		},
		{
			name: "impersonation",
			chain: NewChain(
				Step{Server: "SQL02"},
				Step{Server: "SQL03", Identity: "svcB"},
			),
			spec: "SQL02;SQL03/svcB",
		},
		{
			name: "separator in hop name",
			chain: NewChain(
				Step{Server: "ODD;NAME", Identity: "sa"},
				Step{Server: "SQL04"},
			),
			spec: "[ODD;NAME]/sa;SQL04",
		},
		{
			name:  "slash in hop name",
			chain: NewChain(Step{Server: "DEV/SQL"}),
			spec:  "[DEV/SQL]",
		},
		{
			name:  "bracket in hop name",
			chain: NewChain(Step{Server: "AB]CD"}),
			spec:  "[AB]]CD]",
		},
		{
			name: "reserved characters in identity",
			chain: NewChain(
				Step{Server: "SQL02", Identity: "DOMAIN/svc;a"},
				Step{Server: "SQL03", Identity: "odd]login"},
			),
			spec: "SQL02/[DOMAIN/svc;a];SQL03/[odd]]login]",
		},
		{
			name:  "brackets around the whole name",
			chain: NewChain(Step{Server: "[SQL05]"}),
			spec:  "[[SQL05]]]",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.spec, tc.chain.Spec())
			parsed, err := ParseSpec(tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.chain.Steps(), parsed.Steps())
		})
	}
}

func TestParseSpecRejectsMalformed(t *testing.T) {
	for _, spec := range []string{"[unterminated", "[a]junk", "a;;b", ";a", "/id", "a/", "a/;b", "a/[x"} {
		_, err := ParseSpec(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestExtendDoesNotMutateReceiver(t *testing.T) {
	base := NewChain(Step{Server: "A"})
	ext := base.Extend(Step{Server: "B", Identity: "x"})

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, ext.Len())
	assert.Equal(t, []string{"A"}, base.Servers())
	assert.Equal(t, []string{"A", "B"}, ext.Servers())

	// Extending the base again must not clobber the first extension.
	other := base.Extend(Step{Server: "C"})
	assert.Equal(t, []string{"A", "B"}, ext.Servers())
	assert.Equal(t, []string{"A", "C"}, other.Servers())
}

func TestLast(t *testing.T) {
	assert.Equal(t, Step{}, Chain{}.Last())
	chain := NewChain(Step{Server: "A"}, Step{Server: "B", Identity: "x"})
	assert.Equal(t, Step{Server: "B", Identity: "x"}, chain.Last())
}

func TestHasPrefix(t *testing.T) {
	chain := NewChain(Step{Server: "A"}, Step{Server: "B", Identity: "x"})
	assert.True(t, chain.HasPrefix(Chain{}))
	assert.True(t, chain.HasPrefix(NewChain(Step{Server: "A"})))
	assert.True(t, chain.HasPrefix(chain))
	assert.False(t, chain.HasPrefix(NewChain(Step{Server: "B"})))
	// Same server, different identity: a different path.
	assert.False(t, chain.HasPrefix(NewChain(Step{Server: "A"}, Step{Server: "B"})))
	assert.False(t, NewChain(Step{Server: "A"}).HasPrefix(chain))
}
