package traversal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateHashDeterministic(t *testing.T) {
	a := ServerState{TargetHop: "SQL02", SystemLogin: "svcA", MappedUser: "dbo"}
	b := ServerState{TargetHop: "SQL02", SystemLogin: "svcA", MappedUser: "dbo"}
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 64)
}

func TestStateHashDistinguishesIdentity(t *testing.T) {
	base := ServerState{TargetHop: "SQL02", SystemLogin: "svcA", MappedUser: "dbo"}

	// Same server under a different login, user, privilege level, or
	// impersonation is a different traversal state.
	variants := []ServerState{
		{TargetHop: "SQL03", SystemLogin: "svcA", MappedUser: "dbo"},
		{TargetHop: "SQL02", SystemLogin: "svcB", MappedUser: "dbo"},
		{TargetHop: "SQL02", SystemLogin: "svcA", MappedUser: "guest"},
		{TargetHop: "SQL02", SystemLogin: "svcA", MappedUser: "dbo", IsElevated: true},
		{TargetHop: "SQL02", SystemLogin: "svcA", MappedUser: "dbo", ImpersonatedUser: "svcA"},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.Hash(), v.Hash(), "%+v", v)
	}
}

func TestStateHashFieldBoundaries(t *testing.T) {
	// Concatenation across field boundaries must not produce collisions.
	a := ServerState{TargetHop: "AB", SystemLogin: "C"}
	b := ServerState{TargetHop: "A", SystemLogin: "BC"}
	assert.NotEqual(t, a.Hash(), b.Hash())
}
