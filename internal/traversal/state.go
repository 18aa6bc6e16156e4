package traversal

import (
	"crypto/sha256"
	"encoding/hex"
)

// Identity is the answer to "who am I" at a hop: the server-level login, the
// database user it maps to, and whether the login holds sysadmin.
type Identity struct {
	SystemLogin string
	MappedUser  string
	IsElevated  bool
}

// ServerState fingerprints one traversal position: which hop the session is
// logically inside, as whom, and which login was impersonated to get there.
// Two steps that produce the same hash are the same node for cycle detection.
// The server name alone is deliberately not the key: the same server reached
// under a different identity has different onward reach and must be explored
// again.
type ServerState struct {
	TargetHop        string
	SystemLogin      string
	MappedUser       string
	IsElevated       bool
	ImpersonatedUser string
}

// Hash returns a deterministic digest of the state fields.
func (s ServerState) Hash() string {
	h := sha256.New()
	for _, field := range []string{s.TargetHop, s.SystemLogin, s.MappedUser, s.ImpersonatedUser} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	if s.IsElevated {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
