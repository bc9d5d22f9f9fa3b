package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Permissions is the read/write scope attached to a logical artifact name.
// The zero value inherits the previous version's scope on store, and means
// owner-only writes with unrestricted reads on the first version.
type Permissions struct {
	// ReadCaps lists the capability tags allowed to retrieve content.
	// Empty means any agent may read.
	ReadCaps []string `json:"readCaps,omitempty"`

	// Writers lists agent ids allowed to store new versions in addition
	// to the owner. Empty means owner-only.
	Writers []string `json:"writers,omitempty"`
}

// IsZero reports whether no scope was supplied.
func (p Permissions) IsZero() bool {
	return len(p.ReadCaps) == 0 && len(p.Writers) == 0
}

// Clone returns a deep copy so stored scopes cannot be mutated through the
// caller's slices.
func (p Permissions) Clone() Permissions {
	out := Permissions{}
	if len(p.ReadCaps) > 0 {
		out.ReadCaps = append([]string(nil), p.ReadCaps...)
	}
	if len(p.Writers) > 0 {
		out.Writers = append([]string(nil), p.Writers...)
	}
	return out
}

// AllowsWrite reports whether agentID may append a version under this scope.
func (p Permissions) AllowsWrite(owner, agentID string) bool {
	if agentID == owner {
		return true
	}
	for _, w := range p.Writers {
		if w == agentID {
			return true
		}
	}
	return false
}

// AllowsRead reports whether an agent holding caps may retrieve content.
func (p Permissions) AllowsRead(owner, agentID string, caps []string) bool {
	if len(p.ReadCaps) == 0 || agentID == owner {
		return true
	}
	for _, want := range p.ReadCaps {
		for _, have := range caps {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Meta describes one stored version without its content. Owner is the agent
// that created the logical name at version 1; it is carried unchanged onto
// every later version so the permission anchor never drifts.
type Meta struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Version     int         `json:"version"`
	Owner       string      `json:"owner"`
	Checksum    string      `json:"checksum"`
	SizeBytes   int         `json:"sizeBytes"`
	CreatedAt   time.Time   `json:"createdAt"`
	Permissions Permissions `json:"permissions"`
}

// Clone returns a deep copy of the metadata.
func (m Meta) Clone() Meta {
	out := m
	out.Permissions = m.Permissions.Clone()
	return out
}

// Artifact couples version metadata with decoded content. Type selects the
// content handler used to encode Content for storage.
type Artifact struct {
	Meta
	Content any `json:"content"`
}

// Ref is the portable handle to one stored version, carried by completed
// tasks and compared for completion idempotency.
type Ref struct {
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Checksum string `json:"checksum"`
}

// IsZero reports whether the ref points at nothing.
func (r Ref) IsZero() bool {
	return r.Name == "" && r.Version == 0
}

// Checksum returns the hex sha256 digest of encoded content. It is computed
// at store time and verified on every retrieval.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
