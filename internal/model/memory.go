// Package model defines the core memory data types.
package model

import "time"

// Kind categorizes what a memory holds and fixes the shape of its payload.
type Kind string

const (
	KindEpisodic   Kind = "episodic"   // something that happened
	KindSemantic   Kind = "semantic"   // a fact or relation
	KindProcedural Kind = "procedural" // how to do something
	KindEmotional  Kind = "emotional"  // an emotional response
)

// Kinds lists every valid kind.
var Kinds = []Kind{KindEpisodic, KindSemantic, KindProcedural, KindEmotional}

// IsValid reports whether the kind is recognized.
func (k Kind) IsValid() bool {
	switch k {
	case KindEpisodic, KindSemantic, KindProcedural, KindEmotional:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// PrivacyLevel is an ordered classification. Private and above are stored
// encrypted at rest.
type PrivacyLevel int

const (
	PrivacyPublic PrivacyLevel = iota
	PrivacyPrivate
	PrivacyConfidential
	PrivacyRestricted
)

var privacyNames = map[PrivacyLevel]string{
	PrivacyPublic:       "public",
	PrivacyPrivate:      "private",
	PrivacyConfidential: "confidential",
	PrivacyRestricted:   "restricted",
}

func (p PrivacyLevel) String() string {
	if s, ok := privacyNames[p]; ok {
		return s
	}
	return "unknown"
}

// IsValid reports whether the level is recognized.
func (p PrivacyLevel) IsValid() bool {
	_, ok := privacyNames[p]
	return ok
}

// RequiresEncryption reports whether payload and content must be encrypted
// at rest for this level.
func (p PrivacyLevel) RequiresEncryption() bool { return p >= PrivacyPrivate }

// ParsePrivacy converts a name like "confidential" to its level.
func ParsePrivacy(s string) (PrivacyLevel, bool) {
	for level, name := range privacyNames {
		if name == s {
			return level, true
		}
	}
	return PrivacyPublic, false
}

// AssociationType classifies an edge between two memories.
type AssociationType string

const (
	AssocCausal     AssociationType = "causal"
	AssocTemporal   AssociationType = "temporal"
	AssocSemantic   AssociationType = "semantic"
	AssocEmotional  AssociationType = "emotional"
	AssocContextual AssociationType = "contextual"
)

// IsValid reports whether the association type is recognized.
func (t AssociationType) IsValid() bool {
	switch t {
	case AssocCausal, AssocTemporal, AssocSemantic, AssocEmotional, AssocContextual:
		return true
	}
	return false
}

func (t AssociationType) String() string { return string(t) }

// Association is a weighted, typed, directed edge between two memories.
// Identity is (Source, Target, Type); re-linking the same identity updates
// Strength instead of duplicating the edge.
type Association struct {
	Source    string          `json:"source"`
	Target    string          `json:"target"`
	Type      AssociationType `json:"type"`
	Strength  float64         `json:"strength"`
	CreatedAt time.Time       `json:"created_at"`
}

// Memory is a single stored unit. The envelope is fixed across kinds; the
// payload is a closed sum type switched on Kind.
type Memory struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Payload    Payload           `json:"-"`
	Content    string            `json:"content"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Source     string            `json:"source,omitempty"`
	Confidence float64           `json:"confidence"`
	Privacy    PrivacyLevel      `json:"privacy"`
	Importance int               `json:"importance"` // 1..5, caller-set
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Associations is a denormalized cache of outgoing edge targets.
	// Authoritative edge data lives in the association graph.
	Associations []string `json:"associations,omitempty"`

	Version     int       `json:"version"`
	AccessCount int       `json:"access_count"`
	AccessedAt  time.Time `json:"accessed_at"`
}

// Clone returns a deep copy. Mutating the copy never affects the original.
func (m *Memory) Clone() *Memory {
	out := *m
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	if m.Associations != nil {
		out.Associations = append([]string(nil), m.Associations...)
	}
	if m.Payload != nil {
		out.Payload = m.Payload.clone()
	}
	return &out
}

// Snapshot is a full serialized copy of the store and graph, used by
// export/import and the persistence archive. Bodies are plaintext;
// protecting an exported snapshot is the caller's concern.
type Snapshot struct {
	ExportedAt   time.Time     `json:"exported_at"`
	Records      []*Memory     `json:"records"`
	Associations []Association `json:"associations"`
}

// Clamp01 clamps v into [0,1]. Scores are never allowed to leave that
// range, so every computation that could drift runs through here.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
