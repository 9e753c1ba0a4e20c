package model

import (
	"encoding/json"
	"fmt"
)

// Payload is the kind-specific part of a memory. The set of implementations
// is closed: exactly one per Kind, fixed at creation time.
type Payload interface {
	Kind() Kind
	clone() Payload
}

// EpisodicPayload describes an event that happened.
type EpisodicPayload struct {
	Event        string   `json:"event"`
	Participants []string `json:"participants,omitempty"`
	Location     string   `json:"location,omitempty"`
}

func (p *EpisodicPayload) Kind() Kind { return KindEpisodic }

func (p *EpisodicPayload) clone() Payload {
	out := *p
	out.Participants = append([]string(nil), p.Participants...)
	return &out
}

// SemanticPayload holds a subject-predicate-object fact.
type SemanticPayload struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	Category  string `json:"category,omitempty"`
}

func (p *SemanticPayload) Kind() Kind { return KindSemantic }

func (p *SemanticPayload) clone() Payload {
	out := *p
	return &out
}

// ProceduralPayload holds ordered steps and the conditions under which they
// apply.
type ProceduralPayload struct {
	Steps      []string `json:"steps"`
	Conditions []string `json:"conditions,omitempty"`
}

func (p *ProceduralPayload) Kind() Kind { return KindProcedural }

func (p *ProceduralPayload) clone() Payload {
	out := *p
	out.Steps = append([]string(nil), p.Steps...)
	out.Conditions = append([]string(nil), p.Conditions...)
	return &out
}

// EmotionalPayload records an emotional response and its trigger.
type EmotionalPayload struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
	Trigger   string `json:"trigger,omitempty"`
	Response  string `json:"response,omitempty"`
}

func (p *EmotionalPayload) Kind() Kind { return KindEmotional }

func (p *EmotionalPayload) clone() Payload {
	out := *p
	return &out
}

// ClonePayload returns a deep copy of p, or nil for nil.
func ClonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	return p.clone()
}

// MarshalPayload encodes a payload as JSON.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p)
}

// UnmarshalPayload decodes payload JSON into the concrete type for kind.
func UnmarshalPayload(kind Kind, data []byte) (Payload, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var p Payload
	switch kind {
	case KindEpisodic:
		p = &EpisodicPayload{}
	case KindSemantic:
		p = &SemanticPayload{}
	case KindProcedural:
		p = &ProceduralPayload{}
	case KindEmotional:
		p = &EmotionalPayload{}
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// memoryWire is the JSON form of Memory, carrying the payload as a raw
// kind-tagged blob.
type memoryWire struct {
	ID           string            `json:"id"`
	Kind         Kind              `json:"kind"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	Content      string            `json:"content"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
	Source       string            `json:"source,omitempty"`
	Confidence   float64           `json:"confidence"`
	Privacy      string            `json:"privacy"`
	Importance   int               `json:"importance"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Associations []string          `json:"associations,omitempty"`
	Version      int               `json:"version"`
	AccessCount  int               `json:"access_count"`
	AccessedAt   string            `json:"accessed_at,omitempty"`
}

// MarshalJSON encodes the memory with its payload inline and privacy as a
// name rather than an ordinal.
func (m *Memory) MarshalJSON() ([]byte, error) {
	raw, err := MarshalPayload(m.Payload)
	if err != nil {
		return nil, err
	}
	w := memoryWire{
		ID:           m.ID,
		Kind:         m.Kind,
		Payload:      raw,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt.Format(timeLayout),
		UpdatedAt:    m.UpdatedAt.Format(timeLayout),
		Source:       m.Source,
		Confidence:   m.Confidence,
		Privacy:      m.Privacy.String(),
		Importance:   m.Importance,
		Metadata:     m.Metadata,
		Associations: m.Associations,
		Version:      m.Version,
		AccessCount:  m.AccessCount,
	}
	if !m.AccessedAt.IsZero() {
		w.AccessedAt = m.AccessedAt.Format(timeLayout)
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Memory) UnmarshalJSON(data []byte) error {
	var w memoryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := UnmarshalPayload(w.Kind, w.Payload)
	if err != nil {
		return err
	}
	privacy, ok := ParsePrivacy(w.Privacy)
	if !ok {
		return fmt.Errorf("unknown privacy level %q", w.Privacy)
	}
	m.ID = w.ID
	m.Kind = w.Kind
	m.Payload = payload
	m.Content = w.Content
	m.Source = w.Source
	m.Confidence = w.Confidence
	m.Privacy = privacy
	m.Importance = w.Importance
	m.Metadata = w.Metadata
	m.Associations = w.Associations
	m.Version = w.Version
	m.AccessCount = w.AccessCount
	if m.CreatedAt, err = parseTime(w.CreatedAt); err != nil {
		return fmt.Errorf("created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(w.UpdatedAt); err != nil {
		return fmt.Errorf("updated_at: %w", err)
	}
	if w.AccessedAt != "" {
		if m.AccessedAt, err = parseTime(w.AccessedAt); err != nil {
			return fmt.Errorf("accessed_at: %w", err)
		}
	}
	return nil
}
