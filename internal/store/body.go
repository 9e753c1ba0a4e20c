package store

import (
	"encoding/json"
	"fmt"

	"github.com/engramdev/engram/internal/compress"
	"github.com/engramdev/engram/internal/model"
)

// bodyWire is what actually sits at rest: the human-readable content plus
// the kind-specific payload. Everything else lives on the envelope.
type bodyWire struct {
	Content string          `json:"content"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// cachedBody is the decoded form held in the read cache.
type cachedBody struct {
	content string
	payload model.Payload
}

// encode turns a fully materialized memory into a record. The envelope
// keeps no plaintext content or payload; both move into the encoded body,
// compressed when asked and sealed when the privacy level requires it.
func (s *Store) encode(m *model.Memory, compressed bool) (*record, error) {
	raw, err := model.MarshalPayload(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	body, err := json.Marshal(bodyWire{Content: m.Content, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if compressed {
		if body, err = compress.Deflate(body); err != nil {
			return nil, err
		}
	}
	if m.Privacy.RequiresEncryption() {
		if body, err = s.cipher.Seal(body); err != nil {
			return nil, err
		}
	}

	env := m.Clone()
	env.Content = ""
	env.Payload = nil
	if compressed {
		if env.Metadata == nil {
			env.Metadata = make(map[string]string, 1)
		}
		env.Metadata[MetaCompressed] = "true"
	} else if env.Metadata != nil {
		delete(env.Metadata, MetaCompressed)
	}

	return &record{
		env:        env,
		body:       body,
		compressed: compressed,
		size:       int64(len(body)) + envelopeOverhead(env),
	}, nil
}

// materialize decodes a record back into a full memory. The decoded body is
// cached by (id, version); compression is lossless so a pre-compaction
// cache entry stays valid.
func (s *Store) materialize(rec *record) (*model.Memory, error) {
	m := rec.env.Clone()
	key := fmt.Sprintf("%s@%d", rec.env.ID, rec.env.Version)
	if v, ok := s.cache.Get(key); ok {
		if cb, ok := v.(*cachedBody); ok {
			m.Content = cb.content
			m.Payload = model.ClonePayload(cb.payload)
			return m, nil
		}
	}

	body := rec.body
	var err error
	if rec.env.Privacy.RequiresEncryption() {
		if s.cipher == nil {
			return nil, &model.IntegrityError{Op: "decrypt", Err: fmt.Errorf("no encryption secret configured")}
		}
		if body, err = s.cipher.Open(body); err != nil {
			return nil, err
		}
	}
	if rec.compressed {
		if body, err = compress.Inflate(body); err != nil {
			return nil, err
		}
	}

	var w bodyWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	payload, err := model.UnmarshalPayload(rec.env.Kind, w.Payload)
	if err != nil {
		return nil, err
	}

	m.Content = w.Content
	m.Payload = payload
	s.cache.Set(key, &cachedBody{content: w.Content, payload: model.ClonePayload(payload)}, int64(len(body)))
	return m, nil
}

// envelopeOverhead approximates the in-memory cost of the envelope so the
// byte quota reflects more than just body size.
func envelopeOverhead(m *model.Memory) int64 {
	n := int64(128)
	n += int64(len(m.ID) + len(m.Source))
	for k, v := range m.Metadata {
		n += int64(len(k) + len(v))
	}
	for _, a := range m.Associations {
		n += int64(len(a))
	}
	return n
}
