// Package store owns the authoritative record map: lifecycle, versioning,
// encryption-at-rest, quota enforcement, and change events.
package store

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/oklog/ulid/v2"

	"github.com/engramdev/engram/internal/compress"
	"github.com/engramdev/engram/internal/crypto"
	"github.com/engramdev/engram/internal/model"
)

const shardCount = 64

// Metadata keys maintained by the store and the consolidation engine.
const (
	MetaCompressed = "compressed"
	MetaSummarized = "summarized"
	MetaDecayed    = "decayed_importance"
	MetaDecayedAt  = "decayed_at"
)

// record is a stored memory: the envelope plus an encoded body. The body is
// the JSON of {content, payload}, gzip-compressed when the compressed flag
// is set, and sealed by the cipher for Private and above. Content and
// Payload on the envelope are always empty at rest.
type record struct {
	env        *model.Memory
	body       []byte
	compressed bool
	size       int64
}

type shard struct {
	mu      sync.RWMutex
	records map[string]*record
}

// Config controls store construction.
type Config struct {
	// Cipher encrypts bodies of Private/Confidential/Restricted records.
	// When nil, creating such records fails with a ValidationError.
	Cipher *crypto.Cipher

	// MaxBytes is the storage budget. A single record larger than this is
	// rejected at write time with a CapacityError. 0 means unlimited.
	MaxBytes int64

	// CacheBytes bounds the decoded-body read cache. 0 picks a default.
	CacheBytes int64

	// Summarizer is the lossy size-reduction fallback used by
	// CompressRecord when gzip alone is not enough. Nil disables it.
	Summarizer compress.Summarizer
}

// Store is a sharded in-memory record store. Mutation is serialized per
// shard, so writers to different records do not contend and a record's
// version can never be bumped concurrently.
type Store struct {
	shards  [shardCount]*shard
	cipher  *crypto.Cipher
	cache   *ristretto.Cache
	summary compress.Summarizer
	events  *Bus
	maxBody int64

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	// cascade is invoked after a record is removed (delete or eviction) so
	// the association graph can drop every edge touching it.
	cascade func(id string)
}

// New creates an empty store.
func New(cfg Config) (*Store, error) {
	cacheBytes := cfg.CacheBytes
	if cacheBytes <= 0 {
		cacheBytes = 32 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     cacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	s := &Store{
		cipher:  cfg.Cipher,
		cache:   cache,
		summary: cfg.Summarizer,
		events:  newBus(),
		maxBody: cfg.MaxBytes,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*record)}
	}
	return s, nil
}

// SetCascade registers the edge-cleanup hook. Must be called before any
// deletes; the facade wires it to the association graph.
func (s *Store) SetCascade(fn func(id string)) { s.cascade = fn }

// Events returns the store's notification bus.
func (s *Store) Events() *Bus { return s.events }

func (s *Store) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Store) shardFor(id string) *shard {
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return s.shards[h%shardCount]
}

// CreateParams holds parameters for storing a new memory.
type CreateParams struct {
	Kind       model.Kind
	Payload    model.Payload
	Content    string
	Source     string
	Privacy    model.PrivacyLevel
	Importance int
	Confidence float64
	Metadata   map[string]string
}

func (s *Store) validate(p CreateParams) error {
	if !p.Kind.IsValid() {
		return model.Validationf("kind", "unknown kind %q", p.Kind)
	}
	if p.Payload != nil && p.Payload.Kind() != p.Kind {
		return model.Validationf("payload", "payload shape is %s, record kind is %s", p.Payload.Kind(), p.Kind)
	}
	if p.Content == "" {
		return model.Validationf("content", "must not be empty")
	}
	if p.Importance < 1 || p.Importance > 5 {
		return model.Validationf("importance", "%d out of range [1,5]", p.Importance)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return model.Validationf("confidence", "%g out of range [0,1]", p.Confidence)
	}
	if !p.Privacy.IsValid() {
		return model.Validationf("privacy", "unknown level %d", int(p.Privacy))
	}
	if p.Privacy.RequiresEncryption() && s.cipher == nil {
		return model.Validationf("privacy", "%s requires an encryption secret", p.Privacy)
	}
	return nil
}

// Create stores a new memory and returns it with id, version 1 and
// timestamps assigned. Private and above bodies are sealed before they are
// held at rest.
func (s *Store) Create(ctx context.Context, p CreateParams) (*model.Memory, error) {
	if err := s.validate(p); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	m := &model.Memory{
		ID:         s.newID(),
		Kind:       p.Kind,
		Payload:    p.Payload,
		Content:    p.Content,
		CreatedAt:  now,
		UpdatedAt:  now,
		Source:     p.Source,
		Confidence: p.Confidence,
		Privacy:    p.Privacy,
		Importance: p.Importance,
		Version:    1,
	}
	if len(p.Metadata) > 0 {
		m.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			m.Metadata[k] = v
		}
	}

	rec, err := s.encode(m, false)
	if err != nil {
		return nil, err
	}
	if s.maxBody > 0 && rec.size > s.maxBody {
		return nil, &model.CapacityError{Bytes: rec.size, MaxBytes: s.maxBody}
	}

	sh := s.shardFor(m.ID)
	sh.mu.Lock()
	sh.records[m.ID] = rec
	sh.mu.Unlock()

	s.events.publish(Event{Kind: EventCreated, ID: m.ID, RecordKind: m.Kind, Version: 1, At: now})
	return m.Clone(), nil
}

// Get returns the memory with the given id, transparently decrypting and
// decompressing the body. Reads count as access for decay purposes.
func (s *Store) Get(ctx context.Context, id string) (*model.Memory, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	rec.env.AccessCount++
	rec.env.AccessedAt = time.Now().UTC()
	return s.materialize(rec)
}

// Peek is Get without access tracking, used by retrieval scans and
// consolidation so background reads do not register as caller interest.
func (s *Store) Peek(id string) (*model.Memory, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.records[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return s.materialize(rec)
}

// Has reports whether id exists without decoding the body.
func (s *Store) Has(id string) bool {
	sh := s.shardFor(id)
	sh.mu.RLock()
	_, ok := sh.records[id]
	sh.mu.RUnlock()
	return ok
}

// Update applies mutate to a copy of the record, validates the result, and
// commits it with a bumped version. When expectedVersion is non-zero and
// does not match the current version, the update fails with a
// VersionConflictError and nothing is changed. Kind, id and creation time
// are immutable; mutations to them are discarded.
func (s *Store) Update(ctx context.Context, id string, expectedVersion int, mutate func(*model.Memory) error) (*model.Memory, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if expectedVersion != 0 && expectedVersion != rec.env.Version {
		return nil, &model.VersionConflictError{ID: id, Expected: expectedVersion, Current: rec.env.Version}
	}

	cur, err := s.materialize(rec)
	if err != nil {
		return nil, err
	}
	if err := mutate(cur); err != nil {
		return nil, err
	}

	// Immutable fields win over whatever the mutator did.
	cur.ID = rec.env.ID
	cur.Kind = rec.env.Kind
	cur.CreatedAt = rec.env.CreatedAt
	cur.AccessCount = rec.env.AccessCount
	cur.AccessedAt = rec.env.AccessedAt
	cur.Associations = append([]string(nil), rec.env.Associations...)

	if err := s.validate(CreateParams{
		Kind: cur.Kind, Payload: cur.Payload, Content: cur.Content,
		Privacy: cur.Privacy, Importance: cur.Importance, Confidence: cur.Confidence,
	}); err != nil {
		return nil, err
	}

	cur.Version = rec.env.Version + 1
	cur.UpdatedAt = time.Now().UTC()

	next, err := s.encode(cur, false)
	if err != nil {
		return nil, err
	}
	if s.maxBody > 0 && next.size > s.maxBody {
		return nil, &model.CapacityError{Bytes: next.size, MaxBytes: s.maxBody}
	}
	sh.records[id] = next

	s.events.publish(Event{Kind: EventUpdated, ID: id, RecordKind: cur.Kind, Version: cur.Version, At: cur.UpdatedAt})
	return cur.Clone(), nil
}

// Delete removes the record and cascades edge removal through the
// registered hook. Unknown ids fail with ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	rec, ok := sh.records[id]
	if !ok {
		sh.mu.Unlock()
		return model.ErrNotFound
	}
	delete(sh.records, id)
	sh.mu.Unlock()

	if s.cascade != nil {
		s.cascade(id)
	}
	s.events.publish(Event{Kind: EventDeleted, ID: id, RecordKind: rec.env.Kind, Version: rec.env.Version, At: time.Now().UTC()})
	return nil
}

// CacheLink appends target to the record's denormalized association cache.
// The cache mirrors graph state rather than record content, so the version
// is not bumped.
func (s *Store) CacheLink(sourceID, targetID string) {
	sh := s.shardFor(sourceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[sourceID]
	if !ok {
		return
	}
	for _, t := range rec.env.Associations {
		if t == targetID {
			return
		}
	}
	rec.env.Associations = append(rec.env.Associations, targetID)
}

// DropLink removes target from the record's denormalized association cache.
func (s *Store) DropLink(sourceID, targetID string) {
	sh := s.shardFor(sourceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[sourceID]
	if !ok {
		return
	}
	for i, t := range rec.env.Associations {
		if t == targetID {
			rec.env.Associations = append(rec.env.Associations[:i], rec.env.Associations[i+1:]...)
			return
		}
	}
}

// SetDecayed writes the decay-adjusted importance into record metadata.
// This is consolidation bookkeeping, not caller content: the caller-set
// importance field and the version are untouched.
func (s *Store) SetDecayed(id string, adjusted float64, at time.Time) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[id]
	if !ok {
		return false
	}
	if rec.env.Metadata == nil {
		rec.env.Metadata = make(map[string]string, 2)
	}
	rec.env.Metadata[MetaDecayed] = strconv.FormatFloat(model.Clamp01(adjusted), 'f', 4, 64)
	rec.env.Metadata[MetaDecayedAt] = at.UTC().Format(time.RFC3339)
	return true
}

// All returns a decoded copy of every record. Shards are scanned one at a
// time so a long scan never holds the whole store.
func (s *Store) All() []*model.Memory {
	var out []*model.Memory
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rec := range sh.records {
			m, err := s.materialize(rec)
			if err != nil {
				continue
			}
			out = append(out, m)
		}
		sh.mu.RUnlock()
	}
	return out
}

// IDs returns every record id.
func (s *Store) IDs() []string {
	var out []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id := range sh.records {
			out = append(out, id)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the record count.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.records)
		sh.mu.RUnlock()
	}
	return n
}

// Restore inserts records preserving their ids, versions and timestamps,
// re-sealing private bodies with the current cipher. Existing records with
// the same id are replaced. Used by snapshot import.
func (s *Store) Restore(records []*model.Memory) error {
	for _, m := range records {
		if err := s.validate(CreateParams{
			Kind: m.Kind, Payload: m.Payload, Content: m.Content,
			Privacy: m.Privacy, Importance: m.Importance, Confidence: m.Confidence,
		}); err != nil {
			return err
		}
	}
	for _, m := range records {
		rec, err := s.encode(m.Clone(), false)
		if err != nil {
			return err
		}
		sh := s.shardFor(m.ID)
		sh.mu.Lock()
		sh.records[m.ID] = rec
		sh.mu.Unlock()
	}
	return nil
}

// Close releases the read cache.
func (s *Store) Close() {
	s.cache.Close()
}
