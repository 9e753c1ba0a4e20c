// Package memory wires the record store, association graph, retrieval
// engine and consolidation engine into the surface collaborators use.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/engramdev/engram/internal/compress"
	"github.com/engramdev/engram/internal/consolidate"
	"github.com/engramdev/engram/internal/crypto"
	"github.com/engramdev/engram/internal/graph"
	"github.com/engramdev/engram/internal/model"
	"github.com/engramdev/engram/internal/retrieval"
	"github.com/engramdev/engram/internal/store"
)

// Config is the construction-time surface.
type Config struct {
	// EncryptionSecret enables at-rest encryption of Private and above
	// records. When empty, creating such records fails with a
	// ValidationError.
	EncryptionSecret []byte

	// MaxRecords / MaxBytes are the storage quota enforced by each
	// consolidation pass; MaxBytes also rejects single oversized writes
	// synchronously. 0 means unlimited.
	MaxRecords int
	MaxBytes   int64

	// ConsolidationInterval schedules the background pass. 0 disables the
	// loop; Consolidate can still be called manually (tests do exactly
	// that).
	ConsolidationInterval time.Duration

	// AutoCompress: when true, each consolidation pass compacts large,
	// old records; when false that step is skipped entirely.
	AutoCompress bool

	// Weights tunes retrieval ranking. Zero value uses
	// retrieval.DefaultWeights.
	Weights retrieval.Weights

	// Consolidation exposes the remaining consolidation tunables (decay
	// half-life and floor, batch size, similarity threshold, ...). The
	// Interval, AutoCompress, MaxRecords and MaxBytes fields above take
	// precedence over their counterparts here.
	Consolidation consolidate.Config

	// CacheBytes bounds the store's decoded-body read cache. 0 = default.
	CacheBytes int64

	// Summarizer overrides the lossy size-reduction fallback. Nil uses a
	// word-boundary truncator.
	Summarizer compress.Summarizer
}

// System is the assembled memory core.
type System struct {
	store        *store.Store
	graph        *graph.Graph
	retrieval    *retrieval.Engine
	consolidator *consolidate.Engine
	closeOnce    sync.Once
}

// New builds and starts a System. Callers must Shutdown when done.
func New(cfg Config) (*System, error) {
	var cipher *crypto.Cipher
	if len(cfg.EncryptionSecret) > 0 {
		var err error
		if cipher, err = crypto.New(cfg.EncryptionSecret); err != nil {
			return nil, err
		}
	}
	summarizer := cfg.Summarizer
	if summarizer == nil {
		summarizer = compress.TruncatingSummarizer{}
	}

	st, err := store.New(store.Config{
		Cipher:     cipher,
		MaxBytes:   cfg.MaxBytes,
		CacheBytes: cfg.CacheBytes,
		Summarizer: summarizer,
	})
	if err != nil {
		return nil, err
	}

	g := graph.New(st)
	// Deleting or evicting a record must never leave a dangling edge.
	st.SetCascade(func(id string) { g.CascadeDelete(id) })

	ccfg := cfg.Consolidation
	ccfg.Interval = cfg.ConsolidationInterval
	ccfg.AutoCompress = cfg.AutoCompress
	ccfg.MaxRecords = cfg.MaxRecords
	ccfg.MaxBytes = cfg.MaxBytes

	sys := &System{
		store:        st,
		graph:        g,
		retrieval:    retrieval.New(st, g, cfg.Weights),
		consolidator: consolidate.New(st, g, ccfg),
	}
	sys.consolidator.Start()
	return sys, nil
}

// Opts carries the optional fields shared by all creation calls.
type Opts struct {
	Source     string
	Privacy    model.PrivacyLevel
	Importance int     // 0 picks the default of 3
	Confidence float64 // 0 picks the default of 1.0 (asserted by the caller)
	Tags       []string
	Metadata   map[string]string
}

func (s *System) remember(ctx context.Context, kind model.Kind, payload model.Payload, content string, o Opts) (*model.Memory, error) {
	importance := o.Importance
	if importance == 0 {
		importance = 3
	}
	confidence := o.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	meta := make(map[string]string, len(o.Metadata)+1)
	for k, v := range o.Metadata {
		meta[k] = v
	}
	if len(o.Tags) > 0 {
		meta["tags"] = strings.Join(o.Tags, ",")
	}
	if len(meta) == 0 {
		meta = nil
	}
	return s.store.Create(ctx, store.CreateParams{
		Kind:       kind,
		Payload:    payload,
		Content:    content,
		Source:     o.Source,
		Privacy:    o.Privacy,
		Importance: importance,
		Confidence: confidence,
		Metadata:   meta,
	})
}

// RememberEpisodic stores an event memory.
func (s *System) RememberEpisodic(ctx context.Context, p model.EpisodicPayload, content string, o Opts) (*model.Memory, error) {
	return s.remember(ctx, model.KindEpisodic, &p, content, o)
}

// RememberSemantic stores a fact memory.
func (s *System) RememberSemantic(ctx context.Context, p model.SemanticPayload, content string, o Opts) (*model.Memory, error) {
	return s.remember(ctx, model.KindSemantic, &p, content, o)
}

// RememberProcedural stores a how-to memory.
func (s *System) RememberProcedural(ctx context.Context, p model.ProceduralPayload, content string, o Opts) (*model.Memory, error) {
	return s.remember(ctx, model.KindProcedural, &p, content, o)
}

// RememberEmotional stores an emotional-response memory.
func (s *System) RememberEmotional(ctx context.Context, p model.EmotionalPayload, content string, o Opts) (*model.Memory, error) {
	return s.remember(ctx, model.KindEmotional, &p, content, o)
}

// Get returns a memory by id.
func (s *System) Get(ctx context.Context, id string) (*model.Memory, error) {
	return s.store.Get(ctx, id)
}

// Update applies mutate under optimistic concurrency. expectedVersion 0
// skips the version check.
func (s *System) Update(ctx context.Context, id string, expectedVersion int, mutate func(*model.Memory) error) (*model.Memory, error) {
	return s.store.Update(ctx, id, expectedVersion, mutate)
}

// Forget deletes a memory and every edge touching it.
func (s *System) Forget(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Search answers a retrieval query.
func (s *System) Search(ctx context.Context, q retrieval.Query) (*retrieval.Result, error) {
	return s.retrieval.Search(ctx, q)
}

// Patterns returns cluster summaries for the pattern strategy.
func (s *System) Patterns(ctx context.Context, q retrieval.Query) ([]retrieval.Cluster, error) {
	return s.retrieval.Patterns(ctx, q)
}

// CreateAssociation upserts an edge between two memories.
func (s *System) CreateAssociation(sourceID, targetID string, typ model.AssociationType, strength float64) (*model.Association, error) {
	return s.graph.Link(sourceID, targetID, typ, strength)
}

// Neighbors returns the direct edges touching id.
func (s *System) Neighbors(id string, typ model.AssociationType) []model.Association {
	return s.graph.Neighbors(id, typ)
}

// GetAssociated returns the records reachable from id within maxDepth
// hops, in discovery order.
func (s *System) GetAssociated(ctx context.Context, id string, maxDepth int) ([]*model.Memory, error) {
	ids, err := s.graph.Traverse(id, maxDepth)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Memory, 0, len(ids))
	for _, rid := range ids {
		m, err := s.store.Peek(rid)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Stats combines store and graph statistics.
type Stats struct {
	store.Stats
	Associations int `json:"associations"`
}

// Stats recomputes current statistics.
func (s *System) Stats() Stats {
	return Stats{Stats: s.store.Stats(), Associations: s.graph.Count()}
}

// Export returns a plaintext snapshot of every record and edge. Protecting
// the exported data is the caller's concern; the persistence archive keeps
// private bodies sealed instead.
func (s *System) Export(ctx context.Context) *model.Snapshot {
	return &model.Snapshot{
		ExportedAt:   time.Now().UTC(),
		Records:      s.store.All(),
		Associations: s.graph.Edges(),
	}
}

// Import restores a snapshot, preserving ids, versions and timestamps.
// Records land before edges so every edge finds its endpoints.
func (s *System) Import(ctx context.Context, snap *model.Snapshot) error {
	if err := s.store.Restore(snap.Records); err != nil {
		return err
	}
	s.graph.Restore(snap.Associations)
	return nil
}

// Consolidate runs one consolidation pass synchronously.
func (s *System) Consolidate(ctx context.Context) error {
	return s.consolidator.Tick(ctx)
}

// EnforceQuota evicts down to the given bounds immediately.
func (s *System) EnforceQuota(ctx context.Context, maxRecords int, maxBytes int64) []string {
	return s.store.EnforceQuota(ctx, maxRecords, maxBytes)
}

// Subscribe registers for store events. Cancel with the returned func.
func (s *System) Subscribe(buffer int, kinds ...store.EventKind) (<-chan store.Event, func()) {
	return s.store.Events().Subscribe(buffer, kinds...)
}

// Shutdown stops the consolidation loop and releases resources. Safe to
// call more than once; returns only after the background pass has stopped.
func (s *System) Shutdown() {
	s.closeOnce.Do(func() {
		s.consolidator.Stop()
		s.store.Close()
	})
}
