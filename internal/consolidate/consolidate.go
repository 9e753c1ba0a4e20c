// Package consolidate implements the periodic background pass: importance
// decay, auto-compaction, association inference, and quota enforcement.
package consolidate

import (
	"context"
	"errors"
	"log"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/engramdev/engram/internal/graph"
	"github.com/engramdev/engram/internal/model"
	"github.com/engramdev/engram/internal/store"
)

// Config tunes the consolidation engine. The zero value is usable; every
// zero field falls back to the stated default.
type Config struct {
	// Interval between automatic passes. 0 disables the background loop
	// entirely; Tick can still be called manually.
	Interval time.Duration

	// BatchSize bounds how many records one batch processes before the
	// pass yields to foreground work. Default 100.
	BatchSize int

	// DecayHalfLife is the time after which an untouched record's
	// decay-adjusted importance halves. Default 7 days.
	DecayHalfLife time.Duration

	// DecayFloor is the minimum decay-adjusted importance; memories never
	// fully vanish from eviction scoring on age alone. Default 0.1.
	DecayFloor float64

	// AutoCompress: when true, each pass runs step 2 (compaction of large,
	// old records); when false, step 2 is skipped.
	AutoCompress bool

	// CompressMinBytes is the encoded size at which a record becomes a
	// compaction candidate. Default 4096.
	CompressMinBytes int

	// CompressMinAge keeps freshly written records out of compaction.
	// Default 1 hour.
	CompressMinAge time.Duration

	// SimilarityThreshold is the minimum keyword-overlap similarity that
	// produces an inferred association. Default 0.35.
	SimilarityThreshold float64

	// InferenceWindow limits association inference to records created
	// within this window, compared against the whole store. Default 24h.
	InferenceWindow time.Duration

	// MaxRecords / MaxBytes are the quota handed to EnforceQuota at the
	// end of each pass. 0 means unlimited.
	MaxRecords int
	MaxBytes   int64
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.DecayHalfLife <= 0 {
		c.DecayHalfLife = 7 * 24 * time.Hour
	}
	if c.DecayFloor <= 0 {
		c.DecayFloor = 0.1
	}
	if c.CompressMinBytes <= 0 {
		c.CompressMinBytes = 4096
	}
	if c.CompressMinAge <= 0 {
		c.CompressMinAge = time.Hour
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.35
	}
	if c.InferenceWindow <= 0 {
		c.InferenceWindow = 24 * time.Hour
	}
	return c
}

// Engine runs consolidation passes against a store and graph. It never
// blocks foreground operations for longer than one batch.
type Engine struct {
	store  *store.Store
	graph  *graph.Graph
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine. Start launches the background loop; tests call
// Tick directly for deterministic passes.
func New(s *store.Store, g *graph.Graph, cfg Config) *Engine {
	return &Engine{store: s, graph: g, cfg: cfg.withDefaults()}
}

// Start launches the periodic loop. No-op when Interval is 0.
func (e *Engine) Start() {
	if e.cfg.Interval <= 0 || e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("[consolidate] pass failed: %v", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight pass to finish its
// current batch. Safe to call more than once.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
}

// Tick runs one full consolidation pass. Records are processed in bounded
// batches with a yield in between, and the pass checks for cancellation
// between batches, never mid-record. A failure on one record is logged and
// skipped; it never aborts the pass.
func (e *Engine) Tick(ctx context.Context) error {
	now := time.Now().UTC()
	ids := e.store.IDs()
	sort.Strings(ids) // ULIDs: chronological processing order

	// The inference corpus is snapshotted once per pass; records created
	// mid-pass are picked up next tick.
	corpus := e.store.All()
	tokens := make(map[string]map[string]bool, len(corpus))
	for _, m := range corpus {
		tokens[m.ID] = recordTokens(m)
	}
	cutoff := now.Add(-e.cfg.InferenceWindow)

	for start := 0; start < len(ids); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + e.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			e.consolidateRecord(ctx, id, now, cutoff, corpus, tokens)
		}
		runtime.Gosched()
	}

	if evicted := e.store.EnforceQuota(ctx, e.cfg.MaxRecords, e.cfg.MaxBytes); len(evicted) > 0 {
		log.Printf("[consolidate] quota evicted %d records", len(evicted))
	}
	return nil
}

// consolidateRecord applies the per-record steps. Each step commits
// atomically through the store or not at all.
func (e *Engine) consolidateRecord(ctx context.Context, id string, now, cutoff time.Time, corpus []*model.Memory, tokens map[string]map[string]bool) {
	m, err := e.store.Peek(id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			log.Printf("[consolidate] read %s: %v", id, err)
		}
		return
	}

	// Step 1: decay-adjusted importance into metadata.
	e.store.SetDecayed(id, e.decayed(m, now), now)

	// Step 2: compaction of old, large records.
	if e.cfg.AutoCompress && now.Sub(m.CreatedAt) >= e.cfg.CompressMinAge {
		if _, err := e.store.CompressRecord(ctx, id, e.cfg.CompressMinBytes); err != nil {
			log.Printf("[consolidate] compress %s: %v", id, err)
		}
	}

	// Step 3: association inference for recently created records.
	if m.CreatedAt.After(cutoff) {
		e.infer(m, corpus, tokens)
	}
}

// decayed computes the decay-adjusted importance in [DecayFloor, 1]: the
// caller-set importance scaled by an exponential in the time since the
// record was last updated or accessed.
func (e *Engine) decayed(m *model.Memory, now time.Time) float64 {
	last := m.UpdatedAt
	if m.AccessedAt.After(last) {
		last = m.AccessedAt
	}
	age := now.Sub(last)
	if age < 0 {
		age = 0
	}
	v := (float64(m.Importance) / 5) * math.Exp2(-float64(age)/float64(e.cfg.DecayHalfLife))
	if v < e.cfg.DecayFloor {
		v = e.cfg.DecayFloor
	}
	return model.Clamp01(v)
}

// infer folds keyword/entity overlap between m and the rest of the corpus
// into the graph. Similarity becomes edge strength; the graph's upsert rule
// keeps repeated passes from duplicating edges.
func (e *Engine) infer(m *model.Memory, corpus []*model.Memory, tokens map[string]map[string]bool) {
	mine := tokens[m.ID]
	if len(mine) == 0 {
		return
	}
	for _, other := range corpus {
		if other.ID == m.ID {
			continue
		}
		sim := jaccard(mine, tokens[other.ID])
		if sim < e.cfg.SimilarityThreshold {
			continue
		}
		typ := model.AssocContextual
		if m.Kind == model.KindSemantic && other.Kind == model.KindSemantic {
			typ = model.AssocSemantic
		}
		if _, err := e.graph.Link(m.ID, other.ID, typ, model.Clamp01(sim)); err != nil {
			log.Printf("[consolidate] link %s -> %s: %v", m.ID, other.ID, err)
		}
	}
}
