package store

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/engramdev/engram/internal/model"
)

// Eviction weights combine low importance, low confidence and old age into
// a single score; the lowest-scoring records are evicted first. Exposed as
// one documented set rather than constants scattered through call sites.
var (
	EvictImportanceWeight = 0.4
	EvictConfidenceWeight = 0.3
	EvictRecencyWeight    = 0.3
	EvictRecencyHalfLife  = 7 * 24 * time.Hour
)

type evictCandidate struct {
	id        string
	createdAt time.Time
	size      int64
	score     float64
}

// evictionScore rates how worth keeping a record is, in [0,1]. The
// importance term prefers the decay-adjusted value written by consolidation
// when present.
func evictionScore(rec *record, now time.Time) float64 {
	imp := float64(rec.env.Importance) / 5
	if v, ok := rec.env.Metadata[MetaDecayed]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			imp = f
		}
	}
	last := rec.env.UpdatedAt
	if rec.env.AccessedAt.After(last) {
		last = rec.env.AccessedAt
	}
	age := now.Sub(last)
	recency := math.Exp2(-float64(age) / float64(EvictRecencyHalfLife))
	return EvictImportanceWeight*imp +
		EvictConfidenceWeight*rec.env.Confidence +
		EvictRecencyWeight*recency
}

// EnforceQuota evicts the lowest-scoring records until both bounds hold.
// A zero bound is unlimited. Ties break toward the oldest record. Returns
// the evicted ids; each eviction cascades edge removal like a delete.
func (s *Store) EnforceQuota(ctx context.Context, maxRecords int, maxBytes int64) []string {
	now := time.Now().UTC()
	var candidates []evictCandidate
	var totalBytes int64
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id, rec := range sh.records {
			candidates = append(candidates, evictCandidate{
				id:        id,
				createdAt: rec.env.CreatedAt,
				size:      rec.size,
				score:     evictionScore(rec, now),
			})
			totalBytes += rec.size
		}
		sh.mu.RUnlock()
	}

	count := len(candidates)
	overCount := maxRecords > 0 && count > maxRecords
	overBytes := maxBytes > 0 && totalBytes > maxBytes
	if !overCount && !overBytes {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].createdAt.Before(candidates[j].createdAt)
	})

	var evicted []string
	for _, c := range candidates {
		if (maxRecords <= 0 || count <= maxRecords) && (maxBytes <= 0 || totalBytes <= maxBytes) {
			break
		}
		sh := s.shardFor(c.id)
		sh.mu.Lock()
		rec, ok := sh.records[c.id]
		if !ok {
			sh.mu.Unlock()
			continue
		}
		delete(sh.records, c.id)
		sh.mu.Unlock()

		count--
		totalBytes -= c.size
		evicted = append(evicted, c.id)
		if s.cascade != nil {
			s.cascade(c.id)
		}
		s.events.publish(Event{Kind: EventEvicted, ID: c.id, RecordKind: rec.env.Kind, Version: rec.env.Version, At: now})
	}
	return evicted
}

// CompressRecord runs the record body through the compaction unit when it
// is at least minBytes. If gzip still leaves the body over minBytes and a
// summarizer is configured, the content is summarized as a lossy fallback
// and the version is bumped (the content genuinely changed). Returns
// whether anything was done.
func (s *Store) CompressRecord(ctx context.Context, id string, minBytes int) (bool, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()

	rec, ok := sh.records[id]
	if !ok {
		sh.mu.Unlock()
		return false, nil
	}
	if rec.compressed {
		sh.mu.Unlock()
		return false, nil
	}
	cur, err := s.materialize(rec)
	if err != nil {
		sh.mu.Unlock()
		return false, err
	}
	if int(rec.size) < minBytes {
		sh.mu.Unlock()
		return false, nil
	}

	next, err := s.encode(cur, true)
	if err != nil {
		sh.mu.Unlock()
		return false, err
	}
	if next.size >= rec.size {
		// Already-dense bodies can grow under gzip; keep the original.
		sh.mu.Unlock()
		return false, nil
	}
	sh.records[id] = next
	summarize := s.summary != nil && int(next.size) > minBytes
	sh.mu.Unlock()

	if !summarize {
		return true, nil
	}

	// Lossy fallback: summarization happens outside the shard lock since
	// the summarizer may be slow; the update path re-checks state.
	short, err := s.summary.Summarize(ctx, cur.Content, minBytes/2)
	if err != nil || short == cur.Content || short == "" {
		return true, err
	}
	_, err = s.Update(ctx, id, 0, func(m *model.Memory) error {
		m.Content = short
		if m.Metadata == nil {
			m.Metadata = make(map[string]string, 1)
		}
		m.Metadata[MetaSummarized] = "true"
		return nil
	})
	return true, err
}
