// Package retrieval answers structured queries over the record store and
// association graph: filtering, multi-factor ranking, and pagination.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/engramdev/engram/internal/graph"
	"github.com/engramdev/engram/internal/model"
	"github.com/engramdev/engram/internal/store"
)

// Query is the per-call value object. Every populated filter narrows the
// result set; filters always combine as a conjunction. A SeedID switches to
// association-based retrieval: the candidate set becomes the traversal
// result and the remaining filters narrow it further.
type Query struct {
	Kinds    []model.Kind // empty = all kinds
	Keywords []string     // matched case-insensitively against content
	MatchAny bool         // false = every keyword must match (AND), true = any

	Start time.Time // inclusive; zero = open
	End   time.Time // inclusive; zero = open

	Entities []string // matched against payload entities (participants, subject, ...)
	Context  []string // matched against source and metadata values
	Emotions []string // primary emotions; implies kind == emotional

	MinImportance int // 0 = no floor

	SeedID string // association-based retrieval seed
	Depth  int    // traversal depth for SeedID; <=0 means 1

	Limit  int // page size; <=0 picks DefaultLimit
	Offset int
}

// DefaultLimit is the page size when the query does not set one.
const DefaultLimit = 20

// Result is a page of records plus pre-pagination count and timing.
type Result struct {
	Records       []*model.Memory `json:"records"`
	TotalCount    int             `json:"total_count"`
	ExecutionTime time.Duration   `json:"execution_time"`
}

// Weights configures the multi-factor ranking score:
//
//	score = Keyword*matchRatio + Recency*exp2(-age/RecencyHalfLife)
//	      + Importance*(importance/10) + Confidence*confidence
//
// One documented set; callers override at engine construction, never at
// individual call sites.
type Weights struct {
	Keyword         float64
	Recency         float64
	Importance      float64
	Confidence      float64
	RecencyHalfLife time.Duration
}

// DefaultWeights mirror the composite relevance scoring the rest of the
// system uses: keyword match dominates, the remaining factors share the
// rest evenly.
var DefaultWeights = Weights{
	Keyword:         0.4,
	Recency:         0.2,
	Importance:      0.2,
	Confidence:      0.2,
	RecencyHalfLife: 7 * 24 * time.Hour,
}

// Engine executes queries. It owns no durable state: everything it needs
// is rebuilt from the store and graph on every call.
type Engine struct {
	store   *store.Store
	graph   *graph.Graph
	weights Weights
}

// New creates an engine. Zero-valued weights fall back to DefaultWeights.
func New(s *store.Store, g *graph.Graph, w Weights) *Engine {
	if w == (Weights{}) {
		w = DefaultWeights
	}
	if w.RecencyHalfLife <= 0 {
		w.RecencyHalfLife = DefaultWeights.RecencyHalfLife
	}
	return &Engine{store: s, graph: g, weights: w}
}

// Search runs the query and returns one page of ranked results. Retrieval
// never mutates records. An empty query matches everything, subject to
// pagination.
func (e *Engine) Search(ctx context.Context, q Query) (*Result, error) {
	started := time.Now()

	candidates, err := e.candidates(q)
	if err != nil {
		return nil, err
	}

	var matched []*model.Memory
	for _, m := range candidates {
		if e.matches(m, q) {
			matched = append(matched, m)
		}
	}

	e.rank(matched, q)

	total := len(matched)
	page := paginate(matched, q.Limit, q.Offset)

	return &Result{
		Records:       page,
		TotalCount:    total,
		ExecutionTime: time.Since(started),
	}, nil
}

// candidates builds the initial record set: a graph traversal when a seed
// is given, otherwise the whole store.
func (e *Engine) candidates(q Query) ([]*model.Memory, error) {
	if q.SeedID == "" {
		return e.store.All(), nil
	}
	depth := q.Depth
	if depth <= 0 {
		depth = 1
	}
	ids, err := e.graph.Traverse(q.SeedID, depth)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Memory, 0, len(ids))
	for _, id := range ids {
		m, err := e.store.Peek(id)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (e *Engine) matches(m *model.Memory, q Query) bool {
	if len(q.Kinds) > 0 && !containsKind(q.Kinds, m.Kind) {
		return false
	}
	if !q.Start.IsZero() && m.CreatedAt.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && m.CreatedAt.After(q.End) {
		return false
	}
	if q.MinImportance > 0 && m.Importance < q.MinImportance {
		return false
	}
	if len(q.Keywords) > 0 {
		hits := keywordHits(m.Content, q.Keywords)
		if q.MatchAny {
			if hits == 0 {
				return false
			}
		} else if hits < len(q.Keywords) {
			return false
		}
	}
	if len(q.Emotions) > 0 && !emotionMatch(m, q.Emotions) {
		return false
	}
	if len(q.Entities) > 0 && !overlaps(recordEntities(m), q.Entities) {
		return false
	}
	if len(q.Context) > 0 && !overlaps(recordContext(m), q.Context) {
		return false
	}
	return true
}

// rank orders matched records. Importance-only queries sort by importance
// then confidence; everything else uses the weighted composite score with
// more-recent creation breaking ties.
func (e *Engine) rank(records []*model.Memory, q Query) {
	if importanceOnly(q) {
		sort.SliceStable(records, func(i, j int) bool {
			if records[i].Importance != records[j].Importance {
				return records[i].Importance > records[j].Importance
			}
			return records[i].Confidence > records[j].Confidence
		})
		return
	}

	now := time.Now()
	scores := make(map[string]float64, len(records))
	for _, m := range records {
		scores[m.ID] = e.score(m, q, now)
	}
	sort.SliceStable(records, func(i, j int) bool {
		si, sj := scores[records[i].ID], scores[records[j].ID]
		if si != sj {
			return si > sj
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

// score computes the composite relevance of one record for the query.
func (e *Engine) score(m *model.Memory, q Query, now time.Time) float64 {
	ratio := 0.0
	if len(q.Keywords) > 0 {
		ratio = float64(keywordHits(m.Content, q.Keywords)) / float64(len(q.Keywords))
	}
	age := now.Sub(m.CreatedAt)
	recency := math.Exp2(-float64(age) / float64(e.weights.RecencyHalfLife))
	s := e.weights.Keyword*ratio +
		e.weights.Recency*recency +
		e.weights.Importance*(float64(m.Importance)/10) +
		e.weights.Confidence*m.Confidence
	return model.Clamp01(s)
}

func importanceOnly(q Query) bool {
	return q.MinImportance > 0 &&
		len(q.Keywords) == 0 && len(q.Entities) == 0 && len(q.Context) == 0 &&
		len(q.Emotions) == 0 && q.Start.IsZero() && q.End.IsZero() && q.SeedID == ""
}

func paginate(records []*model.Memory, limit, offset int) []*model.Memory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}

// keywordHits counts how many keywords appear in content, matching either
// as a whole token or as a case-insensitive substring.
func keywordHits(content string, keywords []string) int {
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	return hits
}

func emotionMatch(m *model.Memory, emotions []string) bool {
	if m.Kind != model.KindEmotional {
		return false
	}
	p, ok := m.Payload.(*model.EmotionalPayload)
	if !ok {
		return false
	}
	for _, e := range emotions {
		if strings.EqualFold(e, p.Primary) {
			return true
		}
	}
	return false
}

// recordEntities extracts the names a record is about, per payload shape.
func recordEntities(m *model.Memory) []string {
	var out []string
	switch p := m.Payload.(type) {
	case *model.EpisodicPayload:
		out = append(out, p.Participants...)
		if p.Location != "" {
			out = append(out, p.Location)
		}
	case *model.SemanticPayload:
		out = append(out, p.Subject, p.Object)
	case *model.EmotionalPayload:
		if p.Trigger != "" {
			out = append(out, p.Trigger)
		}
	}
	return out
}

// recordContext gathers the free-form context a record carries: source and
// metadata values.
func recordContext(m *model.Memory) []string {
	out := make([]string, 0, len(m.Metadata)+1)
	if m.Source != "" {
		out = append(out, m.Source)
	}
	for _, v := range m.Metadata {
		out = append(out, v)
	}
	return out
}

// overlaps reports whether any query term appears in any candidate value,
// case-insensitively and allowing substring containment either way.
func overlaps(values, terms []string) bool {
	for _, v := range values {
		lv := strings.ToLower(v)
		for _, t := range terms {
			lt := strings.ToLower(t)
			if lt == "" || lv == "" {
				continue
			}
			if strings.Contains(lv, lt) || strings.Contains(lt, lv) {
				return true
			}
		}
	}
	return false
}

func containsKind(kinds []model.Kind, k model.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
