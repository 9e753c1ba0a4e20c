package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/engramdev/engram/internal/model"
)

// Cluster is a pattern-strategy result: a group of records sharing a
// metadata tag or a recurring (subject, predicate) pair, summarized rather
// than returned individually.
type Cluster struct {
	Label   string   `json:"label"`
	Count   int      `json:"count"`
	IDs     []string `json:"ids"`
	Example string   `json:"example"` // content of the earliest member
}

// Patterns groups the records matched by q into clusters. Only groups with
// at least two members count as a pattern. Clusters are ordered largest
// first, ties alphabetically by label.
func (e *Engine) Patterns(ctx context.Context, q Query) ([]Cluster, error) {
	candidates, err := e.candidates(q)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*model.Memory)
	for _, m := range candidates {
		if !e.matches(m, q) {
			continue
		}
		for _, tag := range recordTags(m) {
			key := "tag:" + tag
			groups[key] = append(groups[key], m)
		}
		if p, ok := m.Payload.(*model.SemanticPayload); ok && p.Subject != "" && p.Predicate != "" {
			key := "fact:" + strings.ToLower(p.Subject) + " " + strings.ToLower(p.Predicate)
			groups[key] = append(groups[key], m)
		}
	}

	var clusters []Cluster
	for label, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		})
		c := Cluster{Label: label, Count: len(members), Example: members[0].Content}
		for _, m := range members {
			c.IDs = append(c.IDs, m.ID)
		}
		clusters = append(clusters, c)
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		return clusters[i].Label < clusters[j].Label
	})
	return clusters, nil
}

// recordTags splits the comma-separated tags metadata entry.
func recordTags(m *model.Memory) []string {
	raw, ok := m.Metadata["tags"]
	if !ok || raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
