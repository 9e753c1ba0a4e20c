package store

import "github.com/engramdev/engram/internal/model"

// Stats holds store statistics, recomputed on demand.
type Stats struct {
	TotalRecords   int                `json:"total_records"`
	ByKind         map[model.Kind]int `json:"by_kind"`
	StorageBytes   int64              `json:"storage_bytes"`
	MeanImportance float64            `json:"mean_importance"`
}

// Stats scans the store and returns current counts and sizes.
func (s *Store) Stats() Stats {
	st := Stats{ByKind: make(map[model.Kind]int, len(model.Kinds))}
	sum := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rec := range sh.records {
			st.TotalRecords++
			st.ByKind[rec.env.Kind]++
			st.StorageBytes += rec.size
			sum += rec.env.Importance
		}
		sh.mu.RUnlock()
	}
	if st.TotalRecords > 0 {
		st.MeanImportance = float64(sum) / float64(st.TotalRecords)
	}
	return st
}
