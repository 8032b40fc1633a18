package vectordb

import (
	"context"
	"sort"
	"sync"
)

// memoryStore keeps records in process, partitioned by namespace.
type memoryStore struct {
	mu         sync.RWMutex
	dimension  int
	namespace  string
	namespaces map[string]map[string]Record
}

func newMemoryStore(cfg *Config) *memoryStore {
	return &memoryStore{
		dimension:  cfg.Dimension,
		namespace:  cfg.Namespace,
		namespaces: make(map[string]map[string]Record),
	}
}

func (s *memoryStore) Upsert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if err := checkDimension(ProviderMemory, records[i].ID, len(records[i].Embedding), s.dimension); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(s.namespace, records)
	return nil
}

func (s *memoryStore) putLocked(namespace string, records []Record) {
	bucket, ok := s.namespaces[namespace]
	if !ok {
		bucket = make(map[string]Record)
		s.namespaces[namespace] = bucket
	}
	for i := range records {
		rec := records[i]
		bucket[rec.ID] = Record{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: append([]float32(nil), rec.Embedding...),
			Metadata:  cloneMetadata(rec.Metadata),
		}
	}
}

func (s *memoryStore) Fetch(_ context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.namespaces[s.namespace]
	found := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := bucket[id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (s *memoryStore) Search(_ context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension(ProviderMemory, "", len(query), s.dimension); err != nil {
		return nil, err
	}
	namespace := s.namespace
	if opts.Namespace != "" {
		namespace = opts.Namespace
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rankRecords(s.namespaces[namespace], query, opts), nil
}

func (s *memoryStore) Delete(_ context.Context, filter Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(filter)
	return nil
}

func (s *memoryStore) deleteLocked(filter Filter) bool {
	bucket := s.namespaces[s.namespace]
	if len(bucket) == 0 {
		return false
	}
	changed := false
	if len(filter.IDs) > 0 {
		for _, id := range filter.IDs {
			if _, ok := bucket[id]; ok {
				delete(bucket, id)
				changed = true
			}
		}
		return changed
	}
	if len(filter.Metadata) == 0 {
		return false
	}
	for id, rec := range bucket {
		if metadataMatches(rec.Metadata, filter.Metadata) {
			delete(bucket, id)
			changed = true
		}
	}
	return changed
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

func rankRecords(records map[string]Record, query []float32, opts SearchOptions) []Match {
	candidates := make([]Match, 0, len(records))
	for _, rec := range records {
		if !metadataMatches(rec.Metadata, opts.Filters) {
			continue
		}
		score := cosineSimilarity(rec.Embedding, query)
		if score < opts.MinScore {
			continue
		}
		candidates = append(candidates, Match{
			ID:       rec.ID,
			Score:    score,
			Text:     rec.Text,
			Metadata: cloneMetadata(rec.Metadata),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].Score > candidates[j].Score
	})
	if topK := resolveTopK(opts.TopK); len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}
