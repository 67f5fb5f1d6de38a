package memory

import (
	"encoding/json"
	"fmt"
	"sort"

	"commandcore/pkg/domain"
)

// Snapshot is a serialisable copy of the store state.
type Snapshot struct {
	Buckets map[domain.EntityType]BucketSnapshot `json:"buckets"`
}

// BucketSnapshot holds one entity type's counter and records, ordered by key.
type BucketSnapshot struct {
	Counter int64             `json:"counter"`
	Records []json.RawMessage `json:"records"`
}

// Types lists the bucket names in sorted order.
func (s Snapshot) Types() []domain.EntityType {
	out := make([]domain.EntityType, 0, len(s.Buckets))
	for t := range s.Buckets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExportState encodes every non-empty bucket as JSON.
func (s *Store) ExportState() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := Snapshot{Buckets: make(map[domain.EntityType]BucketSnapshot, len(s.buckets))}
	for t, b := range s.buckets {
		if len(b.records) == 0 && b.counter == 0 {
			continue
		}
		entities := s.listLocked(t)
		records := make([]json.RawMessage, 0, len(entities))
		for _, e := range entities {
			data, err := json.Marshal(e)
			if err != nil {
				return Snapshot{}, fmt.Errorf("encode %s: %w", t, err)
			}
			records = append(records, data)
		}
		snapshot.Buckets[t] = BucketSnapshot{Counter: b.counter, Records: records}
	}
	return snapshot, nil
}

// ImportState replaces the store state with snapshot, decoding records through
// the store's type registry. The store is left untouched when decoding fails.
func (s *Store) ImportState(snapshot Snapshot) error {
	buckets := make(map[domain.EntityType]*bucket, len(snapshot.Buckets))
	for t, bs := range snapshot.Buckets {
		b := newBucket()
		b.counter = bs.Counter
		for i, raw := range bs.Records {
			e, err := s.registry.Decode(t, raw)
			if err != nil {
				return fmt.Errorf("import %s record %d: %w", t, i, err)
			}
			key, err := domain.KeyOf(e)
			if err != nil {
				return fmt.Errorf("import %s record %d: %w", t, i, err)
			}
			if key == nil {
				return fmt.Errorf("import %s record %d: %w: missing key", t, i, domain.ErrInvalidKey)
			}
			if n, ok := key.(int64); ok && n > b.counter {
				b.counter = n
			}
			domain.MarkPersisted(e)
			b.records[key] = e
		}
		buckets[t] = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		return domain.ErrTransactionActive
	}
	s.buckets = buckets
	return nil
}
