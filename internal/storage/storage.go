// Package storage keeps the kiosk's recent scan history in memory.
package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sjteam/spoolscan/internal/models"
)

// DefaultLimit is the number of records kept when New is given no limit.
const DefaultLimit = 200

type ScanStore struct {
	records map[string]*models.ScanRecord
	limit   int
	now     func() time.Time
	mu      sync.RWMutex
}

func New(limit int) *ScanStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &ScanStore{
		records: make(map[string]*models.ScanRecord),
		limit:   limit,
		now:     time.Now,
	}
}

// Add stores a copy of rec under a fresh id and returns it. The oldest
// record is evicted once the store is full.
func (s *ScanStore) Add(rec models.ScanRecord) models.ScanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = uuid.NewString()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	s.records[rec.ID] = &rec

	for len(s.records) > s.limit {
		var oldest *models.ScanRecord
		for _, r := range s.records {
			if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
				oldest = r
			}
		}
		delete(s.records, oldest.ID)
	}
	return rec
}

func (s *ScanStore) Get(id string) (models.ScanRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.records[id]
	if !exists {
		return models.ScanRecord{}, false
	}
	return *rec, true
}

// BySession returns the record of scan session id.
func (s *ScanStore) BySession(id uint64) (models.ScanRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.SessionID == id {
			return *r, true
		}
	}
	return models.ScanRecord{}, false
}

// List returns every record, newest first.
func (s *ScanStore) List() []models.ScanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.ScanRecord, 0, len(s.records))
	for _, r := range s.records {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *ScanStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}
