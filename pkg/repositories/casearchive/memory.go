package casearchive

import (
	"context"
	"sort"
	"sync"

	"github.com/fadedpez/cantina/pkg/entities"
)

// MemoryRepository implements Repository in memory
type MemoryRepository struct {
	mu    sync.RWMutex
	cases map[string]*entities.CaseEntry
}

// NewMemoryRepository creates a new in-memory case archive
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		cases: make(map[string]*entities.CaseEntry),
	}
}

// IndexCase implements Repository
func (r *MemoryRepository) IndexCase(ctx context.Context, entry *entities.CaseEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *entry
	r.cases[DocumentID(entry.GuildID, entry.SubjectID, entry.Category, entry.CaseNumber)] = &copied
	return nil
}

// DeleteCase implements Repository
func (r *MemoryRepository) DeleteCase(ctx context.Context, guildID, subjectID string, category entities.CaseCategory, caseNumber int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.cases, DocumentID(guildID, subjectID, category, caseNumber))
	return nil
}

// SearchCases implements Repository
func (r *MemoryRepository) SearchCases(ctx context.Context, guildID, subjectID string, limit int) ([]*entities.CaseEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*entities.CaseEntry
	for _, c := range r.cases {
		if c.SubjectID != subjectID || (guildID != "" && c.GuildID != guildID) {
			continue
		}
		copied := *c
		results = append(results, &copied)
	}

	// Newest first
	sort.Slice(results, func(i, j int) bool {
		if results[i].Timestamp != results[j].Timestamp {
			return results[i].Timestamp > results[j].Timestamp
		}
		return DocumentID(results[i].GuildID, results[i].SubjectID, results[i].Category, results[i].CaseNumber) <
			DocumentID(results[j].GuildID, results[j].SubjectID, results[j].Category, results[j].CaseNumber)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close implements Repository
func (r *MemoryRepository) Close() error {
	return nil
}
