package casearchive

import (
	"context"
	"fmt"

	"github.com/fadedpez/cantina/pkg/entities"
)

// Repository indexes moderation cases for search across guilds. The file store stays
// the source of truth; the archive is a secondary, best-effort copy.
type Repository interface {
	// IndexCase stores or replaces one case entry
	IndexCase(ctx context.Context, entry *entities.CaseEntry) error

	// DeleteCase removes one case entry; deleting an unknown case is not an error
	DeleteCase(ctx context.Context, guildID, subjectID string, category entities.CaseCategory, caseNumber int) error

	// SearchCases returns the most recent cases for a subject, across all guilds when guildID is empty
	SearchCases(ctx context.Context, guildID, subjectID string, limit int) ([]*entities.CaseEntry, error)

	// Close releases any resources
	Close() error
}

// DocumentID returns the archive identifier of a case
func DocumentID(guildID, subjectID string, category entities.CaseCategory, caseNumber int) string {
	return fmt.Sprintf("%s:%s:%s:%d", guildID, subjectID, category, caseNumber)
}
