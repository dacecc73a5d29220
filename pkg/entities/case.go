package entities

import (
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/record"
)

// CaseCategory is the kind of moderation case
type CaseCategory string

const (
	CategoryWarnings CaseCategory = "warnings"
	CategoryNotes    CaseCategory = "notes"
	CategoryModlogs  CaseCategory = "modlogs"
)

// CaseCategories returns every category
func CaseCategories() []CaseCategory {
	return []CaseCategory{CategoryWarnings, CategoryNotes, CategoryModlogs}
}

// Valid reports whether c is a known category
func (c CaseCategory) Valid() bool {
	switch c {
	case CategoryWarnings, CategoryNotes, CategoryModlogs:
		return true
	}
	return false
}

// CaseEntry is one numbered moderation case
type CaseEntry struct {
	GuildID    string       `json:"guild_id"`
	SubjectID  string       `json:"subject_id"`
	Category   CaseCategory `json:"category"`
	CaseNumber int          `json:"case_number"`
	Reason     string       `json:"reason"`
	ActorID    string       `json:"actor_id"`
	Timestamp  int64        `json:"timestamp"`
}

// ToRecord returns the stored form of the entry. Guild, subject and category are
// implied by where the entry lives.
func (c *CaseEntry) ToRecord() storage.Record {
	return storage.Record{
		"case_number": int64(c.CaseNumber),
		"reason":      c.Reason,
		"actor_id":    c.ActorID,
		"timestamp":   c.Timestamp,
	}
}

// CaseEntryFrom reads a stored case entry
func CaseEntryFrom(guildID, subjectID string, category CaseCategory, v any) (*CaseEntry, error) {
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, types.Errorf(types.ErrPathConflict, "case entry holds %T, expected a record", v)
	}

	number, ok, err := record.Get(rec, []string{"case_number"})
	if err != nil {
		return nil, err
	}
	n, isInt := record.AsInt(number)
	if !ok || !isInt || n < 1 {
		return nil, types.Errorf(types.ErrPathConflict, "case entry has invalid case_number %v", number)
	}

	entry := &CaseEntry{
		GuildID:    guildID,
		SubjectID:  subjectID,
		Category:   category,
		CaseNumber: int(n),
	}
	entry.Reason, _ = rec["reason"].(string)
	entry.ActorID, _ = rec["actor_id"].(string)
	entry.Timestamp, _ = record.AsInt(rec["timestamp"])
	return entry, nil
}
