package caselog

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/fadedpez/cantina/pkg/events"
	"github.com/fadedpez/cantina/pkg/repositories/casearchive"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/guard"
	"github.com/fadedpez/cantina/pkg/storage/record"
)

// DefaultPageSize is the number of cases shown per page
const DefaultPageSize = 10

// CasePage is one page of a subject's cases
type CasePage struct {
	Entries    []*entities.CaseEntry
	Page       int
	TotalPages int
	Total      int
}

// Service keeps numbered moderation cases per guild, subject and category in the
// server_info namespace.
//
// Entries live at server_info[guild].cases[category][subject][number]. The highest
// number ever handed out is kept at server_info[guild].case_seq[category][subject]
// so deleting the newest case never frees its number.
type Service struct {
	store   storage.Store
	guard   *guard.Guard
	archive casearchive.Repository
	events  events.Publisher
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithArchive indexes every new case in repo and serves History from it.
// Without an archive, History reads the stored cases of one guild.
func WithArchive(repo casearchive.Repository) Option {
	return func(s *Service) { s.archive = repo }
}

// WithPublisher publishes an event for every new or deleted case
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new case log service
func NewService(store storage.Store, g *guard.Guard, opts ...Option) *Service {
	s := &Service{
		store:   store,
		guard:   g,
		events:  &events.NoopPublisher{},
		logger:  logging.Default,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the guard key of one case bucket
func Key(guildID, subjectID string, category entities.CaseCategory) guard.Key {
	return guard.NewKey(storage.ServerInfo, guildID, subjectID, string(category))
}

func entriesPath(subjectID string, category entities.CaseCategory) []string {
	return []string{"cases", string(category), subjectID}
}

func seqPath(subjectID string, category entities.CaseCategory) []string {
	return []string{"case_seq", string(category), subjectID}
}

// AllocateCase records a new case and returns its number. Numbers start at 1 and
// always exceed every number previously given out in the same bucket.
func (s *Service) AllocateCase(ctx context.Context, guildID, subjectID string, category entities.CaseCategory, reason, actorID string) (int, error) {
	if !category.Valid() {
		return 0, types.Errorf(types.ErrNotFound, "unknown case category %q", category)
	}

	var entry *entities.CaseEntry
	err := guard.Retry(ctx, func(ctx context.Context) error {
		return s.guard.Do(ctx, []guard.Key{Key(guildID, subjectID, category)}, func() error {
			return s.store.Update(ctx, storage.ServerInfo, func(doc storage.Document) error {
				guild, _, err := storage.EnsureIn(doc, guildID, newGuildRecord)
				if err != nil {
					return err
				}
				bucket, _, err := record.Map(guild, entriesPath(subjectID, category))
				if err != nil {
					return err
				}
				highest, err := maxCaseNumber(bucket)
				if err != nil {
					return err
				}
				seq, _, err := record.Int(guild, seqPath(subjectID, category), 0)
				if err != nil {
					return err
				}
				if int64(highest) < seq {
					highest = int(seq)
				}

				entry = &entities.CaseEntry{
					GuildID:    guildID,
					SubjectID:  subjectID,
					Category:   category,
					CaseNumber: highest + 1,
					Reason:     reason,
					ActorID:    actorID,
					Timestamp:  s.now().Unix(),
				}
				bucket[strconv.Itoa(entry.CaseNumber)] = entry.ToRecord()
				return record.Set(guild, seqPath(subjectID, category), int64(entry.CaseNumber))
			})
		})
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("[CASELOG] Case %d (%s) recorded for %s in guild %s by %s", entry.CaseNumber, category, subjectID, guildID, actorID)
	if s.archive != nil {
		if err := s.archive.IndexCase(ctx, entry); err != nil {
			s.logger.Warn("[CASELOG] Error archiving case %d for %s: %v", entry.CaseNumber, subjectID, err)
		}
	}
	if err := s.events.Publish(ctx, events.TopicCaseCreated, events.CaseCreated{Case: entry}); err != nil {
		s.logger.Warn("[CASELOG] Error publishing case event: %v", err)
	}
	return entry.CaseNumber, nil
}

// DeleteCase removes one case. Remaining cases keep their numbers.
func (s *Service) DeleteCase(ctx context.Context, guildID, subjectID string, category entities.CaseCategory, caseNumber int) error {
	if !category.Valid() {
		return types.Errorf(types.ErrNotFound, "unknown case category %q", category)
	}

	err := guard.Retry(ctx, func(ctx context.Context) error {
		return s.guard.Do(ctx, []guard.Key{Key(guildID, subjectID, category)}, func() error {
			return s.store.Update(ctx, storage.ServerInfo, func(doc storage.Document) error {
				guild, ok, err := storage.GetEntity(doc, guildID)
				if err != nil {
					return err
				}
				removed := false
				if ok {
					path := append(entriesPath(subjectID, category), strconv.Itoa(caseNumber))
					if removed, err = record.Delete(guild, path); err != nil {
						return err
					}
				}
				if !removed {
					return types.Errorf(types.ErrNotFound, "case %d does not exist", caseNumber)
				}
				return nil
			})
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("[CASELOG] Case %d (%s) deleted for %s in guild %s", caseNumber, category, subjectID, guildID)
	if s.archive != nil {
		if err := s.archive.DeleteCase(ctx, guildID, subjectID, category, caseNumber); err != nil {
			s.logger.Warn("[CASELOG] Error removing archived case %d for %s: %v", caseNumber, subjectID, err)
		}
	}
	event := events.CaseDeleted{GuildID: guildID, SubjectID: subjectID, Category: category, CaseNumber: caseNumber}
	if err := s.events.Publish(ctx, events.TopicCaseDeleted, event); err != nil {
		s.logger.Warn("[CASELOG] Error publishing case event: %v", err)
	}
	return nil
}

// ListCases returns one page of cases sorted by case number. Pages start at 1;
// a subject without cases has no valid pages.
func (s *Service) ListCases(ctx context.Context, guildID, subjectID string, category entities.CaseCategory, page, pageSize int) (*CasePage, error) {
	if pageSize < 1 {
		return nil, types.Errorf(types.ErrInvalidPage, "page size must be at least 1, got %d", pageSize)
	}

	entries, err := s.load(ctx, guildID, subjectID, category)
	if err != nil {
		return nil, err
	}

	total := len(entries)
	totalPages := total / pageSize
	if total%pageSize != 0 {
		totalPages++
	}
	if page < 1 || page > totalPages {
		if totalPages == 0 {
			return nil, types.Errorf(types.ErrInvalidPage, "no %s recorded", category)
		}
		return nil, types.Errorf(types.ErrInvalidPage, "page %d does not exist, there are %d", page, totalPages)
	}

	start := (page - 1) * pageSize
	end := total
	if total-start > pageSize {
		end = start + pageSize
	}

	return &CasePage{
		Entries:    entries[start:end],
		Page:       page,
		TotalPages: totalPages,
		Total:      total,
	}, nil
}

// GetCase returns one case
func (s *Service) GetCase(ctx context.Context, guildID, subjectID string, category entities.CaseCategory, caseNumber int) (*entities.CaseEntry, error) {
	entries, err := s.load(ctx, guildID, subjectID, category)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(entries), func(i int) bool { return entries[i].CaseNumber >= caseNumber })
	if i == len(entries) || entries[i].CaseNumber != caseNumber {
		return nil, types.Errorf(types.ErrNotFound, "case %d does not exist", caseNumber)
	}
	return entries[i], nil
}

// History returns a subject's most recent cases of every category, newest first.
// With an archive the search spans all guilds when guildID is empty; the stored
// cases are always read for a single guild.
func (s *Service) History(ctx context.Context, guildID, subjectID string, limit int) ([]*entities.CaseEntry, error) {
	if s.archive != nil {
		return s.archive.SearchCases(ctx, guildID, subjectID, limit)
	}

	var entries []*entities.CaseEntry
	for _, category := range entities.CaseCategories() {
		bucket, err := s.load(ctx, guildID, subjectID, category)
		if err != nil {
			return nil, err
		}
		entries = append(entries, bucket...)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.CaseNumber > b.CaseNumber
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// load reads a bucket sorted by case number. Reads need no guard: saves replace
// the file atomically so every load sees a whole document.
func (s *Service) load(ctx context.Context, guildID, subjectID string, category entities.CaseCategory) ([]*entities.CaseEntry, error) {
	if !category.Valid() {
		return nil, types.Errorf(types.ErrNotFound, "unknown case category %q", category)
	}

	doc, err := s.store.Load(ctx, storage.ServerInfo)
	if err != nil {
		return nil, err
	}
	guild, ok, err := storage.GetEntity(doc, guildID)
	if err != nil || !ok {
		return nil, err
	}
	v, ok, err := record.Get(guild, entriesPath(subjectID, category))
	if err != nil || !ok {
		return nil, err
	}
	bucket, ok := v.(map[string]any)
	if !ok {
		return nil, types.Errorf(types.ErrPathConflict, "%s bucket for %s holds %T", category, subjectID, v)
	}

	entries := make([]*entities.CaseEntry, 0, len(bucket))
	for key, raw := range bucket {
		entry, err := entities.CaseEntryFrom(guildID, subjectID, category, raw)
		if err != nil {
			return nil, err
		}
		if strconv.Itoa(entry.CaseNumber) != key {
			return nil, types.Errorf(types.ErrPathConflict, "case stored under %q has number %d", key, entry.CaseNumber)
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CaseNumber < entries[j].CaseNumber })
	return entries, nil
}

func maxCaseNumber(bucket map[string]any) (int, error) {
	highest := 0
	for key := range bucket {
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 {
			return 0, types.Errorf(types.ErrPathConflict, "case key %q is not a case number", key)
		}
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

func newGuildRecord() storage.Record {
	return storage.Record{}
}
