package caselog

import (
	"bytes"
	"context"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/fadedpez/cantina/pkg/events"
	mock_events "github.com/fadedpez/cantina/pkg/events/mock"
	"github.com/fadedpez/cantina/pkg/repositories/casearchive"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/file"
	"github.com/fadedpez/cantina/pkg/storage/guard"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

const (
	guild   = "100"
	subject = "42"
	mod     = "7"
)

type CaseLogTestSuite struct {
	suite.Suite
	ctx     context.Context
	store   *file.Storage
	archive *casearchive.MemoryRepository
	service *Service
	clock   time.Time
}

func TestCaseLog(t *testing.T) {
	suite.Run(t, new(CaseLogTestSuite))
}

func (s *CaseLogTestSuite) SetupTest() {
	s.ctx = context.Background()
	logger := logging.NewLoggerTo(&bytes.Buffer{}, logging.DEBUG)
	s.store = file.New(s.T().TempDir(), logger)
	s.archive = casearchive.NewMemoryRepository()
	s.clock = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.service = NewService(s.store, guard.New(time.Second),
		WithArchive(s.archive),
		WithLogger(logger),
		WithClock(func() time.Time { return s.clock }),
	)
}

func (s *CaseLogTestSuite) allocate(category entities.CaseCategory, reason string) int {
	n, err := s.service.AllocateCase(s.ctx, guild, subject, category, reason, mod)
	s.Require().NoError(err)
	return n
}

func (s *CaseLogTestSuite) TestAllocateStartsAtOne() {
	s.Equal(1, s.allocate(entities.CategoryWarnings, "spam"))
	s.Equal(2, s.allocate(entities.CategoryWarnings, "more spam"))

	entry, err := s.service.GetCase(s.ctx, guild, subject, entities.CategoryWarnings, 2)
	s.Require().NoError(err)
	s.Equal(&entities.CaseEntry{
		GuildID:    guild,
		SubjectID:  subject,
		Category:   entities.CategoryWarnings,
		CaseNumber: 2,
		Reason:     "more spam",
		ActorID:    mod,
		Timestamp:  s.clock.Unix(),
	}, entry)
}

func (s *CaseLogTestSuite) TestCategoriesAndSubjectsAreIndependent() {
	s.Equal(1, s.allocate(entities.CategoryWarnings, "spam"))
	s.Equal(1, s.allocate(entities.CategoryNotes, "watch this one"))

	n, err := s.service.AllocateCase(s.ctx, guild, "43", entities.CategoryWarnings, "spam", mod)
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = s.service.AllocateCase(s.ctx, "200", subject, entities.CategoryWarnings, "spam", mod)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *CaseLogTestSuite) TestStoredLayout() {
	s.allocate(entities.CategoryModlogs, "ban")

	doc, err := s.store.Load(s.ctx, storage.ServerInfo)
	s.Require().NoError(err)
	g := doc[guild].(map[string]any)
	entry := g["cases"].(map[string]any)["modlogs"].(map[string]any)[subject].(map[string]any)["1"].(map[string]any)
	s.Equal(int64(1), entry["case_number"])
	s.Equal("ban", entry["reason"])
	s.Equal(mod, entry["actor_id"])
	s.Equal(int64(1), g["case_seq"].(map[string]any)["modlogs"].(map[string]any)[subject])
}

func (s *CaseLogTestSuite) TestNumbersAreNeverReused() {
	for i := 0; i < 3; i++ {
		s.allocate(entities.CategoryWarnings, "spam")
	}

	s.Require().NoError(s.service.DeleteCase(s.ctx, guild, subject, entities.CategoryWarnings, 2))
	s.Equal(4, s.allocate(entities.CategoryWarnings, "after a middle delete"))

	s.Require().NoError(s.service.DeleteCase(s.ctx, guild, subject, entities.CategoryWarnings, 4))
	s.Equal(5, s.allocate(entities.CategoryWarnings, "after deleting the newest"))

	page, err := s.service.ListCases(s.ctx, guild, subject, entities.CategoryWarnings, 1, 10)
	s.Require().NoError(err)
	var numbers []int
	for _, e := range page.Entries {
		numbers = append(numbers, e.CaseNumber)
	}
	s.Equal([]int{1, 3, 5}, numbers, "deletion never renumbers")
}

func (s *CaseLogTestSuite) TestAllocationIsMonotonic() {
	last := 0
	for i := 0; i < 12; i++ {
		if i%4 == 3 {
			s.Require().NoError(s.service.DeleteCase(s.ctx, guild, subject, entities.CategoryNotes, last))
		}
		n := s.allocate(entities.CategoryNotes, "note")
		s.Greater(n, last)
		last = n
	}
}

func (s *CaseLogTestSuite) TestDeleteMissing() {
	err := s.service.DeleteCase(s.ctx, guild, subject, entities.CategoryWarnings, 1)
	s.True(types.Is(err, types.ErrNotFound))

	s.allocate(entities.CategoryWarnings, "spam")
	err = s.service.DeleteCase(s.ctx, guild, subject, entities.CategoryWarnings, 9)
	s.True(types.Is(err, types.ErrNotFound))
}

func (s *CaseLogTestSuite) TestDeletePrunesEmptiedBuckets() {
	s.allocate(entities.CategoryWarnings, "spam")
	s.Require().NoError(s.service.DeleteCase(s.ctx, guild, subject, entities.CategoryWarnings, 1))

	doc, err := s.store.Load(s.ctx, storage.ServerInfo)
	s.Require().NoError(err)
	g := doc[guild].(map[string]any)
	_, ok := g["cases"]
	s.False(ok, "emptied case maps are removed")
	s.Contains(g, "case_seq", "the high-water mark survives")
}

func (s *CaseLogTestSuite) TestConcurrentAllocation() {
	const n = 25
	var wg sync.WaitGroup
	results := make(chan int, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := s.service.AllocateCase(s.ctx, guild, subject, entities.CategoryWarnings, "spam", mod)
			if err != nil {
				errs <- err
				return
			}
			results <- num
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		s.NoError(err)
	}

	var got []int
	for num := range results {
		got = append(got, num)
	}
	sort.Ints(got)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	s.Equal(want, got, "every number handed out exactly once")

	page, err := s.service.ListCases(s.ctx, guild, subject, entities.CategoryWarnings, 1, 100)
	s.Require().NoError(err)
	s.Equal(n, page.Total, "no allocation was lost")
}

func (s *CaseLogTestSuite) TestPagination() {
	for i := 0; i < 25; i++ {
		s.allocate(entities.CategoryWarnings, "spam")
	}

	tests := []struct {
		page  int
		first int
		count int
	}{
		{page: 1, first: 1, count: 10},
		{page: 2, first: 11, count: 10},
		{page: 3, first: 21, count: 5},
	}
	for _, tt := range tests {
		page, err := s.service.ListCases(s.ctx, guild, subject, entities.CategoryWarnings, tt.page, 10)
		s.Require().NoError(err)
		s.Equal(3, page.TotalPages)
		s.Equal(25, page.Total)
		s.Equal(tt.page, page.Page)
		s.Require().Len(page.Entries, tt.count)
		s.Equal(tt.first, page.Entries[0].CaseNumber)
	}

	for _, bad := range []int{0, 4, -1} {
		_, err := s.service.ListCases(s.ctx, guild, subject, entities.CategoryWarnings, bad, 10)
		s.True(types.Is(err, types.ErrInvalidPage), "page %d", bad)
	}

	_, err := s.service.ListCases(s.ctx, guild, subject, entities.CategoryWarnings, 1, 0)
	s.True(types.Is(err, types.ErrInvalidPage))
}

func (s *CaseLogTestSuite) TestListEmptyHasNoPages() {
	_, err := s.service.ListCases(s.ctx, guild, subject, entities.CategoryNotes, 1, 10)
	s.True(types.Is(err, types.ErrInvalidPage))
}

func (s *CaseLogTestSuite) TestUnknownCategory() {
	_, err := s.service.AllocateCase(s.ctx, guild, subject, entities.CaseCategory("bans"), "x", mod)
	s.True(types.Is(err, types.ErrNotFound))
}

func (s *CaseLogTestSuite) TestPathConflict() {
	err := s.store.Update(s.ctx, storage.ServerInfo, func(doc storage.Document) error {
		doc[guild] = storage.Record{"cases": "oops"}
		return nil
	})
	s.Require().NoError(err)

	_, err = s.service.AllocateCase(s.ctx, guild, subject, entities.CategoryWarnings, "spam", mod)
	s.True(types.Is(err, types.ErrPathConflict))
	s.True(types.IsIntegrity(err))

	doc, err := s.store.Load(s.ctx, storage.ServerInfo)
	s.Require().NoError(err)
	s.Equal("oops", doc[guild].(map[string]any)["cases"], "conflicting values are never overwritten")
}

func (s *CaseLogTestSuite) TestArchiveFollowsCases() {
	s.allocate(entities.CategoryWarnings, "spam")
	s.allocate(entities.CategoryWarnings, "flood")

	history, err := s.service.History(s.ctx, guild, subject, 10)
	s.Require().NoError(err)
	s.Len(history, 2)

	s.Require().NoError(s.service.DeleteCase(s.ctx, guild, subject, entities.CategoryWarnings, 1))
	history, err = s.service.History(s.ctx, guild, subject, 10)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal("flood", history[0].Reason)
}

func (s *CaseLogTestSuite) TestHistoryReadsStoredCasesAfterRestart() {
	s.allocate(entities.CategoryWarnings, "spam")
	s.clock = s.clock.Add(time.Minute)
	s.allocate(entities.CategoryNotes, "watch closely")
	s.clock = s.clock.Add(time.Minute)
	s.allocate(entities.CategoryWarnings, "flood")

	logger := logging.NewLoggerTo(&bytes.Buffer{}, logging.ERROR)
	restarted := NewService(file.New(s.store.Root(), logger), guard.New(time.Second), WithLogger(logger))

	page, err := restarted.ListCases(s.ctx, guild, subject, entities.CategoryWarnings, 1, 10)
	s.Require().NoError(err)
	s.Equal(2, page.Total)

	history, err := restarted.History(s.ctx, guild, subject, 10)
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	s.Equal("flood", history[0].Reason, "newest first")
	s.Equal(entities.CategoryNotes, history[1].Category)
	s.Equal("spam", history[2].Reason)

	history, err = restarted.History(s.ctx, guild, subject, 2)
	s.Require().NoError(err)
	s.Len(history, 2)

	history, err = restarted.History(s.ctx, "other-guild", subject, 10)
	s.Require().NoError(err)
	s.Empty(history)
}

func (s *CaseLogTestSuite) TestHugePageSize() {
	s.allocate(entities.CategoryWarnings, "spam")
	s.allocate(entities.CategoryWarnings, "flood")

	page, err := s.service.ListCases(s.ctx, guild, subject, entities.CategoryWarnings, 1, math.MaxInt)
	s.Require().NoError(err)
	s.Equal(1, page.TotalPages)
	s.Len(page.Entries, 2)

	_, err = s.service.ListCases(s.ctx, guild, subject, entities.CategoryWarnings, 2, math.MaxInt)
	s.True(types.Is(err, types.ErrInvalidPage))
}

func (s *CaseLogTestSuite) TestPublishesEvents() {
	ctrl := gomock.NewController(s.T())
	publisher := mock_events.NewMockPublisher(ctrl)
	service := NewService(s.store, guard.New(time.Second), WithPublisher(publisher))

	gomock.InOrder(
		publisher.EXPECT().Publish(gomock.Any(), events.TopicCaseCreated, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, payload any) error {
				created := payload.(events.CaseCreated)
				s.Equal(1, created.Case.CaseNumber)
				return nil
			}),
		publisher.EXPECT().Publish(gomock.Any(), events.TopicCaseDeleted, events.CaseDeleted{
			GuildID:    guild,
			SubjectID:  subject,
			Category:   entities.CategoryWarnings,
			CaseNumber: 1,
		}).Return(nil),
	)

	_, err := service.AllocateCase(s.ctx, guild, subject, entities.CategoryWarnings, "spam", mod)
	s.Require().NoError(err)
	s.Require().NoError(service.DeleteCase(s.ctx, guild, subject, entities.CategoryWarnings, 1))
}

func (s *CaseLogTestSuite) TestLockTimeout() {
	g := guard.New(20 * time.Millisecond)
	service := NewService(s.store, g)

	release, err := g.Acquire(s.ctx, Key(guild, subject, entities.CategoryWarnings))
	s.Require().NoError(err)
	defer release()

	_, err = service.AllocateCase(s.ctx, guild, subject, entities.CategoryWarnings, "spam", mod)
	s.True(types.Is(err, types.ErrLockTimeout))

	_, err = service.AllocateCase(s.ctx, guild, subject, entities.CategoryNotes, "note", mod)
	s.NoError(err, "other buckets are not blocked")
}
