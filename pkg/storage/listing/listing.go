// Package listing keeps sets of expiring entries in one namespace.
//
// Expiry is lazy: there is no background sweep. Expired entries are dropped from
// results when the set is read and removed from the stored document at the same
// time, so an expired entry can stay on disk until someone looks.
package listing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/guard"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// IDAlphabet is the set of characters listing IDs are drawn from
	IDAlphabet = "0123456789abcdefghijkmnpqrstuvwxyz"
	// IDLength is short enough to type in a command
	IDLength = 8

	maxIDAttempts = 5
)

var errIDTaken = errors.New("listing id taken")

// ExpireFunc is called with entries removed because they expired. It runs after
// the removal was saved and no guards are held.
type ExpireFunc func(ctx context.Context, expired []*entities.Listing)

// Set is an expiring listing set stored in one namespace
type Set struct {
	store    storage.Store
	guard    *guard.Guard
	ns       storage.Namespace
	logger   *logging.Logger
	now      func() time.Time
	newID    func() (string, error)
	onExpire ExpireFunc
}

// Option configures a Set
type Option func(*Set)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Set) { s.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Set) { s.now = now }
}

// WithIDGenerator overrides how listing IDs are generated
func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *Set) { s.newID = gen }
}

// WithExpireHook registers fn to handle pruned entries
func WithExpireHook(fn ExpireFunc) Option {
	return func(s *Set) { s.onExpire = fn }
}

// New creates a listing set over ns
func New(store storage.Store, g *guard.Guard, ns storage.Namespace, opts ...Option) *Set {
	s := &Set{
		store:  store,
		guard:  g,
		ns:     ns,
		logger: logging.Default,
		now:    time.Now,
		newID: func() (string, error) {
			return gonanoid.Generate(IDAlphabet, IDLength)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Namespace returns the namespace the set is stored in
func (s *Set) Namespace() storage.Namespace {
	return s.ns
}

// Now returns the set's current time
func (s *Set) Now() time.Time {
	return s.now()
}

// Key returns the guard key of one listing
func (s *Set) Key(listingID string) guard.Key {
	return guard.NewKey(s.ns, listingID)
}

// NewID returns an ID not used by any entry in the current document
func (s *Set) NewID(ctx context.Context) (string, error) {
	doc, err := s.store.Load(ctx, s.ns)
	if err != nil {
		return "", err
	}
	return s.unusedID(doc)
}

func (s *Set) unusedID(doc storage.Document) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", types.WrapError(types.ErrInternalError, "failed to generate listing id", err)
		}
		if _, taken := doc[id]; !taken {
			return id, nil
		}
		s.logger.Debug("Listing id %s already taken in %s, regenerating", id, s.ns)
	}
	return "", types.Errorf(types.ErrInternalError, "no free listing id after %d attempts", maxIDAttempts)
}

// Create stores a new entry that expires after ttl
func (s *Set) Create(ctx context.Context, ownerID string, payload storage.Record, ttl time.Duration) (*entities.Listing, error) {
	var result *entities.Listing
	err := s.WithNewID(ctx, func(id string) error {
		return guard.Retry(ctx, func(ctx context.Context) error {
			return s.guard.Do(ctx, []guard.Key{s.Key(id)}, func() error {
				return s.store.Update(ctx, s.ns, func(doc storage.Document) error {
					l, err := s.Insert(doc, id, ownerID, payload, ttl)
					result = l
					return err
				})
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Listing %s created in %s by %s, expires at %d", result.ListingID, s.ns, ownerID, result.ExpiresAt)
	return result, nil
}

// WithNewID runs fn with a fresh ID, picking another one if fn reports that the
// ID was taken between generation and insertion
func (s *Set) WithNewID(ctx context.Context, fn func(id string) error) error {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.NewID(ctx)
		if err != nil {
			return err
		}
		if err = fn(id); !errors.Is(err, errIDTaken) {
			return err
		}
	}
	return types.Errorf(types.ErrInternalError, "no free listing id after %d attempts", maxIDAttempts)
}

// Insert adds an entry under id to an already loaded document. The caller holds
// the listing's guard key and saves the document.
func (s *Set) Insert(doc storage.Document, id, ownerID string, payload storage.Record, ttl time.Duration) (*entities.Listing, error) {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		return nil, types.Errorf(types.ErrInvalidAmount, "listing lifetime must be at least one second, got %s", ttl)
	}
	if _, taken := doc[id]; taken {
		return nil, errIDTaken
	}

	now := s.now().Unix()
	l := &entities.Listing{
		ListingID: id,
		OwnerID:   ownerID,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now + seconds,
	}
	doc[id] = l.ToRecord()
	return l, nil
}

// ListLive returns the live entries accepted by filter, sorted by creation time
// then ID. Expired entries are removed from the stored document. A nil filter
// accepts everything.
func (s *Set) ListLive(ctx context.Context, filter func(*entities.Listing) bool) ([]*entities.Listing, error) {
	doc, err := s.store.Load(ctx, s.ns)
	if err != nil {
		return nil, err
	}

	live, expired, err := split(doc, s.now())
	if err != nil {
		return nil, err
	}

	if len(expired) > 0 {
		if _, err := s.prune(ctx, expired); err != nil {
			// the entries are still hidden; the next read tries again
			s.logger.LogError(err, "namespace", s.ns.String(), "operation", "prune")
		}
	}

	result := make([]*entities.Listing, 0, len(live))
	for _, l := range live {
		if filter == nil || filter(l) {
			result = append(result, l)
		}
	}
	sortListings(result)
	return result, nil
}

// Prune removes every expired entry from the stored document and returns them
func (s *Set) Prune(ctx context.Context) ([]*entities.Listing, error) {
	doc, err := s.store.Load(ctx, s.ns)
	if err != nil {
		return nil, err
	}
	_, expired, err := split(doc, s.now())
	if err != nil || len(expired) == 0 {
		return nil, err
	}
	return s.prune(ctx, expired)
}

// prune removes the candidates that are still expired under their guards and
// hands them to the expire hook
func (s *Set) prune(ctx context.Context, candidates []*entities.Listing) ([]*entities.Listing, error) {
	keys := make([]guard.Key, 0, len(candidates))
	for _, l := range candidates {
		keys = append(keys, s.Key(l.ListingID))
	}

	var removed []*entities.Listing
	err := guard.Retry(ctx, func(ctx context.Context) error {
		return s.guard.Do(ctx, keys, func() error {
			return s.store.Update(ctx, s.ns, func(doc storage.Document) error {
				removed = removed[:0]
				now := s.now()
				for _, c := range candidates {
					raw, ok := doc[c.ListingID]
					if !ok {
						continue
					}
					l, err := entities.ListingFrom(c.ListingID, raw)
					if err != nil {
						return err
					}
					if l.Live(now) {
						continue
					}
					delete(doc, c.ListingID)
					removed = append(removed, l)
				}
				if len(removed) == 0 {
					return storage.ErrUnchanged
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if len(removed) > 0 {
		s.logger.Info("Pruned %d expired listings from %s", len(removed), s.ns)
		if s.onExpire != nil {
			s.onExpire(ctx, removed)
		}
	}
	return removed, nil
}

// Get returns a live entry. Expired entries are not found.
func (s *Set) Get(ctx context.Context, listingID string) (*entities.Listing, error) {
	doc, err := s.store.Load(ctx, s.ns)
	if err != nil {
		return nil, err
	}
	return s.GetLocked(doc, listingID)
}

// GetLocked returns a live entry from an already loaded document
func (s *Set) GetLocked(doc storage.Document, listingID string) (*entities.Listing, error) {
	l, err := lookup(doc, listingID)
	if err != nil {
		return nil, err
	}
	if !l.Live(s.now()) {
		return nil, types.Errorf(types.ErrNotFound, "listing %s has expired", listingID)
	}
	return l, nil
}

// Remove deletes an entry owned by requesterID
func (s *Set) Remove(ctx context.Context, listingID, requesterID string) (*entities.Listing, error) {
	var result *entities.Listing
	err := guard.Retry(ctx, func(ctx context.Context) error {
		return s.guard.Do(ctx, []guard.Key{s.Key(listingID)}, func() error {
			return s.store.Update(ctx, s.ns, func(doc storage.Document) error {
				l, err := s.RemoveLocked(doc, listingID, requesterID)
				result = l
				return err
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Listing %s removed from %s by %s", listingID, s.ns, requesterID)
	return result, nil
}

// RemoveLocked deletes an entry from an already loaded document. Expired entries
// can still be removed by their owner. The caller holds the listing's guard key
// and saves the document.
func (s *Set) RemoveLocked(doc storage.Document, listingID, requesterID string) (*entities.Listing, error) {
	l, err := lookup(doc, listingID)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != requesterID {
		return nil, types.NewError(types.ErrNotOwner, "you can only remove your own listings")
	}
	delete(doc, listingID)
	return l, nil
}

// PutLocked replaces an entry in an already loaded document
func (s *Set) PutLocked(doc storage.Document, l *entities.Listing) {
	doc[l.ListingID] = l.ToRecord()
}

func lookup(doc storage.Document, listingID string) (*entities.Listing, error) {
	raw, ok := doc[listingID]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "listing %s does not exist", listingID)
	}
	return entities.ListingFrom(listingID, raw)
}

func split(doc storage.Document, now time.Time) (live, expired []*entities.Listing, err error) {
	for id, raw := range doc {
		l, err := entities.ListingFrom(id, raw)
		if err != nil {
			return nil, nil, err
		}
		if l.Live(now) {
			live = append(live, l)
		} else {
			expired = append(expired, l)
		}
	}
	return live, expired, nil
}

func sortListings(listings []*entities.Listing) {
	sort.Slice(listings, func(i, j int) bool {
		if listings[i].CreatedAt != listings[j].CreatedAt {
			return listings[i].CreatedAt < listings[j].CreatedAt
		}
		return listings[i].ListingID < listings[j].ListingID
	})
}
