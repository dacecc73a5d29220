package market

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/fadedpez/cantina/pkg/events"
	"github.com/fadedpez/cantina/pkg/services/ledger"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/guard"
	"github.com/fadedpez/cantina/pkg/storage/listing"
	"github.com/fadedpez/cantina/pkg/storage/record"
)

// DefaultListingTTL is how long a listing stays up
const DefaultListingTTL = 72 * time.Hour

// Offer is a market listing with its payload read out
type Offer struct {
	*entities.Listing
	Item     string
	Quantity int64
	Price    int64 // per unit
}

// OfferFrom reads the market payload of a listing
func OfferFrom(l *entities.Listing) (*Offer, error) {
	item, _ := l.Payload["item"].(string)
	quantity, qok := record.AsInt(l.Payload["quantity"])
	price, pok := record.AsInt(l.Payload["price"])
	if item == "" || !qok || !pok {
		return nil, types.Errorf(types.ErrPathConflict, "listing %s has a malformed market payload", l.ListingID)
	}
	return &Offer{Listing: l, Item: item, Quantity: quantity, Price: price}, nil
}

func payload(item string, quantity, price int64) storage.Record {
	return storage.Record{
		"item":     item,
		"quantity": quantity,
		"price":    price,
	}
}

// Purchase is the outcome of a successful Buy
type Purchase struct {
	Offer    *Offer // what is left of the listing, Quantity 0 when sold out
	Buyer    *entities.Ledger
	Seller   *entities.Ledger
	Quantity int64
	Total    int64
}

// Service trades inventory items between users through expiring listings
type Service struct {
	store    storage.Store
	guard    *guard.Guard
	ledger   *ledger.Service
	listings *listing.Set
	events   events.Publisher
	logger   *logging.Logger
	ttl      time.Duration
	setOpts  []listing.Option
}

// Option configures a Service
type Option func(*Service)

// WithPublisher publishes listing events
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithListingTTL sets how long new listings stay up
func WithListingTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithListingOptions passes options to the underlying listing set
func WithListingOptions(opts ...listing.Option) Option {
	return func(s *Service) { s.setOpts = append(s.setOpts, opts...) }
}

// NewService creates a new market service. Money moves through ledgerService so
// sales and purchases are journaled like any other balance change.
func NewService(store storage.Store, g *guard.Guard, ledgerService *ledger.Service, opts ...Option) *Service {
	s := &Service{
		store:  store,
		guard:  g,
		ledger: ledgerService,
		events: &events.NoopPublisher{},
		logger: logging.Default,
		ttl:    DefaultListingTTL,
	}
	for _, opt := range opts {
		opt(s)
	}

	setOpts := append([]listing.Option{
		listing.WithLogger(s.logger),
		listing.WithExpireHook(s.returnExpired),
	}, s.setOpts...)
	s.listings = listing.New(store, g, storage.Market, setOpts...)
	return s
}

// Listings returns the underlying listing set
func (s *Service) Listings() *listing.Set {
	return s.listings
}

// Sell moves quantity of item from the owner's inventory into a new listing
func (s *Service) Sell(ctx context.Context, ownerID, item string, quantity, price int64) (*Offer, error) {
	if item == "" {
		return nil, types.NewError(types.ErrInvalidAmount, "pick an item to sell")
	}
	if quantity <= 0 || price <= 0 {
		return nil, types.Errorf(types.ErrInvalidAmount, "quantity and price must be positive, got %d and %d", quantity, price)
	}
	if _, err := total(quantity, price); err != nil {
		return nil, err
	}

	var created *entities.Listing
	err := s.listings.WithNewID(ctx, func(id string) error {
		return guard.Retry(ctx, func(ctx context.Context) error {
			keys := []guard.Key{ledger.Key(ownerID), s.listings.Key(id)}
			return s.guard.Do(ctx, keys, func() error {
				err := s.adjust(ctx, ownerID, item, -quantity)
				if err != nil {
					return err
				}
				err = s.store.Update(ctx, storage.Market, func(doc storage.Document) error {
					var err error
					created, err = s.listings.Insert(doc, id, ownerID, payload(item, quantity, price), s.ttl)
					return err
				})
				if err != nil {
					s.undo(ctx, fmt.Sprintf("return %d %s to %s", quantity, item, ownerID), func() error {
						return s.adjust(ctx, ownerID, item, quantity)
					})
				}
				return err
			})
		})
	})
	if err != nil {
		return nil, err
	}

	offer, err := OfferFrom(created)
	if err != nil {
		return nil, err
	}

	s.logger.Info("[MARKET] %s listed %d %s at %d each as %s", ownerID, quantity, item, price, offer.ListingID)
	s.publish(ctx, events.TopicListingCreated, events.ListingCreated{
		ListingID: offer.ListingID,
		OwnerID:   ownerID,
		Payload:   offer.Payload,
		ExpiresAt: offer.ExpiresAt,
	})
	return offer, nil
}

// Browse returns the live offers, all of them when item is empty
func (s *Service) Browse(ctx context.Context, item string) ([]*Offer, error) {
	live, err := s.listings.ListLive(ctx, func(l *entities.Listing) bool {
		return item == "" || l.Payload["item"] == item
	})
	if err != nil {
		return nil, err
	}

	offers := make([]*Offer, 0, len(live))
	for _, l := range live {
		offer, err := OfferFrom(l)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// Cancel removes a listing and returns its unsold quantity to the owner
func (s *Service) Cancel(ctx context.Context, listingID, requesterID string) (*Offer, error) {
	var offer *Offer
	err := guard.Retry(ctx, func(ctx context.Context) error {
		keys := []guard.Key{ledger.Key(requesterID), s.listings.Key(listingID)}
		return s.guard.Do(ctx, keys, func() error {
			var removed storage.Record
			err := s.store.Update(ctx, storage.Market, func(doc storage.Document) error {
				original, _ := doc[listingID].(map[string]any)
				l, err := s.listings.RemoveLocked(doc, listingID, requesterID)
				if err != nil {
					return err
				}
				if offer, err = OfferFrom(l); err != nil {
					return err
				}
				removed = original
				return nil
			})
			if err != nil {
				return err
			}

			if err = s.adjust(ctx, offer.OwnerID, offer.Item, offer.Quantity); err != nil {
				s.undo(ctx, "restore listing "+listingID, func() error {
					return s.store.Update(ctx, storage.Market, func(doc storage.Document) error {
						doc[listingID] = removed
						return nil
					})
				})
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("[MARKET] %s cancelled %s, returned %d %s", requesterID, listingID, offer.Quantity, offer.Item)
	s.publish(ctx, events.TopicListingRemoved, events.ListingRemoved{
		ListingID: listingID,
		OwnerID:   offer.OwnerID,
		Reason:    "cancelled",
	})
	return offer, nil
}

// Buy pays for quantity units of a listing. The buyer's purse, the seller's purse
// and the listing change together under their guards.
func (s *Service) Buy(ctx context.Context, buyerID, listingID string, quantity int64) (*Purchase, error) {
	if quantity <= 0 {
		return nil, types.Errorf(types.ErrInvalidAmount, "quantity must be positive, got %d", quantity)
	}

	seen, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	sellerID := seen.OwnerID
	if sellerID == buyerID {
		return nil, types.NewError(types.ErrInvalidAmount, "you cannot buy your own listing")
	}

	result := &Purchase{Quantity: quantity}
	err = guard.Retry(ctx, func(ctx context.Context) error {
		keys := []guard.Key{ledger.Key(buyerID), ledger.Key(sellerID), s.listings.Key(listingID)}
		return s.guard.Do(ctx, keys, func() error {
			doc, err := s.store.Load(ctx, storage.Market)
			if err != nil {
				return err
			}
			l, err := s.listings.GetLocked(doc, listingID)
			if err != nil {
				return err
			}
			offer, err := OfferFrom(l)
			if err != nil {
				return err
			}
			if quantity > offer.Quantity {
				return types.Errorf(types.ErrInvalidAmount, "only %d %s left on this listing", offer.Quantity, offer.Item)
			}
			cost, err := total(quantity, offer.Price)
			if err != nil {
				return err
			}

			if err := s.settle(ctx, buyerID, sellerID, offer.Item, quantity, cost, 1, result); err != nil {
				return err
			}

			err = s.store.Update(ctx, storage.Market, func(doc storage.Document) error {
				l, err := s.listings.GetLocked(doc, listingID)
				if err != nil {
					return err
				}
				left, err := OfferFrom(l)
				if err != nil {
					return err
				}
				left.Quantity -= quantity
				if left.Quantity <= 0 {
					delete(doc, listingID)
					left.Quantity = 0
				} else {
					left.Payload = payload(left.Item, left.Quantity, left.Price)
					s.listings.PutLocked(doc, left.Listing)
				}
				result.Offer = left
				return nil
			})
			if err != nil {
				s.undo(ctx, "refund purchase of "+listingID, func() error {
					return s.settle(ctx, buyerID, sellerID, offer.Item, quantity, cost, -1, nil)
				})
				return err
			}
			result.Total = cost
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("[MARKET] %s bought %d %s from %s for %d", buyerID, quantity, result.Offer.Item, sellerID, result.Total)
	now := s.listings.Now()
	s.ledger.Record(ctx,
		ledger.NewTransaction(result.Buyer, entities.TransactionTypePurchase, result.Total, listingID, "Bought "+result.Offer.Item, now),
		ledger.NewTransaction(result.Seller, entities.TransactionTypeSale, result.Total, listingID, "Sold "+result.Offer.Item, now),
	)
	s.publish(ctx, events.TopicListingSold, events.ListingSold{
		ListingID: listingID,
		SellerID:  sellerID,
		BuyerID:   buyerID,
		Item:      result.Offer.Item,
		Quantity:  quantity,
		Total:     result.Total,
	})
	return result, nil
}

// settle moves cost from the buyer's purse to the seller's and quantity of item
// into the buyer's inventory in one economy save. A negative direction reverses a
// settled purchase.
func (s *Service) settle(ctx context.Context, buyerID, sellerID, item string, quantity, cost int64, direction int64, result *Purchase) error {
	return s.store.Update(ctx, storage.Economy, func(doc storage.Document) error {
		buyer, err := s.ledger.MutateIn(doc, buyerID, func(l *entities.Ledger, rec storage.Record) error {
			move := ledger.DebitLedger
			if direction < 0 {
				move = ledger.CreditLedger
			}
			if err := move(l, cost); err != nil {
				return err
			}
			return entities.AdjustInventory(rec, item, direction*quantity)
		})
		if err != nil {
			return err
		}
		seller, err := s.ledger.MutateIn(doc, sellerID, func(l *entities.Ledger, _ storage.Record) error {
			if direction < 0 {
				return ledger.DebitLedger(l, cost)
			}
			return ledger.CreditLedger(l, cost)
		})
		if err != nil {
			return err
		}
		if result != nil {
			result.Buyer, result.Seller = buyer, seller
		}
		return nil
	})
}

// Inventory returns the items a user holds outside of listings
func (s *Service) Inventory(ctx context.Context, userID string) (map[string]int64, error) {
	doc, err := s.store.Load(ctx, storage.Economy)
	if err != nil {
		return nil, err
	}
	rec, ok, err := storage.GetEntity(doc, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]int64{}, nil
	}
	return entities.Inventory(rec)
}

// Grant adds quantity of item to a user's inventory
func (s *Service) Grant(ctx context.Context, userID, item string, quantity int64) error {
	if item == "" || quantity <= 0 {
		return types.Errorf(types.ErrInvalidAmount, "grant a positive quantity of a named item, got %d", quantity)
	}
	err := guard.Retry(ctx, func(ctx context.Context) error {
		return s.guard.Do(ctx, []guard.Key{ledger.Key(userID)}, func() error {
			return s.adjust(ctx, userID, item, quantity)
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("[MARKET] Granted %d %s to %s", quantity, item, userID)
	return nil
}

// adjust changes a user's inventory in its own economy save. The caller holds the
// user's ledger key.
func (s *Service) adjust(ctx context.Context, userID, item string, delta int64) error {
	return s.store.Update(ctx, storage.Economy, func(doc storage.Document) error {
		_, err := s.ledger.MutateIn(doc, userID, func(_ *entities.Ledger, rec storage.Record) error {
			return entities.AdjustInventory(rec, item, delta)
		})
		return err
	})
}

// undo reverts the first half of a two-document change after the second half
// failed. The guards are still held so nothing else has touched either record.
func (s *Service) undo(ctx context.Context, what string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Error("[MARKET] Failed to %s after a failed save: %v", what, err)
		s.logger.LogError(err, "operation", what)
	}
}

// returnExpired gives the unsold quantity of expired listings back to their owners
func (s *Service) returnExpired(ctx context.Context, expired []*entities.Listing) {
	for _, l := range expired {
		offer, err := OfferFrom(l)
		if err != nil {
			s.logger.LogError(err, "listing", l.ListingID)
			continue
		}
		err = guard.Retry(ctx, func(ctx context.Context) error {
			return s.guard.Do(ctx, []guard.Key{ledger.Key(offer.OwnerID)}, func() error {
				return s.adjust(ctx, offer.OwnerID, offer.Item, offer.Quantity)
			})
		})
		if err != nil {
			s.logger.Error("[MARKET] Failed to return %d %s from expired listing %s to %s: %v", offer.Quantity, offer.Item, l.ListingID, offer.OwnerID, err)
			continue
		}
		s.logger.Info("[MARKET] Listing %s expired, returned %d %s to %s", l.ListingID, offer.Quantity, offer.Item, offer.OwnerID)
		s.publish(ctx, events.TopicListingRemoved, events.ListingRemoved{
			ListingID: l.ListingID,
			OwnerID:   offer.OwnerID,
			Reason:    "expired",
		})
	}
}

func (s *Service) publish(ctx context.Context, topic string, event any) {
	if err := s.events.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("[MARKET] Error publishing %s event: %v", topic, err)
	}
}

func total(quantity, price int64) (int64, error) {
	if price > math.MaxInt64/quantity {
		return 0, types.NewError(types.ErrInvalidAmount, "that total is too large")
	}
	return quantity * price, nil
}
