package events

import (
	"context"
	"strings"

	"github.com/fadedpez/cantina/pkg/entities"
)

// Event topic constants
const (
	TopicCaseCreated = "moderation.case.created"
	TopicCaseDeleted = "moderation.case.deleted"

	TopicListingCreated = "market.listing.created"
	TopicListingRemoved = "market.listing.removed"
	TopicListingSold    = "market.listing.sold"

	TopicRewardClaimed = "economy.reward.claimed"
)

// LedgerTopic returns the topic for a ledger transaction, e.g. "economy.deposit"
func LedgerTopic(t entities.TransactionType) string {
	return "economy." + strings.ToLower(string(t))
}

// Event types

type CaseCreated struct {
	Case *entities.CaseEntry `json:"case"`
}

type CaseDeleted struct {
	GuildID    string                `json:"guild_id"`
	SubjectID  string                `json:"subject_id"`
	Category   entities.CaseCategory `json:"category"`
	CaseNumber int                   `json:"case_number"`
}

type LedgerChanged struct {
	TransactionID string                   `json:"transaction_id"`
	UserID        string                   `json:"user_id"`
	Type          entities.TransactionType `json:"type"`
	Amount        int64                    `json:"amount"`
	PurseAfter    int64                    `json:"purse_after"`
	BankAfter     int64                    `json:"bank_after"`
}

type ListingCreated struct {
	ListingID string         `json:"listing_id"`
	OwnerID   string         `json:"owner_id"`
	Payload   map[string]any `json:"payload"`
	ExpiresAt int64          `json:"expires_at"`
}

type ListingRemoved struct {
	ListingID string `json:"listing_id"`
	OwnerID   string `json:"owner_id"`
	Reason    string `json:"reason"` // "cancelled" or "expired"
}

type ListingSold struct {
	ListingID string `json:"listing_id"`
	SellerID  string `json:"seller_id"`
	BuyerID   string `json:"buyer_id"`
	Item      string `json:"item"`
	Quantity  int64  `json:"quantity"`
	Total     int64  `json:"total"`
}

type RewardClaimed struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
	Streak int64  `json:"streak"`
}

// Publisher is the interface for emitting events.
//
//go:generate mockgen -source=$GOFILE -destination=mock/mock.go -package=mock_events
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
