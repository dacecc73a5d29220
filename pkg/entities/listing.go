package entities

import (
	"time"

	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/record"
)

// Listing is an entry of an expiring listing set. Times are unix seconds.
type Listing struct {
	ListingID string
	OwnerID   string
	Payload   storage.Record
	CreatedAt int64
	ExpiresAt int64
}

// Live reports whether the listing has not expired at now
func (l *Listing) Live(now time.Time) bool {
	return now.Unix() < l.ExpiresAt
}

// ToRecord returns the stored form of the listing
func (l *Listing) ToRecord() storage.Record {
	payload := l.Payload
	if payload == nil {
		payload = storage.Record{}
	}
	return storage.Record{
		"listing_id": l.ListingID,
		"owner_id":   l.OwnerID,
		"payload":    payload,
		"created_at": l.CreatedAt,
		"expires_at": l.ExpiresAt,
	}
}

// ListingFrom reads a stored listing
func ListingFrom(id string, v any) (*Listing, error) {
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, types.Errorf(types.ErrPathConflict, "listing %s holds %T, expected a record", id, v)
	}

	l := &Listing{ListingID: id}
	l.OwnerID, _ = rec["owner_id"].(string)
	l.CreatedAt, _ = record.AsInt(rec["created_at"])

	expires, ok := record.AsInt(rec["expires_at"])
	if !ok {
		return nil, types.Errorf(types.ErrPathConflict, "listing %s has no expires_at", id)
	}
	l.ExpiresAt = expires

	switch p := rec["payload"].(type) {
	case map[string]any:
		l.Payload = p
	case nil:
		l.Payload = storage.Record{}
	default:
		return nil, types.Errorf(types.ErrPathConflict, "listing %s payload holds %T", id, p)
	}
	return l, nil
}
