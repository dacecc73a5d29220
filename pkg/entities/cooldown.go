package entities

import (
	"time"

	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/record"
)

// Cooldown tracks when a repeating reward was last claimed and the current streak
type Cooldown struct {
	Name   string
	Last   int64 // unix seconds, 0 when never claimed
	Streak int64
}

func cooldownPath(name string, field string) []string {
	return []string{"cooldowns", name, field}
}

// CooldownFrom reads the named cooldown from an economy record, materializing it if missing
func CooldownFrom(rec storage.Record, name string) (*Cooldown, bool, error) {
	last, c1, err := record.Int(rec, cooldownPath(name, "last"), 0)
	if err != nil {
		return nil, false, err
	}
	streak, c2, err := record.Int(rec, cooldownPath(name, "streak"), 0)
	if err != nil {
		return nil, false, err
	}
	return &Cooldown{Name: name, Last: last, Streak: streak}, c1 || c2, nil
}

// Apply writes the cooldown back into rec
func (c *Cooldown) Apply(rec storage.Record) error {
	if err := record.Set(rec, cooldownPath(c.Name, "last"), c.Last); err != nil {
		return err
	}
	return record.Set(rec, cooldownPath(c.Name, "streak"), c.Streak)
}

// Ready reports whether period has passed since the last claim
func (c *Cooldown) Ready(now time.Time, period time.Duration) bool {
	return c.Last == 0 || now.Sub(time.Unix(c.Last, 0)) >= period
}

// Remaining returns how long until the cooldown is ready
func (c *Cooldown) Remaining(now time.Time, period time.Duration) time.Duration {
	if c.Ready(now, period) {
		return 0
	}
	return time.Unix(c.Last, 0).Add(period).Sub(now)
}
