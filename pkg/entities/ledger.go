package entities

import (
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/record"
)

const (
	// DefaultBankCap is the bank capacity of a new ledger
	DefaultBankCap int64 = 25000
	// StartingPurse is the purse of a new ledger
	StartingPurse int64 = 0
)

// Ledger is the balance view of an economy record
type Ledger struct {
	UserID  string
	Purse   int64
	Bank    int64
	BankCap int64
}

// NewLedgerRecord returns the record a new user starts with
func NewLedgerRecord(bankCap int64) storage.Record {
	if bankCap <= 0 {
		bankCap = DefaultBankCap
	}
	return storage.Record{
		"purse":    StartingPurse,
		"bank":     int64(0),
		"bank_cap": bankCap,
	}
}

// LedgerFrom reads the ledger fields of rec, materializing missing fields with
// their defaults. created reports whether rec was changed.
func LedgerFrom(userID string, rec storage.Record, bankCap int64) (*Ledger, bool, error) {
	if bankCap <= 0 {
		bankCap = DefaultBankCap
	}

	purse, c1, err := record.Int(rec, []string{"purse"}, StartingPurse)
	if err != nil {
		return nil, false, err
	}
	bank, c2, err := record.Int(rec, []string{"bank"}, 0)
	if err != nil {
		return nil, false, err
	}
	capacity, c3, err := record.Int(rec, []string{"bank_cap"}, bankCap)
	if err != nil {
		return nil, false, err
	}

	l := &Ledger{
		UserID:  userID,
		Purse:   purse,
		Bank:    bank,
		BankCap: capacity,
	}
	return l, c1 || c2 || c3, nil
}

// Apply writes the balance fields back into rec
func (l *Ledger) Apply(rec storage.Record) {
	rec["purse"] = l.Purse
	rec["bank"] = l.Bank
	rec["bank_cap"] = l.BankCap
}

// Validate checks the balance invariants
func (l *Ledger) Validate() error {
	if l.Purse < 0 || l.Bank < 0 {
		return types.Errorf(types.ErrInternalError, "ledger %s has a negative balance (purse %d, bank %d)", l.UserID, l.Purse, l.Bank)
	}
	if l.BankCap <= 0 {
		return types.Errorf(types.ErrInternalError, "ledger %s has a non-positive bank cap %d", l.UserID, l.BankCap)
	}
	if l.Bank > l.BankCap {
		return types.Errorf(types.ErrInternalError, "ledger %s bank %d exceeds cap %d", l.UserID, l.Bank, l.BankCap)
	}
	return nil
}

// Total returns purse plus bank
func (l *Ledger) Total() int64 {
	return l.Purse + l.Bank
}

// InventoryQty returns how many of item the record holds
func InventoryQty(rec storage.Record, item string) (int64, error) {
	v, ok, err := record.Get(rec, []string{"inventory", item})
	if err != nil || !ok {
		return 0, err
	}
	n, ok := record.AsInt(v)
	if !ok {
		return 0, types.Errorf(types.ErrPathConflict, "inventory.%s holds %T, expected a quantity", item, v)
	}
	return n, nil
}

// Inventory returns every item the record holds with its quantity
func Inventory(rec storage.Record) (map[string]int64, error) {
	items := make(map[string]int64)
	v, ok, err := record.Get(rec, []string{"inventory"})
	if err != nil || !ok {
		return items, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, types.Errorf(types.ErrPathConflict, "inventory holds %T, expected a record", v)
	}
	for item, qty := range m {
		n, ok := record.AsInt(qty)
		if !ok {
			return nil, types.Errorf(types.ErrPathConflict, "inventory.%s holds %T, expected a quantity", item, qty)
		}
		items[item] = n
	}
	return items, nil
}

// AdjustInventory adds delta of item to the record. Quantities never go negative;
// an item whose quantity reaches zero is removed.
func AdjustInventory(rec storage.Record, item string, delta int64) error {
	have, err := InventoryQty(rec, item)
	if err != nil {
		return err
	}
	next := have + delta
	if next < 0 {
		return types.Errorf(types.ErrInvalidAmount, "only %d %s in inventory", have, item)
	}
	if next == 0 {
		_, err := record.Delete(rec, []string{"inventory", item})
		return err
	}
	return record.Set(rec, []string{"inventory", item}, next)
}
