package entities

import (
	"time"
)

// TransactionType represents the type of ledger transaction
type TransactionType string

const (
	TransactionTypeDeposit     TransactionType = "DEPOSIT"
	TransactionTypeWithdraw    TransactionType = "WITHDRAW"
	TransactionTypeCredit      TransactionType = "CREDIT"
	TransactionTypeDebit       TransactionType = "DEBIT"
	TransactionTypeTransferIn  TransactionType = "TRANSFER_IN"
	TransactionTypeTransferOut TransactionType = "TRANSFER_OUT"
	TransactionTypeSale        TransactionType = "MARKET_SALE"
	TransactionTypePurchase    TransactionType = "MARKET_PURCHASE"
	TransactionTypeDaily       TransactionType = "DAILY"
)

// Transaction represents a single journaled ledger change
type Transaction struct {
	ID          string          // Unique identifier
	UserID      string          // User whose ledger changed
	Amount      int64           // Amount moved (always positive; Type gives the direction)
	Type        TransactionType // Type of transaction
	ReferenceID string          // Optional reference (e.g., listing ID for market trades)
	Description string          // Human-readable description
	Timestamp   time.Time       // When the transaction occurred
	PurseAfter  int64           // Purse after this transaction
	BankAfter   int64           // Bank after this transaction
}
