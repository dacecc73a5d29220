package journal

import (
	"context"

	"github.com/fadedpez/cantina/pkg/entities"
)

// Repository is the append-only history of ledger changes. The economy document
// holds the balances; the journal only records how they got there.
type Repository interface {
	// AddTransaction records a new transaction
	AddTransaction(ctx context.Context, transaction *entities.Transaction) error

	// GetTransactions retrieves recent transactions for a user, newest first
	GetTransactions(ctx context.Context, userID string, limit int) ([]*entities.Transaction, error)

	// GetTransactionsByType retrieves transactions of a specific type, newest first
	GetTransactionsByType(ctx context.Context, userID string, transactionType entities.TransactionType, limit int) ([]*entities.Transaction, error)

	// Close releases the underlying resources
	Close() error
}
