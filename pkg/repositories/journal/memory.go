package journal

import (
	"context"
	"sync"
	"time"

	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/google/uuid"
)

// MemoryRepository implements Repository using in-memory storage
type MemoryRepository struct {
	transactions map[string][]*entities.Transaction
	mu           sync.RWMutex
}

// NewMemoryRepository creates a new in-memory journal
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		transactions: make(map[string][]*entities.Transaction),
	}
}

// AddTransaction records a new transaction
func (r *MemoryRepository) AddTransaction(ctx context.Context, transaction *entities.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if transaction.ID == "" {
		transaction.ID = uuid.New().String()
	}
	if transaction.Timestamp.IsZero() {
		transaction.Timestamp = time.Now()
	}

	txCopy := *transaction
	r.transactions[transaction.UserID] = append(r.transactions[transaction.UserID], &txCopy)
	return nil
}

// GetTransactions retrieves recent transactions for a user
func (r *MemoryRepository) GetTransactions(ctx context.Context, userID string, limit int) ([]*entities.Transaction, error) {
	return r.collect(userID, limit, func(*entities.Transaction) bool { return true }), nil
}

// GetTransactionsByType retrieves transactions of a specific type
func (r *MemoryRepository) GetTransactionsByType(ctx context.Context, userID string, transactionType entities.TransactionType, limit int) ([]*entities.Transaction, error) {
	return r.collect(userID, limit, func(tx *entities.Transaction) bool { return tx.Type == transactionType }), nil
}

func (r *MemoryRepository) collect(userID string, limit int, keep func(*entities.Transaction) bool) []*entities.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.transactions[userID]
	var result []*entities.Transaction

	// Walk backwards so the newest come first
	for i := len(history) - 1; i >= 0; i-- {
		if !keep(history[i]) {
			continue
		}
		txCopy := *history[i]
		result = append(result, &txCopy)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result
}

// Close implements Repository
func (r *MemoryRepository) Close() error {
	return nil
}
