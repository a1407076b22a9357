package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/baraholka/api/internal/domain"
	pfirestore "github.com/baraholka/api/internal/platform/firestore"
)

const transactionsCollection = "transactions"

type transactionDocument struct {
	UserID    string            `firestore:"userId"`
	Type      string            `firestore:"type"`
	Direction string            `firestore:"direction"`
	Amount    int64             `firestore:"amount"`
	Currency  string            `firestore:"currency"`
	Kind      string            `firestore:"kind"`
	Reason    string            `firestore:"reason"`
	Metadata  map[string]string `firestore:"metadata,omitempty"`
	CreatedAt time.Time         `firestore:"createdAt"`
}

// TransactionRepository implements repositories.TransactionRepository. The
// collection is append-only; no update or delete path exists.
type TransactionRepository struct {
	transactions *pfirestore.BaseRepository[transactionDocument]
}

// NewTransactionRepository constructs a Firestore-backed transaction repository.
func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	return &TransactionRepository{
		transactions: pfirestore.NewBaseRepository[transactionDocument](provider, transactionsCollection),
	}, nil
}

// Append records a ledger entry, failing on duplicate ids.
func (r *TransactionRepository) Append(ctx context.Context, txn domain.Transaction) error {
	return r.transactions.Create(ctx, txn.ID, transactionDocument{
		UserID:    txn.UserID,
		Type:      string(txn.Type),
		Direction: string(txn.Direction),
		Amount:    txn.Amount,
		Currency:  txn.Currency,
		Kind:      string(txn.Kind),
		Reason:    txn.Reason,
		Metadata:  txn.Metadata,
		CreatedAt: txn.CreatedAt,
	})
}

// ListByUser returns the user's ledger entries, newest first.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	docs, err := r.transactions.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.Transaction{
			ID:        doc.ID,
			UserID:    doc.Data.UserID,
			Type:      domain.TransactionType(doc.Data.Type),
			Direction: domain.TransactionDirection(doc.Data.Direction),
			Amount:    doc.Data.Amount,
			Currency:  doc.Data.Currency,
			Kind:      domain.TransactionKind(doc.Data.Kind),
			Reason:    doc.Data.Reason,
			Metadata:  doc.Data.Metadata,
			CreatedAt: doc.Data.CreatedAt,
		})
	}
	return out, nil
}
