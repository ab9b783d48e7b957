package services

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/metrics"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/payment"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPaymentDeclined     = errors.New("payment declined")
	ErrPaymentFailed       = errors.New("payment provider error")

	// ErrPaymentPending means the provider accepted the operation and will
	// report its outcome through a webhook.
	ErrPaymentPending = errors.New("payment is being processed")
)

// TransactionKey is the idempotency key of a booking payment step.
func TransactionKey(bookingID utils.SixID, action models.TransactionAction, label models.TransactionLabel) string {
	return fmt.Sprintf("%s:%s:%s", bookingID, action, label)
}

// ProviderCall performs one provider operation under the given idempotency key.
type ProviderCall func(ctx context.Context, idempotencyKey string) (payment.Result, error)

// ITransactionService is the payment ledger.
type ITransactionService interface {
	// Execute records tx and runs call unless a transaction with the same key
	// already succeeded, in which case that transaction is returned as is.
	// Operations still awaiting the provider yield ErrPaymentPending.
	Execute(ctx context.Context, tx *models.Transaction, call ProviderCall) (*models.Transaction, error)
	// Find returns the ledger entry of a booking step.
	Find(ctx context.Context, bookingID utils.SixID, action models.TransactionAction, label models.TransactionLabel) (*models.Transaction, error)
	ListForBooking(ctx context.Context, bookingID utils.SixID) ([]models.Transaction, error)
	// ApplyOutcome settles a pending transaction from an asynchronous provider
	// notification. It returns the transaction carrying that outcome, if any,
	// and whether this call changed it.
	ApplyOutcome(ctx context.Context, providerRef string, status payment.Status) (*models.Transaction, bool, error)
}

type transactionService struct {
	db  *mongo.Database
	now clock
}

func NewTransactionService(database *mongo.Database) ITransactionService {
	return &transactionService{db: database, now: utcNow}
}

func (s *transactionService) collection() *mongo.Collection {
	return s.db.Collection(db.Transactions)
}

func (s *transactionService) findOne(ctx context.Context, filter bson.M) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.collection().FindOne(ctx, filter).Decode(&tx); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &tx, nil
}

func (s *transactionService) Execute(ctx context.Context, tx *models.Transaction, call ProviderCall) (*models.Transaction, error) {
	tx.IdempotencyKey = TransactionKey(tx.BookingID, tx.Action, tx.Label)
	tx.ProviderKey = tx.IdempotencyKey
	tx.Status = models.TransactionPending
	tx.Touch(s.now())

	if err := db.InsertUnique(ctx, s.collection(), tx); err != nil {
		if !db.IsDuplicateKey(err) {
			return nil, fmt.Errorf("failed to record transaction %s: %w", tx.IdempotencyKey, err)
		}
		existing, err := s.findOne(ctx, bson.M{"idempotency_key": tx.IdempotencyKey})
		if err != nil {
			return nil, err
		}
		switch existing.Status {
		case models.TransactionSucceeded:
			return existing, nil
		case models.TransactionPending:
			if existing.ProviderRef != "" {
				// Accepted by the provider, settled by its notification.
				return existing, ErrPaymentPending
			}
		case models.TransactionFailed:
			if existing, err = s.reopen(ctx, existing); err != nil {
				return nil, err
			}
		}
		tx = existing
	}
	if tx.ProviderKey == "" {
		tx.ProviderKey = tx.IdempotencyKey
	}

	if _, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": tx.ID},
		bson.M{"$inc": bson.M{"attempts": 1}, "$set": bson.M{"updated_at": s.now()}},
	); err != nil {
		return nil, fmt.Errorf("failed to count attempt of %s: %w", tx.IdempotencyKey, err)
	}

	res, callErr := call(ctx, tx.ProviderKey)
	now := s.now()
	notSucceeded := bson.M{"_id": tx.ID, "status": bson.M{"$ne": models.TransactionSucceeded}}

	if callErr != nil {
		metrics.RecordPaymentOperation(string(tx.Action), "error")
		if _, err := s.collection().UpdateOne(ctx, notSucceeded, bson.M{"$set": bson.M{
			"status": models.TransactionFailed, "error": callErr.Error(), "updated_at": now,
		}}); err != nil {
			return nil, fmt.Errorf("failed to record failure of %s: %w", tx.IdempotencyKey, err)
		}
		if errors.Is(callErr, payment.ErrDeclined) {
			return nil, fmt.Errorf("%w: %v", ErrPaymentDeclined, callErr)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrPaymentFailed, tx.IdempotencyKey, callErr)
	}

	set := bson.M{"provider_ref": res.Ref, "updated_at": now}
	switch res.Status {
	case payment.StatusSucceeded:
		set["status"] = models.TransactionSucceeded
		set["executed_date"] = now
		set["error"] = ""
	case payment.StatusFailed:
		set["status"] = models.TransactionFailed
		set["error"] = "declined by provider"
	}
	metrics.RecordPaymentOperation(string(tx.Action), string(res.Status))

	var updated models.Transaction
	err := s.collection().FindOneAndUpdate(ctx, notSucceeded, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		// A webhook settled it first.
		settled, err := s.findOne(ctx, bson.M{"_id": tx.ID})
		if err != nil {
			return nil, err
		}
		updated = *settled
	case err != nil:
		return nil, fmt.Errorf("failed to record result of %s: %w", tx.IdempotencyKey, err)
	}
	switch updated.Status {
	case models.TransactionFailed:
		return &updated, ErrPaymentDeclined
	case models.TransactionPending:
		return &updated, ErrPaymentPending
	}
	return &updated, nil
}

// reopen turns a failed entry back to pending under a fresh provider key. A
// failed operation is final on the provider side, so the same key would only
// replay the failure.
func (s *transactionService) reopen(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	var reopened models.Transaction
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": tx.ID, "status": models.TransactionFailed},
		bson.M{
			"$set": bson.M{
				"status":       models.TransactionPending,
				"provider_key": fmt.Sprintf("%s:%d", tx.IdempotencyKey, tx.Attempts),
				"updated_at":   s.now(),
			},
			"$unset": bson.M{"provider_ref": ""},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&reopened)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Reopened or settled concurrently.
		return s.findOne(ctx, bson.M{"_id": tx.ID})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reopen transaction %s: %w", tx.IdempotencyKey, err)
	}
	return &reopened, nil
}

func (s *transactionService) Find(ctx context.Context, bookingID utils.SixID, action models.TransactionAction, label models.TransactionLabel) (*models.Transaction, error) {
	return s.findOne(ctx, bson.M{"idempotency_key": TransactionKey(bookingID, action, label)})
}

func (s *transactionService) ListForBooking(ctx context.Context, bookingID utils.SixID) ([]models.Transaction, error) {
	cursor, err := s.collection().Find(ctx, bson.M{"booking_id": bookingID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions of booking %s: %w", bookingID, err)
	}
	txs := []models.Transaction{}
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return txs, nil
}

func (s *transactionService) ApplyOutcome(ctx context.Context, providerRef string, status payment.Status) (*models.Transaction, bool, error) {
	if providerRef == "" {
		return nil, false, nil
	}
	now := s.now()
	set := bson.M{"updated_at": now}
	var final models.TransactionStatus
	switch status {
	case payment.StatusSucceeded:
		final = models.TransactionSucceeded
		set["executed_date"] = now
	case payment.StatusFailed:
		final = models.TransactionFailed
		set["error"] = "failed per provider notification"
	default:
		return nil, false, nil
	}
	set["status"] = final

	var tx models.Transaction
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"provider_ref": providerRef, "status": models.TransactionPending},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&tx)
	if err == nil {
		return &tx, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("failed to apply %s to %s: %w", status, providerRef, err)
	}
	// Already settled, possibly by an earlier delivery of the same event.
	existing, err := s.findOne(ctx, bson.M{"provider_ref": providerRef})
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if existing.Status != final {
		return nil, false, nil
	}
	return existing, false, nil
}
