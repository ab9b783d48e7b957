package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/logging"
	"github.com/samjaninf/stelace-sub000/internal/metrics"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/pricing"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var ErrCancellationNotFound = errors.New("cancellation not found")

// ICancellationService ends bookings early and unwinds their payments.
type ICancellationService interface {
	CancelBooking(ctx context.Context, b *models.Booking, reason models.CancellationReason, trigger models.CancellationTrigger, note string) (*models.Cancellation, error)
	GetForBooking(ctx context.Context, bookingID utils.SixID) (*models.Cancellation, error)
}

type cancellationService struct {
	db       *mongo.Database
	payments IPaymentService
	notifier Notifier
	now      clock
}

func NewCancellationService(database *mongo.Database, payments IPaymentService, notifier Notifier) ICancellationService {
	return &cancellationService{db: database, payments: payments, notifier: notifier, now: utcNow}
}

func (s *cancellationService) CancelBooking(ctx context.Context, b *models.Booking, reason models.CancellationReason,
	trigger models.CancellationTrigger, note string) (*models.Cancellation, error) {
	now := s.now()
	cancellation := &models.Cancellation{
		BookingID: b.ID,
		ListingID: b.ListingID,
		OwnerID:   b.OwnerID,
		TakerID:   b.TakerID,
		Reason:    reason,
		Trigger:   trigger,
		Note:      note,
		CreatedAt: now,
	}
	cancellation.GenID()

	bookings := s.db.Collection(db.Bookings)
	var before models.Booking
	err := bookings.FindOneAndUpdate(ctx,
		bson.M{"_id": b.ID, "cancellation_id": nil, "completed_date": nil},
		bson.M{"$set": bson.M{"cancellation_id": cancellation.ID, "updated_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := bookings.CountDocuments(ctx, bson.M{"_id": b.ID})
		if cerr == nil && n == 0 {
			return nil, ErrBookingNotFound
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking %s: %w", b.ID, err)
	}

	refund := pricing.RefundAmount(before.Price, pricing.Policy(trigger, before.ConfirmedDate != nil))
	if before.ConfirmedDate != nil {
		cancellation.RefundAmount = refund
	}
	if _, err := s.db.Collection(db.Cancellations).InsertOne(ctx, cancellation); err != nil {
		return nil, fmt.Errorf("failed to store cancellation of booking %s: %w", b.ID, err)
	}
	metrics.RecordBookingTransition("cancelled_" + string(trigger))

	log := logrus.WithFields(logrus.Fields{"bookingID": b.ID, "reason": reason, "trigger": trigger})
	if err := s.payments.Reverse(ctx, &before, refund); err != nil {
		logging.Critical(log.WithError(err), "failed to reverse payments of cancelled booking")
	}
	if before.StockTaken {
		s.restoreStock(ctx, &before, log)
	}

	data := map[string]interface{}{
		"booking_id":    b.ID.String(),
		"listing_id":    b.ListingID.String(),
		"reason":        string(reason),
		"refund_amount": cancellation.RefundAmount,
		"currency":      before.Price.Currency,
	}
	var recipients []utils.SixID
	switch trigger {
	case models.TriggerOwner:
		recipients = []utils.SixID{before.TakerID}
	case models.TriggerTaker:
		recipients = []utils.SixID{before.OwnerID}
	default:
		recipients = []utils.SixID{before.TakerID, before.OwnerID}
	}
	for _, userID := range recipients {
		if err := s.notifier.NotifyUser(ctx, userID, EventBookingCancelled, data); err != nil {
			log.WithError(err).Warn("failed to queue cancellation notification")
		}
	}
	return cancellation, nil
}

// restoreStock gives the units of a confirmed sale back to the listing, once.
func (s *cancellationService) restoreStock(ctx context.Context, b *models.Booking, log *logrus.Entry) {
	res, err := s.db.Collection(db.Bookings).UpdateOne(ctx,
		bson.M{"_id": b.ID, "stock_taken": true},
		bson.M{"$set": bson.M{"stock_taken": false}},
	)
	if err != nil {
		logging.Critical(log.WithError(err), "failed to release sale stock")
		return
	}
	if res.ModifiedCount == 0 {
		return
	}
	if _, err := s.db.Collection(db.Listings).UpdateOne(ctx,
		bson.M{"_id": b.ListingID},
		bson.M{"$inc": bson.M{"quantity": b.Quantity}},
	); err != nil {
		logging.Critical(log.WithError(err), "failed to give sale stock back to listing")
	}
}

func (s *cancellationService) GetForBooking(ctx context.Context, bookingID utils.SixID) (*models.Cancellation, error) {
	var c models.Cancellation
	if err := s.db.Collection(db.Cancellations).FindOne(ctx, bson.M{"booking_id": bookingID}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCancellationNotFound
		}
		return nil, fmt.Errorf("failed to load cancellation of booking %s: %w", bookingID, err)
	}
	return &c, nil
}
