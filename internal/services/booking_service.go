package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/availability"
	"github.com/samjaninf/stelace-sub000/internal/cache"
	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/logging"
	"github.com/samjaninf/stelace-sub000/internal/metrics"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/pricing"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrOwnBooking      = errors.New("owners cannot book their own listing")
	ErrBookingExpired  = errors.New("the response window of this booking has passed")
	ErrNotCompletable  = errors.New("booking cannot be completed yet")
)

const (
	maxBookingsPerPage = 100
	sweepBatchSize     = 200
	// repairGrace leaves in-flight confirmations alone before the sweep
	// finishes them.
	repairGrace = 5 * time.Minute
)

type BookingInput struct {
	ListingID utils.SixID `json:"listing_id" validate:"required"`
	StartDate time.Time   `json:"start_date"`
	EndDate   time.Time   `json:"end_date"`
	Quantity  int         `json:"quantity" validate:"omitempty,gte=1,lte=1000"`
}

// IBookingService drives bookings from request to completion.
type IBookingService interface {
	Create(ctx context.Context, takerID utils.SixID, in BookingInput) (*models.Booking, error)
	Accept(ctx context.Context, ownerID, bookingID utils.SixID) (*models.Booking, error)
	Pay(ctx context.Context, takerID, bookingID utils.SixID) (*models.Booking, error)
	Reject(ctx context.Context, ownerID, bookingID utils.SixID, note string) (*models.Cancellation, error)
	// Cancel is open to both parties and to admins.
	Cancel(ctx context.Context, actorID, bookingID utils.SixID, note string) (*models.Cancellation, error)
	Complete(ctx context.Context, bookingID utils.SixID) (*models.Booking, error)
	Get(ctx context.Context, userID, bookingID utils.SixID) (*models.Booking, error)
	List(ctx context.Context, userID utils.SixID, role models.BookingRole, status models.BookingStatus) ([]models.Booking, error)
	// ExpireStale cancels bookings left unanswered or unpaid past their due date.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	// CompleteDue completes eligible bookings and retries pending payouts.
	CompleteDue(ctx context.Context, now time.Time) (int, error)
	// ResumePayment continues the booking of a transaction settled by a
	// provider notification.
	ResumePayment(ctx context.Context, tx *models.Transaction) error
}

type bookingService struct {
	db            *mongo.Database
	cfg           *config.Config
	locker        cache.Locker
	listings      IListingService
	users         IUserService
	snapshots     ISnapshotService
	settings      ISettingsService
	payments      IPaymentService
	cancellations ICancellationService
	conversations IConversationService
	gamification  IGamificationService
	notifier      Notifier
	now           clock
}

func NewBookingService(database *mongo.Database, cfg *config.Config, locker cache.Locker, listings IListingService, users IUserService,
	snapshots ISnapshotService, settings ISettingsService, payments IPaymentService, cancellations ICancellationService,
	conversations IConversationService, gamification IGamificationService, notifier Notifier) IBookingService {
	return &bookingService{
		db:            database,
		cfg:           cfg,
		locker:        locker,
		listings:      listings,
		users:         users,
		snapshots:     snapshots,
		settings:      settings,
		payments:      payments,
		cancellations: cancellations,
		conversations: conversations,
		gamification:  gamification,
		notifier:      notifier,
		now:           utcNow,
	}
}

func (s *bookingService) collection() *mongo.Collection {
	return s.db.Collection(db.Bookings)
}

// dueDate is now+ttl, pulled in to the start of a rental that begins earlier.
func dueDate(now, start time.Time, ttl time.Duration, rental bool) time.Time {
	due := now.Add(ttl)
	if rental && start.After(now) && start.Before(due) {
		return start
	}
	return due
}

func bookingData(b *models.Booking) map[string]interface{} {
	return map[string]interface{}{
		"booking_id":  b.ID.String(),
		"listing_id":  b.ListingID.String(),
		"start_date":  b.StartDate,
		"end_date":    b.EndDate,
		"quantity":    b.Quantity,
		"taker_price": b.Price.TakerPrice,
		"currency":    b.Price.Currency,
	}
}

func (s *bookingService) notify(ctx context.Context, b *models.Booking, event NotificationEvent, userIDs ...utils.SixID) {
	for _, userID := range userIDs {
		if err := s.notifier.NotifyUser(ctx, userID, event, bookingData(b)); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"bookingID": b.ID, "event": event}).Warn("failed to queue booking notification")
		}
	}
}

func (s *bookingService) Create(ctx context.Context, takerID utils.SixID, in BookingInput) (*models.Booking, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	listing, err := s.listings.GetByID(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	if !listing.Bookable() {
		return nil, ErrListingUnavailable
	}
	if listing.OwnerID == takerID {
		return nil, ErrOwnBooking
	}

	now := s.now()
	rental := listing.Type == models.ListingTypeRental
	start, end := in.StartDate.UTC(), in.EndDate.UTC()
	if !rental {
		start, end = now, now
	} else if start.Before(now.Truncate(24 * time.Hour)) {
		return nil, fmt.Errorf("%w: start date is in the past", ErrValidation)
	}

	price, err := pricing.Breakdown(pricing.Input{
		Type:      listing.Type,
		Pricing:   listing.Pricing,
		SalePrice: listing.SalePrice,
		Deposit:   listing.Deposit,
		Start:     start,
		End:       end,
		Quantity:  in.Quantity,
		Currency:  listing.Currency(s.cfg.DefaultCurrency),
		Fees:      s.settings.Fees(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	snapshot, err := s.snapshots.Snapshot(ctx, models.SnapshotListing, listing.ID, listing)
	if err != nil {
		return nil, err
	}

	booking := &models.Booking{
		ListingID:         listing.ID,
		ListingType:       listing.Type,
		OwnerID:           listing.OwnerID,
		TakerID:           takerID,
		Quantity:          in.Quantity,
		StartDate:         start,
		EndDate:           end,
		Price:             price,
		ListingSnapshotID: snapshot.ID,
		AcceptDueDate:     dueDate(now, start, s.cfg.BookingAcceptTTL, rental),
		PaymentDueDate:    dueDate(now, start, s.cfg.BookingPaymentTTL, rental),
	}
	booking.Touch(now)

	err = s.locker.WithLock(ctx, listingLock(listing.ID), func(ctx context.Context) error {
		if err := s.checkCapacity(ctx, booking); err != nil {
			return err
		}
		return db.InsertOne(ctx, s.collection(), booking)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordBookingTransition("created")

	log := logrus.WithField("bookingID", booking.ID)
	conv, err := s.conversations.FindOrCreate(ctx, listing, takerID, nil)
	if err == nil {
		err = s.conversations.LinkBooking(ctx, conv.ID, booking.ID)
	}
	if err != nil {
		log.WithError(err).Warn("failed to attach conversation to booking")
	} else {
		booking.ConversationID = &conv.ID
		if _, err := s.collection().UpdateOne(ctx, bson.M{"_id": booking.ID}, bson.M{"$set": bson.M{"conversation_id": conv.ID}}); err != nil {
			log.WithError(err).Warn("failed to store booking conversation")
		}
	}

	s.notify(ctx, booking, EventBookingRequested, booking.OwnerID)
	if _, err := s.gamification.RecordAction(ctx, takerID, ActionFirstBooking); err != nil {
		log.WithError(err).Warn("failed to record first booking")
	}
	return booking, nil
}

// checkCapacity verifies the listing can still hold b next to the other
// blocking bookings. Callers hold the listing lock.
func (s *bookingService) checkCapacity(ctx context.Context, b *models.Booking) error {
	listing, err := s.listings.GetByID(ctx, b.ListingID)
	if err != nil {
		return err
	}
	if listing.Deleted {
		return ErrListingUnavailable
	}
	if listing.Type == models.ListingTypeSale {
		if err := availability.CheckStock(listing.Quantity, b.Quantity); err != nil {
			return fmt.Errorf("%w: %v", ErrListingUnavailable, err)
		}
		return nil
	}
	var exclude *utils.SixID
	if !b.ID.IsZero() {
		exclude = &b.ID
	}
	periods, err := s.listings.Periods(ctx, listing, exclude)
	if err != nil {
		return err
	}
	if err := availability.Check(listing.Quantity, periods, b.StartDate, b.EndDate, b.Quantity); err != nil {
		return fmt.Errorf("%w: %v", ErrListingUnavailable, err)
	}
	return nil
}

// transition applies set to a live booking matching cond. A booking that no
// longer matches yields ErrInvalidTransition.
func (s *bookingService) transition(ctx context.Context, bookingID utils.SixID, cond, set bson.M) (*models.Booking, error) {
	filter := bson.M{"_id": bookingID, "cancellation_id": nil, "completed_date": nil}
	for k, v := range cond {
		filter[k] = v
	}
	set["updated_at"] = s.now()
	var b models.Booking
	err := s.collection().FindOneAndUpdate(ctx, filter, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := s.getByID(ctx, bookingID); gerr != nil {
			return nil, gerr
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update booking %s: %w", bookingID, err)
	}
	return &b, nil
}

func (s *bookingService) getByID(ctx context.Context, bookingID utils.SixID) (*models.Booking, error) {
	var b models.Booking
	if err := s.collection().FindOne(ctx, bson.M{"_id": bookingID}).Decode(&b); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to load booking %s: %w", bookingID, err)
	}
	return &b, nil
}

func (s *bookingService) Get(ctx context.Context, userID, bookingID utils.SixID) (*models.Booking, error) {
	b, err := s.getByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(userID) {
		return nil, ErrForbidden
	}
	return b, nil
}

func (s *bookingService) Accept(ctx context.Context, ownerID, bookingID utils.SixID) (*models.Booking, error) {
	b, err := s.getByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	if b.AcceptedDate != nil || b.CancellationID != nil || b.CompletedDate != nil {
		return nil, ErrInvalidTransition
	}
	now := s.now()
	if now.After(b.AcceptDueDate) {
		return nil, ErrBookingExpired
	}

	var accepted *models.Booking
	err = s.locker.WithLock(ctx, listingLock(b.ListingID), func(ctx context.Context) error {
		if err := s.checkCapacity(ctx, b); err != nil {
			return err
		}
		accepted, err = s.transition(ctx, bookingID, bson.M{"accepted_date": nil}, bson.M{"accepted_date": now})
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordBookingTransition("accepted")

	if accepted.Status() == models.BookingConfirmed {
		return s.confirm(ctx, accepted)
	}
	s.notify(ctx, accepted, EventBookingAccepted, accepted.TakerID)
	return accepted, nil
}

func (s *bookingService) Pay(ctx context.Context, takerID, bookingID utils.SixID) (*models.Booking, error) {
	b, err := s.getByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.TakerID != takerID {
		return nil, ErrForbidden
	}
	if b.PaidDate != nil || b.CancellationID != nil || b.CompletedDate != nil {
		return nil, ErrInvalidTransition
	}
	now := s.now()
	if now.After(b.PaymentDueDate) {
		return nil, ErrBookingExpired
	}
	taker, err := s.users.GetByID(ctx, takerID)
	if err != nil {
		return nil, err
	}
	if !taker.CanPay() {
		return nil, ErrPaymentAccountRequired
	}
	return s.pay(ctx, b, taker)
}

// pay holds the funds of b and marks it paid, confirming it when the owner
// already accepted. Holds still awaiting the provider yield ErrPaymentPending
// and are picked up again by ResumePayment.
func (s *bookingService) pay(ctx context.Context, b *models.Booking, taker *models.User) (*models.Booking, error) {
	if err := s.payments.Preauthorize(ctx, b, taker); err != nil {
		return nil, err
	}

	var paid *models.Booking
	err := s.locker.WithLock(ctx, listingLock(b.ListingID), func(ctx context.Context) error {
		if err := s.checkCapacity(ctx, b); err != nil {
			return err
		}
		var err error
		paid, err = s.transition(ctx, b.ID, bson.M{"paid_date": nil}, bson.M{"paid_date": s.now()})
		return err
	})
	if err != nil {
		s.releaseHolds(ctx, b.ID, err)
		return nil, err
	}
	metrics.RecordBookingTransition("paid")

	if paid.Status() == models.BookingConfirmed {
		return s.confirm(ctx, paid)
	}
	return paid, nil
}

// releaseHolds drops the preauthorizations of a payment that could not be
// recorded. A concurrent successful Pay shares the same holds, so they are
// kept when the booking turns out paid.
func (s *bookingService) releaseHolds(ctx context.Context, bookingID utils.SixID, cause error) {
	b, err := s.getByID(ctx, bookingID)
	if err != nil || (b.PaidDate != nil && b.CancellationID == nil) {
		return
	}
	if err := s.payments.Reverse(ctx, b, 0); err != nil {
		logging.Critical(logrus.WithError(err).WithFields(logrus.Fields{"bookingID": bookingID, "cause": cause}),
			"failed to release preauthorization")
	}
}

// confirm runs once a booking is both accepted and paid: it stamps the
// confirmation and settles the payin.
func (s *bookingService) confirm(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	confirmed, err := s.transition(ctx, b.ID,
		bson.M{"confirmed_date": nil, "accepted_date": bson.M{"$ne": nil}, "paid_date": bson.M{"$ne": nil}},
		bson.M{"confirmed_date": s.now()},
	)
	if errors.Is(err, ErrInvalidTransition) {
		return s.getByID(ctx, b.ID)
	}
	if err != nil {
		return nil, err
	}
	return s.settlePayin(ctx, confirmed)
}

// settlePayin takes the sale stock, captures the payment and tells both
// parties. Each step is recorded, so it can run again on a confirmed booking
// whose payin is not done.
func (s *bookingService) settlePayin(ctx context.Context, confirmed *models.Booking) (*models.Booking, error) {
	log := logrus.WithField("bookingID", confirmed.ID)
	if confirmed.ListingType == models.ListingTypeSale {
		if err := s.takeStock(ctx, confirmed); err != nil {
			if _, cerr := s.cancellations.CancelBooking(ctx, confirmed, models.ReasonOther, models.TriggerSystem, "out of stock"); cerr != nil {
				log.WithError(cerr).Error("failed to cancel booking without stock")
			}
			return nil, err
		}
	}

	if err := s.payments.Payin(ctx, confirmed); err != nil {
		if errors.Is(err, ErrPaymentPending) {
			log.Info("payin awaiting provider confirmation")
			return confirmed, nil
		}
		log.WithError(err).Warn("payin failed, cancelling booking")
		s.failPayin(ctx, confirmed)
		return nil, err
	}
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": confirmed.ID, "cancellation_id": nil, "payin_done": false},
		bson.M{"$set": bson.M{"payin_done": true}},
	)
	if err != nil {
		logging.Critical(log.WithError(err), "payin captured but not recorded on booking")
		return confirmed, nil
	}
	if res.MatchedCount == 0 {
		current, err := s.getByID(ctx, confirmed.ID)
		if err != nil {
			return nil, err
		}
		if current.CancellationID != nil {
			// Cancelled while the capture was in flight.
			if err := s.payments.Reverse(ctx, current, current.Price.TakerPrice); err != nil {
				logging.Critical(log.WithError(err), "failed to refund payin of booking cancelled during capture")
			}
		}
		return current, nil
	}
	confirmed.PayinDone = true
	metrics.RecordBookingTransition("confirmed")

	s.notify(ctx, confirmed, EventBookingConfirmed, confirmed.TakerID, confirmed.OwnerID)
	if _, err := s.gamification.RecordAction(ctx, confirmed.OwnerID, ActionConfirmedBookingOwner); err != nil {
		log.WithError(err).Warn("failed to record confirmed booking action")
	}
	return confirmed, nil
}

func (s *bookingService) failPayin(ctx context.Context, b *models.Booking) {
	if _, err := s.cancellations.CancelBooking(ctx, b, models.ReasonNoPayment, models.TriggerSystem, ""); err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			logrus.WithError(err).WithField("bookingID", b.ID).Error("failed to cancel booking after payin failure")
		}
		return
	}
	s.notify(ctx, b, EventPaymentFailed, b.TakerID)
}

// takeStock decrements the listing quantity once per booking, failing when
// the stock is short.
func (s *bookingService) takeStock(ctx context.Context, b *models.Booking) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": b.ID, "stock_taken": false},
		bson.M{"$set": bson.M{"stock_taken": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to flag stock of booking %s: %w", b.ID, err)
	}
	if res.ModifiedCount == 0 {
		return nil
	}
	res, err = s.db.Collection(db.Listings).UpdateOne(ctx,
		bson.M{"_id": b.ListingID, "quantity": bson.M{"$gte": b.Quantity}},
		bson.M{"$inc": bson.M{"quantity": -b.Quantity}},
	)
	if err == nil && res.MatchedCount == 1 {
		b.StockTaken = true
		return nil
	}
	if _, uerr := s.collection().UpdateOne(ctx, bson.M{"_id": b.ID}, bson.M{"$set": bson.M{"stock_taken": false}}); uerr != nil {
		logging.Critical(logrus.WithError(uerr).WithField("bookingID", b.ID), "failed to clear stock flag")
	}
	if err != nil {
		return fmt.Errorf("failed to decrement stock of listing %s: %w", b.ListingID, err)
	}
	return fmt.Errorf("%w: %v", ErrListingUnavailable, availability.ErrNotEnoughQuantity)
}

func (s *bookingService) Reject(ctx context.Context, ownerID, bookingID utils.SixID, note string) (*models.Cancellation, error) {
	b, err := s.getByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	if b.AcceptedDate != nil {
		return nil, ErrInvalidTransition
	}
	return s.cancellations.CancelBooking(ctx, b, models.ReasonRejected, models.TriggerOwner, note)
}

func (s *bookingService) Cancel(ctx context.Context, actorID, bookingID utils.SixID, note string) (*models.Cancellation, error) {
	b, err := s.getByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch actorID {
	case b.TakerID:
		return s.cancellations.CancelBooking(ctx, b, models.ReasonTakerCancellation, models.TriggerTaker, note)
	case b.OwnerID:
		return s.cancellations.CancelBooking(ctx, b, models.ReasonOwnerCancellation, models.TriggerOwner, note)
	}
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	return s.cancellations.CancelBooking(ctx, b, models.ReasonOther, models.TriggerAdmin, note)
}

func (s *bookingService) Complete(ctx context.Context, bookingID utils.SixID) (*models.Booking, error) {
	return s.completeAt(ctx, bookingID, s.now())
}

// outputAssessment returns the output assessment of the booking, or nil.
func (s *bookingService) outputAssessment(ctx context.Context, bookingID utils.SixID) (*models.Assessment, error) {
	var a models.Assessment
	err := s.db.Collection(db.Assessments).FindOne(ctx, bson.M{"booking_id": bookingID, "type": models.AssessmentOutput}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load output assessment of booking %s: %w", bookingID, err)
	}
	return &a, nil
}

func retainedDeposit(b *models.Booking, a *models.Assessment) int64 {
	if a == nil || a.SignedDate == nil {
		return 0
	}
	if a.DepositRetained > b.Price.Deposit {
		return b.Price.Deposit
	}
	return a.DepositRetained
}

func (s *bookingService) completeAt(ctx context.Context, bookingID utils.SixID, now time.Time) (*models.Booking, error) {
	b, err := s.getByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	assessment, err := s.outputAssessment(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	retained := retainedDeposit(b, assessment)

	switch b.Status() {
	case models.BookingCompleted:
		if !b.PayoutDone {
			if err := s.payout(ctx, b, retained); err != nil {
				return nil, err
			}
		}
		return b, nil
	case models.BookingConfirmed:
		// No money moves before the confirmation and its payin are recorded.
		if b.ConfirmedDate == nil || !b.PayinDone {
			return nil, ErrNotCompletable
		}
	default:
		return nil, ErrNotCompletable
	}
	if now.Before(b.EndDate) {
		return nil, ErrNotCompletable
	}
	signed := assessment != nil && assessment.SignedDate != nil
	if !signed && now.Before(b.EndDate.Add(s.cfg.BookingCompletionDelay)) {
		return nil, ErrNotCompletable
	}

	log := logrus.WithField("bookingID", b.ID)
	if !b.DepositReleased {
		if err := s.payments.SettleDeposit(ctx, b, retained); err != nil {
			if errors.Is(err, ErrPaymentPending) {
				return nil, fmt.Errorf("%w: deposit awaiting provider confirmation", ErrNotCompletable)
			}
			logging.Critical(log.WithError(err), "failed to settle deposit")
			return nil, err
		}
		if _, err := s.collection().UpdateOne(ctx, bson.M{"_id": b.ID}, bson.M{"$set": bson.M{"deposit_released": true}}); err != nil {
			return nil, fmt.Errorf("failed to flag deposit of booking %s: %w", b.ID, err)
		}
		if retained > 0 {
			s.notify(ctx, b, EventDepositRetained, b.TakerID)
		}
	}

	completed, err := s.transition(ctx, b.ID, bson.M{"confirmed_date": bson.M{"$ne": nil}}, bson.M{"completed_date": now})
	if errors.Is(err, ErrInvalidTransition) {
		return s.getByID(ctx, b.ID)
	}
	if err != nil {
		return nil, err
	}
	metrics.RecordBookingTransition("completed")
	s.notify(ctx, completed, EventBookingCompleted, completed.TakerID, completed.OwnerID)

	if err := s.payout(ctx, completed, retained); err != nil {
		switch {
		case errors.Is(err, ErrPaymentPending):
			log.Info("payout awaiting provider confirmation")
		case errors.Is(err, ErrPaymentAccountRequired):
			s.notify(ctx, completed, EventBankAccountNeeded, completed.OwnerID)
			log.WithError(err).Warn("payout postponed")
		default:
			log.WithError(err).Warn("payout postponed")
		}
	}
	return completed, nil
}

// payout pays the owner their net income plus any retained deposit. Payouts
// to owners without a bank account, failed ones and ones still pending at the
// provider stay unflagged and are retried on the next sweep.
func (s *bookingService) payout(ctx context.Context, b *models.Booking, retained int64) error {
	if amount := b.Price.OwnerNetIncome + retained; amount > 0 {
		owner, err := s.users.GetByID(ctx, b.OwnerID)
		if err != nil {
			return err
		}
		if !owner.CanReceivePayout() {
			return ErrPaymentAccountRequired
		}
		if err := s.payments.Payout(ctx, b, owner, amount); err != nil {
			if !errors.Is(err, ErrPaymentPending) {
				logging.Critical(logrus.WithError(err).WithField("bookingID", b.ID), "payout failed")
			}
			return err
		}
	}
	return s.flagPayout(ctx, b)
}

func (s *bookingService) flagPayout(ctx context.Context, b *models.Booking) error {
	if _, err := s.collection().UpdateOne(ctx, bson.M{"_id": b.ID}, bson.M{"$set": bson.M{"payout_done": true}}); err != nil {
		return fmt.Errorf("failed to flag payout of booking %s: %w", b.ID, err)
	}
	b.PayoutDone = true
	return nil
}

// statusFilter matches the stored fields that derive status.
func statusFilter(status models.BookingStatus) (bson.M, error) {
	set := bson.M{"$ne": nil}
	switch status {
	case "":
		return bson.M{}, nil
	case models.BookingPending:
		return bson.M{"cancellation_id": nil, "completed_date": nil, "accepted_date": nil, "paid_date": nil}, nil
	case models.BookingAccepted:
		return bson.M{"cancellation_id": nil, "completed_date": nil, "accepted_date": set, "paid_date": nil}, nil
	case models.BookingPaid:
		return bson.M{"cancellation_id": nil, "completed_date": nil, "accepted_date": nil, "paid_date": set}, nil
	case models.BookingConfirmed:
		return bson.M{"cancellation_id": nil, "completed_date": nil, "accepted_date": set, "paid_date": set}, nil
	case models.BookingCompleted:
		return bson.M{"cancellation_id": nil, "completed_date": set}, nil
	case models.BookingCancelled:
		return bson.M{"cancellation_id": set}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
}

func (s *bookingService) List(ctx context.Context, userID utils.SixID, role models.BookingRole, status models.BookingStatus) ([]models.Booking, error) {
	filter, err := statusFilter(status)
	if err != nil {
		return nil, err
	}
	switch role {
	case models.RoleOwner:
		filter["owner_id"] = userID
	case models.RoleTaker, "":
		filter["taker_id"] = userID
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(maxBookingsPerPage))
}

func (s *bookingService) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Booking, error) {
	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	bookings := []models.Booking{}
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings: %w", err)
	}
	return bookings, nil
}

func (s *bookingService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	bookings, err := s.find(ctx, bson.M{
		"cancellation_id": nil,
		"completed_date":  nil,
		"confirmed_date":  nil,
		"$or": bson.A{
			bson.M{"accepted_date": nil, "accept_due_date": bson.M{"$lte": now}},
			bson.M{"paid_date": nil, "payment_due_date": bson.M{"$lte": now}},
		},
	}, options.Find().SetLimit(sweepBatchSize))
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range bookings {
		b := &bookings[i]
		reason := models.ReasonNoPayment
		if b.AcceptedDate == nil && !b.AcceptDueDate.After(now) {
			reason = models.ReasonNoAction
		}
		if _, err := s.cancellations.CancelBooking(ctx, b, reason, models.TriggerSystem, ""); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				logrus.WithError(err).WithField("bookingID", b.ID).Error("failed to expire booking")
			}
			continue
		}
		expired++
	}
	s.repairConfirmations(ctx, now)
	return expired, nil
}

// repairConfirmations finishes bookings left accepted and paid without a
// recorded confirmation or payin, as happens when a process stops between
// the writes of Pay or Accept.
func (s *bookingService) repairConfirmations(ctx context.Context, now time.Time) {
	bookings, err := s.find(ctx, bson.M{
		"cancellation_id": nil,
		"completed_date":  nil,
		"accepted_date":   bson.M{"$ne": nil},
		"paid_date":       bson.M{"$ne": nil},
		"payin_done":      false,
		"updated_at":      bson.M{"$lte": now.Add(-repairGrace)},
	}, options.Find().SetLimit(sweepBatchSize))
	if err != nil {
		logrus.WithError(err).Error("failed to look up unconfirmed bookings")
		return
	}
	for i := range bookings {
		b := &bookings[i]
		log := logrus.WithField("bookingID", b.ID)
		if b.ConfirmedDate == nil {
			_, err = s.confirm(ctx, b)
		} else {
			_, err = s.settlePayin(ctx, b)
		}
		if err != nil {
			log.WithError(err).Error("failed to repair booking confirmation")
			continue
		}
		log.Info("booking confirmation repaired")
	}
}

func (s *bookingService) CompleteDue(ctx context.Context, now time.Time) (int, error) {
	bookings, err := s.find(ctx, bson.M{
		"cancellation_id": nil,
		"$or": bson.A{
			bson.M{"completed_date": nil, "confirmed_date": bson.M{"$ne": nil}, "end_date": bson.M{"$lte": now}},
			bson.M{"completed_date": bson.M{"$ne": nil}, "payout_done": false},
		},
	}, options.Find().SetLimit(sweepBatchSize))
	if err != nil {
		return 0, err
	}
	done := 0
	for _, b := range bookings {
		if _, err := s.completeAt(ctx, b.ID, now); err != nil {
			if !errors.Is(err, ErrNotCompletable) && !errors.Is(err, ErrPaymentAccountRequired) && !errors.Is(err, ErrPaymentPending) {
				logrus.WithError(err).WithField("bookingID", b.ID).Error("failed to complete booking")
			}
			continue
		}
		done++
	}
	return done, nil
}

func (s *bookingService) ResumePayment(ctx context.Context, tx *models.Transaction) error {
	b, err := s.getByID(ctx, tx.BookingID)
	if err != nil {
		return err
	}
	succeeded := tx.Status == models.TransactionSucceeded
	if b.CancellationID != nil {
		// Holds confirmed after the booking ended are released.
		if succeeded && tx.Action == models.ActionPreauthorization {
			return s.payments.Reverse(ctx, b, 0)
		}
		return nil
	}

	switch tx.Action {
	case models.ActionPreauthorization:
		if b.PaidDate != nil {
			return nil
		}
		if !succeeded {
			s.notify(ctx, b, EventPaymentFailed, b.TakerID)
			return nil
		}
		taker, err := s.users.GetByID(ctx, b.TakerID)
		if err != nil {
			return err
		}
		_, err = s.pay(ctx, b, taker)
		if errors.Is(err, ErrPaymentPending) || errors.Is(err, ErrListingUnavailable) || errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	case models.ActionPayin:
		if b.PayinDone || b.ConfirmedDate == nil {
			return nil
		}
		if !succeeded {
			s.failPayin(ctx, b)
			return nil
		}
		_, err := s.settlePayin(ctx, b)
		return err
	case models.ActionPayout:
		if succeeded && !b.PayoutDone {
			return s.flagPayout(ctx, b)
		}
	}
	return nil
}
