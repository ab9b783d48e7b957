package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/metrics"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/payment"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var (
	ErrPaymentAccountRequired = errors.New("a complete KYC profile and a payment account are required")
	ErrNoPreauthorization     = errors.New("no successful preauthorization for this booking")
	ErrWebhookNotConfigured   = errors.New("payment webhook secret is not configured")
)

// Webhook processing outcomes stored on the transaction log.
const (
	webhookApplied   = "applied"
	webhookNoop      = "no-op"
	webhookIgnored   = "ignored"
	webhookDuplicate = "duplicate"
)

// SettlementHandler continues the booking flow once a provider notification
// settles one of its transactions. It must be safe to call more than once.
type SettlementHandler func(ctx context.Context, tx *models.Transaction) error

// IPaymentService moves the money of a booking through the provider. Every
// step goes through the ledger so retries never charge twice.
type IPaymentService interface {
	// Preauthorize holds the taker price and the deposit on the taker's account.
	Preauthorize(ctx context.Context, b *models.Booking, taker *models.User) error
	// Payin captures the taker price.
	Payin(ctx context.Context, b *models.Booking) error
	// SettleDeposit captures retained from the deposit and releases the rest.
	SettleDeposit(ctx context.Context, b *models.Booking, retained int64) error
	Payout(ctx context.Context, b *models.Booking, owner *models.User, amount int64) error
	// Reverse undoes the payments of a cancelled booking, refunding refund
	// when the payin was done.
	Reverse(ctx context.Context, b *models.Booking, refund int64) error
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) error
	// OnSettlement registers the handler HandleWebhook calls for settled transactions.
	OnSettlement(h SettlementHandler)
	ListForBooking(ctx context.Context, bookingID utils.SixID) ([]models.Transaction, error)
}

type paymentService struct {
	db       *mongo.Database
	cfg      *config.Config
	provider payment.Provider
	ledger   ITransactionService
	settled  SettlementHandler
	now      clock
}

func NewPaymentService(database *mongo.Database, cfg *config.Config, provider payment.Provider, ledger ITransactionService) IPaymentService {
	return &paymentService{db: database, cfg: cfg, provider: provider, ledger: ledger, now: utcNow}
}

func (s *paymentService) OnSettlement(h SettlementHandler) {
	s.settled = h
}

func (s *paymentService) entry(b *models.Booking, action models.TransactionAction, label models.TransactionLabel, amount int64) *models.Transaction {
	return &models.Transaction{
		BookingID: b.ID,
		Action:    action,
		Label:     label,
		Amount:    amount,
		Currency:  b.Price.Currency,
		Provider:  s.provider.Name(),
	}
}

// succeeded returns the successful ledger entry of a step, or nil.
func (s *paymentService) succeeded(ctx context.Context, bookingID utils.SixID, action models.TransactionAction, label models.TransactionLabel) (*models.Transaction, error) {
	tx, err := s.ledger.Find(ctx, bookingID, action, label)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TransactionSucceeded {
		return nil, nil
	}
	return tx, nil
}

func (s *paymentService) Preauthorize(ctx context.Context, b *models.Booking, taker *models.User) error {
	if !taker.CanPay() {
		return ErrPaymentAccountRequired
	}
	holds := []struct {
		label  models.TransactionLabel
		amount int64
	}{
		{models.LabelPayment, b.Price.TakerPrice},
		{models.LabelDeposit, b.Price.Deposit},
	}
	for _, h := range holds {
		if h.amount <= 0 {
			continue
		}
		tx := s.entry(b, models.ActionPreauthorization, h.label, h.amount)
		tx.FromUserID = &taker.ID
		amount := h.amount
		if _, err := s.ledger.Execute(ctx, tx, func(ctx context.Context, key string) (payment.Result, error) {
			return s.provider.Preauthorize(ctx, payment.PreauthRequest{
				IdempotencyKey: key,
				AccountID:      taker.Payment.AccountID,
				Amount:         amount,
				Currency:       b.Price.Currency,
			})
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *paymentService) capture(ctx context.Context, b *models.Booking, action models.TransactionAction, label models.TransactionLabel, amount int64) error {
	preauth, err := s.succeeded(ctx, b.ID, models.ActionPreauthorization, label)
	if err != nil {
		return err
	}
	if preauth == nil {
		return fmt.Errorf("%w: %s", ErrNoPreauthorization, label)
	}
	tx := s.entry(b, action, label, amount)
	tx.FromUserID = &b.TakerID
	tx.ParentRef = preauth.ProviderRef
	_, err = s.ledger.Execute(ctx, tx, func(ctx context.Context, key string) (payment.Result, error) {
		return s.provider.Capture(ctx, payment.CaptureRequest{
			IdempotencyKey: key,
			PreauthRef:     preauth.ProviderRef,
			Amount:         amount,
			Currency:       b.Price.Currency,
		})
	})
	return err
}

func (s *paymentService) cancelPreauth(ctx context.Context, b *models.Booking, label models.TransactionLabel) error {
	preauth, err := s.succeeded(ctx, b.ID, models.ActionPreauthorization, label)
	if err != nil || preauth == nil {
		return err
	}
	tx := s.entry(b, models.ActionCancelPreauthorization, label, preauth.Amount)
	tx.ParentRef = preauth.ProviderRef
	_, err = s.ledger.Execute(ctx, tx, func(ctx context.Context, key string) (payment.Result, error) {
		return s.provider.CancelPreauthorization(ctx, key, preauth.ProviderRef)
	})
	return err
}

func (s *paymentService) Payin(ctx context.Context, b *models.Booking) error {
	if b.Price.TakerPrice <= 0 {
		return nil
	}
	return s.capture(ctx, b, models.ActionPayin, models.LabelPayment, b.Price.TakerPrice)
}

func (s *paymentService) SettleDeposit(ctx context.Context, b *models.Booking, retained int64) error {
	if b.Price.Deposit <= 0 {
		return nil
	}
	if retained > b.Price.Deposit {
		retained = b.Price.Deposit
	}
	if retained > 0 {
		if err := s.capture(ctx, b, models.ActionDepositCapture, models.LabelDeposit, retained); err != nil {
			return err
		}
		if retained == b.Price.Deposit {
			return nil
		}
	}
	return s.cancelPreauth(ctx, b, models.LabelDeposit)
}

func (s *paymentService) Payout(ctx context.Context, b *models.Booking, owner *models.User, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if !owner.CanReceivePayout() {
		return ErrPaymentAccountRequired
	}
	tx := s.entry(b, models.ActionPayout, models.LabelPayment, amount)
	tx.ToUserID = &owner.ID
	_, err := s.ledger.Execute(ctx, tx, func(ctx context.Context, key string) (payment.Result, error) {
		return s.provider.Payout(ctx, payment.PayoutRequest{
			IdempotencyKey: key,
			AccountID:      owner.Payment.AccountID,
			BankAccountID:  owner.Payment.BankAccountID,
			Amount:         amount,
			Currency:       b.Price.Currency,
		})
	})
	return err
}

func (s *paymentService) Reverse(ctx context.Context, b *models.Booking, refund int64) error {
	var errs []error

	payin, err := s.succeeded(ctx, b.ID, models.ActionPayin, models.LabelPayment)
	switch {
	case err != nil:
		errs = append(errs, err)
	case payin != nil:
		if refund > payin.Amount {
			refund = payin.Amount
		}
		if refund > 0 {
			tx := s.entry(b, models.ActionRefund, models.LabelPayment, refund)
			tx.ToUserID = &b.TakerID
			tx.ParentRef = payin.ProviderRef
			_, err := s.ledger.Execute(ctx, tx, func(ctx context.Context, key string) (payment.Result, error) {
				return s.provider.Refund(ctx, payment.RefundRequest{
					IdempotencyKey: key,
					PayinRef:       payin.ProviderRef,
					Amount:         refund,
					Currency:       b.Price.Currency,
				})
			})
			errs = collect(errs, err)
		}
	default:
		errs = collect(errs, s.cancelPreauth(ctx, b, models.LabelPayment))
	}

	errs = collect(errs, s.cancelPreauth(ctx, b, models.LabelDeposit))
	return errors.Join(errs...)
}

// collect appends err unless it is nil or still pending at the provider.
func collect(errs []error, err error) []error {
	if err == nil || errors.Is(err, ErrPaymentPending) {
		return errs
	}
	return append(errs, err)
}

func (s *paymentService) ListForBooking(ctx context.Context, bookingID utils.SixID) ([]models.Transaction, error) {
	return s.ledger.ListForBooking(ctx, bookingID)
}

func (s *paymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if s.cfg.PaymentWebhookSecret == "" {
		return ErrWebhookNotConfigured
	}
	if err := payment.VerifySignature(s.cfg.PaymentWebhookSecret, rawBody, signature); err != nil {
		return err
	}
	event, err := payment.ParseEvent(rawBody)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"eventID": event.ID, "type": event.Type, "resource": event.ResourceID})

	entry := &models.TransactionLog{
		Provider:   s.provider.Name(),
		EventID:    event.ID,
		EventType:  event.Type,
		ResourceID: event.ResourceID,
		ReceivedAt: s.now(),
	}
	var payload bson.D
	if err := bson.UnmarshalExtJSON(rawBody, false, &payload); err == nil {
		if raw, err := bson.Marshal(payload); err == nil {
			entry.Payload = raw
		}
	}

	coll := s.db.Collection(db.TransactionLogs)
	if err := db.InsertUnique(ctx, coll, entry); err != nil {
		if !db.IsDuplicateKey(err) {
			return fmt.Errorf("failed to store webhook event %s: %w", event.ID, err)
		}
		var existing models.TransactionLog
		if err := coll.FindOne(ctx, bson.M{"provider": entry.Provider, "event_id": event.ID}).Decode(&existing); err != nil {
			return fmt.Errorf("failed to load webhook event %s: %w", event.ID, err)
		}
		if existing.ProcessedAt != nil {
			metrics.RecordWebhookEvent(event.Type, webhookDuplicate)
			log.Debug("webhook event already handled")
			return nil
		}
		// Stored by an earlier delivery that failed before processing.
		entry = &existing
	}

	outcome := webhookIgnored
	if _, status, ok := event.Outcome(); ok {
		tx, changed, err := s.ledger.ApplyOutcome(ctx, event.ResourceID, status)
		if err != nil {
			return err
		}
		outcome = webhookNoop
		if changed {
			outcome = webhookApplied
		}
		// Runs again on redelivery when an earlier attempt failed here.
		if tx != nil && s.settled != nil {
			if err := s.settled(ctx, tx); err != nil {
				return fmt.Errorf("failed to continue booking %s after %s: %w", tx.BookingID, event.ID, err)
			}
		}
	}

	if _, err := coll.UpdateOne(ctx,
		bson.M{"_id": entry.ID},
		bson.M{"$set": bson.M{"processed_at": s.now(), "outcome": outcome}},
	); err != nil {
		return fmt.Errorf("failed to mark webhook event %s processed: %w", event.ID, err)
	}
	metrics.RecordWebhookEvent(event.Type, outcome)
	log.WithField("outcome", outcome).Info("webhook event processed")
	return nil
}
