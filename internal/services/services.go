package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// Errors shared by several services.
var (
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid state transition")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the validate tags of v and wraps failures in ErrValidation.
func validateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed on %s", ErrValidation, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// NotificationEvent names a user-facing notification. Each one has an email
// template of the same id.
type NotificationEvent string

const (
	EventEmailValidation   NotificationEvent = "email-validation"
	EventPasswordReset     NotificationEvent = "password-reset"
	EventBookingRequested  NotificationEvent = "booking-requested"
	EventBookingAccepted   NotificationEvent = "booking-accepted"
	EventBookingConfirmed  NotificationEvent = "booking-confirmed"
	EventBookingCancelled  NotificationEvent = "booking-cancelled"
	EventBookingCompleted  NotificationEvent = "booking-completed"
	EventNewMessage        NotificationEvent = "new-message"
	EventRatingReceived    NotificationEvent = "rating-received"
	EventLevelUp           NotificationEvent = "level-up"
	EventAssessmentToSign  NotificationEvent = "assessment-to-sign"
	EventPaymentFailed     NotificationEvent = "payment-failed"
	EventDepositRetained   NotificationEvent = "deposit-retained"
	EventBankAccountNeeded NotificationEvent = "bank-account-needed"
)

// Notifier hands work to the background workers. Services never send email or
// pushes inline.
type Notifier interface {
	// NotifyUser delivers event to the user by email, web push and websocket.
	NotifyUser(ctx context.Context, userID utils.SixID, event NotificationEvent, data map[string]interface{}) error
	// SendEmail delivers one templated email to an address that may not belong to a user yet.
	SendEmail(ctx context.Context, to, templateID, locale string, data map[string]interface{}) error
	EnqueueBookingCompletion(ctx context.Context, bookingID utils.SixID) error
	EnqueueThumbnail(ctx context.Context, listingID utils.SixID, key string) error
}

// NopNotifier drops everything. Used where no worker queue is available.
type NopNotifier struct{}

func (NopNotifier) NotifyUser(context.Context, utils.SixID, NotificationEvent, map[string]interface{}) error {
	return nil
}
func (NopNotifier) SendEmail(context.Context, string, string, string, map[string]interface{}) error {
	return nil
}
func (NopNotifier) EnqueueBookingCompletion(context.Context, utils.SixID) error   { return nil }
func (NopNotifier) EnqueueThumbnail(context.Context, utils.SixID, string) error { return nil }

// clock is overridden in tests.
type clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }
