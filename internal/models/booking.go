package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// PriceBreakdown is computed once at booking creation and never recomputed.
// Amounts are in minor currency units.
type PriceBreakdown struct {
	UnitPrice      int64  `bson:"unit_price" json:"unit_price"`
	NbTimeUnits    int    `bson:"nb_time_units" json:"nb_time_units"`
	Quantity       int    `bson:"quantity" json:"quantity"`
	OwnerPrice     int64  `bson:"owner_price" json:"owner_price"`
	TakerFees      int64  `bson:"taker_fees" json:"taker_fees"`
	OwnerFees      int64  `bson:"owner_fees" json:"owner_fees"`
	TakerPrice     int64  `bson:"taker_price" json:"taker_price"`
	OwnerNetIncome int64  `bson:"owner_net_income" json:"owner_net_income"`
	Deposit        int64  `bson:"deposit" json:"deposit"`
	Currency       string `bson:"currency" json:"currency"`
}

// BookingStatus is derived from the booking timestamps, never stored.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingAccepted  BookingStatus = "accepted"
	BookingPaid      BookingStatus = "paid"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking reserves quantity units of a listing, over [StartDate, EndDate) for
// rentals or once for sales.
type Booking struct {
	Base              `bson:",inline"`
	Timestamps        `bson:",inline"`
	ListingID         utils.SixID    `bson:"listing_id" json:"listing_id"`
	ListingType       ListingType    `bson:"listing_type" json:"listing_type"`
	OwnerID           utils.SixID    `bson:"owner_id" json:"owner_id"`
	TakerID           utils.SixID    `bson:"taker_id" json:"taker_id"`
	Quantity          int            `bson:"quantity" json:"quantity"`
	StartDate         time.Time      `bson:"start_date" json:"start_date"`
	EndDate           time.Time      `bson:"end_date" json:"end_date"`
	Price             PriceBreakdown `bson:"price" json:"price"`
	ListingSnapshotID utils.SixID    `bson:"listing_snapshot_id" json:"listing_snapshot_id"`
	ConversationID    *utils.SixID   `bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	AcceptDueDate     time.Time      `bson:"accept_due_date" json:"accept_due_date"`
	PaymentDueDate    time.Time      `bson:"payment_due_date" json:"payment_due_date"`
	AcceptedDate      *time.Time     `bson:"accepted_date" json:"accepted_date,omitempty"`
	PaidDate          *time.Time     `bson:"paid_date" json:"paid_date,omitempty"`
	ConfirmedDate     *time.Time     `bson:"confirmed_date" json:"confirmed_date,omitempty"`
	CompletedDate     *time.Time     `bson:"completed_date" json:"completed_date,omitempty"`
	CancellationID    *utils.SixID   `bson:"cancellation_id" json:"cancellation_id,omitempty"`
	PayinDone         bool           `bson:"payin_done" json:"payin_done"`
	StockTaken        bool           `bson:"stock_taken" json:"-"`
	DepositReleased   bool           `bson:"deposit_released" json:"deposit_released"`
	PayoutDone        bool           `bson:"payout_done" json:"payout_done"`
}

// Status derives the lifecycle state.
func (b *Booking) Status() BookingStatus {
	switch {
	case b.CancellationID != nil:
		return BookingCancelled
	case b.CompletedDate != nil:
		return BookingCompleted
	case b.AcceptedDate != nil && b.PaidDate != nil:
		return BookingConfirmed
	case b.AcceptedDate != nil:
		return BookingAccepted
	case b.PaidDate != nil:
		return BookingPaid
	default:
		return BookingPending
	}
}

// Blocking reports whether the booking holds capacity. Pending bookings do not.
func (b *Booking) Blocking() bool {
	if b.CancellationID != nil {
		return false
	}
	return b.AcceptedDate != nil || b.PaidDate != nil
}

// IsParty reports whether userID is the owner or the taker.
func (b *Booking) IsParty(userID utils.SixID) bool {
	return b.OwnerID == userID || b.TakerID == userID
}

// Counterpart returns the other party of the booking.
func (b *Booking) Counterpart(userID utils.SixID) utils.SixID {
	if userID == b.OwnerID {
		return b.TakerID
	}
	return b.OwnerID
}

// BookingView adds the derived status for API responses.
type BookingView struct {
	*Booking
	Status BookingStatus `json:"status"`
}

// View wraps the booking with its derived status.
func (b *Booking) View() BookingView {
	return BookingView{Booking: b, Status: b.Status()}
}

// BookingRole selects which side of bookings List returns.
type BookingRole string

const (
	RoleOwner BookingRole = "owner"
	RoleTaker BookingRole = "taker"
)

// CancellationReason explains why a booking ended early.
type CancellationReason string

const (
	ReasonRejected          CancellationReason = "rejected"
	ReasonTakerCancellation CancellationReason = "taker-cancellation"
	ReasonOwnerCancellation CancellationReason = "owner-cancellation"
	ReasonNoAction          CancellationReason = "no-action"
	ReasonNoPayment         CancellationReason = "no-payment"
	ReasonAssessmentMissed  CancellationReason = "assessment-missed"
	ReasonOther             CancellationReason = "other"
)

// CancellationTrigger says who caused the cancellation.
type CancellationTrigger string

const (
	TriggerOwner  CancellationTrigger = "owner"
	TriggerTaker  CancellationTrigger = "taker"
	TriggerSystem CancellationTrigger = "system"
	TriggerAdmin  CancellationTrigger = "admin"
)

// Cancellation records how and why a booking was cancelled. One per booking.
type Cancellation struct {
	Base         `bson:",inline"`
	BookingID    utils.SixID         `bson:"booking_id" json:"booking_id"`
	ListingID    utils.SixID         `bson:"listing_id" json:"listing_id"`
	OwnerID      utils.SixID         `bson:"owner_id" json:"owner_id"`
	TakerID      utils.SixID         `bson:"taker_id" json:"taker_id"`
	Reason       CancellationReason  `bson:"reason" json:"reason"`
	Trigger      CancellationTrigger `bson:"trigger" json:"trigger"`
	RefundAmount int64               `bson:"refund_amount" json:"refund_amount"`
	Note         string              `bson:"note,omitempty" json:"note,omitempty"`
	CreatedAt    time.Time           `bson:"created_at" json:"created_at"`
}
