package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
)

// TransactionAction is the provider operation a ledger entry records.
type TransactionAction string

const (
	ActionPreauthorization       TransactionAction = "preauthorization"
	ActionCancelPreauthorization TransactionAction = "cancel_preauthorization"
	ActionPayin                  TransactionAction = "payin"
	ActionRefund                 TransactionAction = "refund"
	ActionPayout                 TransactionAction = "payout"
	ActionDepositCapture         TransactionAction = "deposit_capture"
)

// TransactionLabel separates the rental payment from the security deposit.
type TransactionLabel string

const (
	LabelPayment TransactionLabel = "payment"
	LabelDeposit TransactionLabel = "deposit"
)

// TransactionStatus tracks a provider call.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionSucceeded TransactionStatus = "succeeded"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction is one payment ledger entry. IdempotencyKey is unique, which is
// what keeps a booking from being charged twice. ProviderKey is the key sent to
// the provider and changes only when a failed step is attempted again.
type Transaction struct {
	Base           `bson:",inline"`
	Timestamps     `bson:",inline"`
	BookingID      utils.SixID       `bson:"booking_id" json:"booking_id"`
	Action         TransactionAction `bson:"action" json:"action"`
	Label          TransactionLabel  `bson:"label" json:"label"`
	Amount         int64             `bson:"amount" json:"amount"`
	Currency       string            `bson:"currency" json:"currency"`
	FromUserID     *utils.SixID      `bson:"from_user_id,omitempty" json:"from_user_id,omitempty"`
	ToUserID       *utils.SixID      `bson:"to_user_id,omitempty" json:"to_user_id,omitempty"`
	Provider       string            `bson:"provider" json:"provider"`
	ProviderRef    string            `bson:"provider_ref,omitempty" json:"provider_ref,omitempty"`
	ParentRef      string            `bson:"parent_ref,omitempty" json:"parent_ref,omitempty"`
	Status         TransactionStatus `bson:"status" json:"status"`
	IdempotencyKey string            `bson:"idempotency_key" json:"idempotency_key"`
	ProviderKey    string            `bson:"provider_key,omitempty" json:"-"`
	Attempts       int               `bson:"attempts" json:"attempts"`
	ExecutedDate   *time.Time        `bson:"executed_date,omitempty" json:"executed_date,omitempty"`
	Error          string            `bson:"error,omitempty" json:"error,omitempty"`
}

// TransactionLog is a raw webhook event from the payment provider, stored once
// per (provider, event id).
type TransactionLog struct {
	Base        `bson:",inline"`
	Provider    string     `bson:"provider" json:"provider"`
	EventID     string     `bson:"event_id" json:"event_id"`
	EventType   string     `bson:"event_type" json:"event_type"`
	ResourceID  string     `bson:"resource_id" json:"resource_id"`
	Payload     bson.Raw   `bson:"payload,omitempty" json:"-"`
	ReceivedAt  time.Time  `bson:"received_at" json:"received_at"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	Outcome     string     `bson:"outcome,omitempty" json:"outcome,omitempty"`
}
