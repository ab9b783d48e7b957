// Package payment abstracts the payment service provider. Every call carries an
// idempotency key: repeating a call with the same key must not move money twice.
package payment

import (
	"context"
	"errors"
)

var (
	ErrDeclined        = errors.New("payment declined")
	ErrUnknownResource = errors.New("unknown payment resource")
	ErrInvalidAmount   = errors.New("invalid payment amount")
)

// Status is the provider-side state of an operation.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	// StatusCreated means the provider accepted the request and will confirm
	// it later through a webhook.
	StatusCreated Status = "CREATED"
)

// Result is what a provider returns for any operation.
type Result struct {
	Ref    string
	Status Status
}

// PreauthRequest holds funds on the taker's card.
type PreauthRequest struct {
	IdempotencyKey string
	AccountID      string
	Amount         int64
	Currency       string
}

// CaptureRequest turns (part of) a preauthorization into a payin.
type CaptureRequest struct {
	IdempotencyKey string
	PreauthRef     string
	Amount         int64
	Currency       string
}

// RefundRequest gives back (part of) a payin.
type RefundRequest struct {
	IdempotencyKey string
	PayinRef       string
	Amount         int64
	Currency       string
}

// PayoutRequest sends money to an owner's bank account.
type PayoutRequest struct {
	IdempotencyKey string
	AccountID      string
	BankAccountID  string
	Amount         int64
	Currency       string
}

// Provider is implemented by each payment service integration.
type Provider interface {
	Name() string
	Preauthorize(ctx context.Context, req PreauthRequest) (Result, error)
	CancelPreauthorization(ctx context.Context, idempotencyKey, preauthRef string) (Result, error)
	Capture(ctx context.Context, req CaptureRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
	Payout(ctx context.Context, req PayoutRequest) (Result, error)
}
