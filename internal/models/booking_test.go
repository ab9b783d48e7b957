package models

import (
	"testing"
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
	"github.com/stretchr/testify/assert"
)

func TestBooking_Status(t *testing.T) {
	now := time.Now()
	cancel := utils.NewSixID()

	cases := []struct {
		name     string
		booking  Booking
		status   BookingStatus
		blocking bool
	}{
		{"fresh", Booking{}, BookingPending, false},
		{"accepted only", Booking{AcceptedDate: &now}, BookingAccepted, true},
		{"paid only", Booking{PaidDate: &now}, BookingPaid, true},
		{"paid and accepted", Booking{PaidDate: &now, AcceptedDate: &now}, BookingConfirmed, true},
		{"completed", Booking{PaidDate: &now, AcceptedDate: &now, CompletedDate: &now}, BookingCompleted, true},
		{"cancelled wins", Booking{PaidDate: &now, AcceptedDate: &now, CancellationID: &cancel}, BookingCancelled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, tc.booking.Status())
			assert.Equal(t, tc.blocking, tc.booking.Blocking())
		})
	}
}

func TestBooking_Parties(t *testing.T) {
	owner, taker, other := utils.NewSixID(), utils.NewSixID(), utils.NewSixID()
	b := Booking{OwnerID: owner, TakerID: taker}

	assert.True(t, b.IsParty(owner))
	assert.True(t, b.IsParty(taker))
	assert.False(t, b.IsParty(other))
	assert.Equal(t, taker, b.Counterpart(owner))
	assert.Equal(t, owner, b.Counterpart(taker))
}

func TestKYC_Complete(t *testing.T) {
	birthday := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	k := KYC{FirstName: "Ada", LastName: "L", Birthday: &birthday, Nationality: "FR"}
	assert.False(t, k.Complete())

	k.CountryOfResidence = "FR"
	assert.True(t, k.Complete())

	u := User{KYC: k}
	assert.False(t, u.CanPay())
	u.Payment.AccountID = "acc"
	assert.True(t, u.CanPay())
	assert.False(t, u.CanReceivePayout())
	u.Payment.BankAccountID = "bank"
	assert.True(t, u.CanReceivePayout())
}
