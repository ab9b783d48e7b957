// Package pricing computes booking prices. Amounts are minor currency units;
// intermediate arithmetic is exact and rounded half away from zero once per
// amount.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPeriod   = errors.New("end date must be after start date")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidPrice    = errors.New("prices must not be negative")
)

const day = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// FeeConfig holds the marketplace commission.
type FeeConfig struct {
	TakerPercent decimal.Decimal
	OwnerPercent decimal.Decimal
	MaxTakerFees int64 // 0 means uncapped
	MaxOwnerFees int64
}

// NewFeeConfig is a convenience for float settings.
func NewFeeConfig(takerPercent, ownerPercent float64, maxTaker, maxOwner int64) FeeConfig {
	return FeeConfig{
		TakerPercent: decimal.NewFromFloat(takerPercent),
		OwnerPercent: decimal.NewFromFloat(ownerPercent),
		MaxTakerFees: maxTaker,
		MaxOwnerFees: maxOwner,
	}
}

// Input describes what is being priced.
type Input struct {
	Type      models.ListingType
	Pricing   models.Pricing
	SalePrice int64
	Deposit   int64
	Start     time.Time
	End       time.Time
	Quantity  int
	Currency  string
	Fees      FeeConfig
}

// Duration returns the number of started days in [start, end), at least one.
func Duration(start, end time.Time) (int, error) {
	if !end.After(start) {
		return 0, ErrInvalidPeriod
	}
	d := end.Sub(start)
	days := int(d / day)
	if d%day != 0 {
		days++
	}
	return days, nil
}

// RentalPrice is the price of one unit over nbDays. Day one costs
// DayOnePrice, day i costs DayOnePrice*Ratios[i-2]/100 with the last ratio
// repeating. Without ratios every day costs DayOnePrice.
func RentalPrice(p models.Pricing, nbDays int) int64 {
	if nbDays <= 0 || p.DayOnePrice <= 0 {
		return 0
	}
	dayOne := decimal.NewFromInt(p.DayOnePrice)
	total := dayOne
	for i := 2; i <= nbDays; i++ {
		if len(p.Ratios) == 0 {
			total = total.Add(dayOne)
			continue
		}
		idx := i - 2
		if idx >= len(p.Ratios) {
			idx = len(p.Ratios) - 1
		}
		total = total.Add(dayOne.Mul(decimal.NewFromInt(int64(p.Ratios[idx]))).Div(hundred))
	}
	return total.Round(0).IntPart()
}

// Fees returns amount*percent/100 rounded, capped at max when max > 0.
func Fees(amount int64, percent decimal.Decimal, max int64) int64 {
	if amount <= 0 || !percent.IsPositive() {
		return 0
	}
	fees := decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
	if max > 0 && fees > max {
		return max
	}
	return fees
}

// Breakdown prices a booking request.
func Breakdown(in Input) (models.PriceBreakdown, error) {
	if in.Quantity < 1 {
		return models.PriceBreakdown{}, ErrInvalidQuantity
	}
	if in.Pricing.DayOnePrice < 0 || in.SalePrice < 0 || in.Deposit < 0 {
		return models.PriceBreakdown{}, ErrInvalidPrice
	}

	b := models.PriceBreakdown{Quantity: in.Quantity, Currency: in.Currency}
	q := int64(in.Quantity)

	switch in.Type {
	case models.ListingTypeSale:
		b.UnitPrice = in.SalePrice
	case models.ListingTypeRental:
		nbDays, err := Duration(in.Start, in.End)
		if err != nil {
			return models.PriceBreakdown{}, err
		}
		b.NbTimeUnits = nbDays
		b.UnitPrice = RentalPrice(in.Pricing, nbDays)
	default:
		return models.PriceBreakdown{}, fmt.Errorf("unknown listing type %q", in.Type)
	}
	b.Deposit = in.Deposit * q

	b.OwnerPrice = b.UnitPrice * q
	b.TakerFees = Fees(b.OwnerPrice, in.Fees.TakerPercent, in.Fees.MaxTakerFees)
	b.OwnerFees = Fees(b.OwnerPrice, in.Fees.OwnerPercent, in.Fees.MaxOwnerFees)
	b.TakerPrice = b.OwnerPrice + b.TakerFees
	b.OwnerNetIncome = b.OwnerPrice - b.OwnerFees
	return b, nil
}

// RefundPolicy selects how much of the taker price goes back on cancellation.
type RefundPolicy int

const (
	// RefundFull returns everything the taker paid.
	RefundFull RefundPolicy = iota
	// RefundKeepFees returns the taker price minus the marketplace fees.
	RefundKeepFees
)

// RefundAmount returns the part of TakerPrice refunded under policy.
func RefundAmount(b models.PriceBreakdown, policy RefundPolicy) int64 {
	switch policy {
	case RefundKeepFees:
		if amount := b.TakerPrice - b.TakerFees; amount > 0 {
			return amount
		}
		return 0
	default:
		return b.TakerPrice
	}
}

// Policy picks the refund policy for a cancellation. Takers keep paying the
// fees only when they walk away from a confirmed booking.
func Policy(trigger models.CancellationTrigger, confirmed bool) RefundPolicy {
	if trigger == models.TriggerTaker && confirmed {
		return RefundKeepFees
	}
	return RefundFull
}
