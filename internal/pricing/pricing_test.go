package pricing

import (
	"testing"
	"time"

	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func TestDuration(t *testing.T) {
	cases := []struct {
		name string
		end  time.Time
		days int
		err  error
	}{
		{"exact day", t0.Add(24 * time.Hour), 1, nil},
		{"one hour counts as a day", t0.Add(time.Hour), 1, nil},
		{"partial second day", t0.Add(25 * time.Hour), 2, nil},
		{"a week", t0.AddDate(0, 0, 7), 7, nil},
		{"same instant", t0, 0, ErrInvalidPeriod},
		{"reversed", t0.Add(-time.Hour), 0, ErrInvalidPeriod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			days, err := Duration(t0, tc.end)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.days, days)
		})
	}
}

func TestRentalPrice(t *testing.T) {
	degressive := models.Pricing{DayOnePrice: 1000, Ratios: []int{80, 60}}

	assert.Equal(t, int64(1000), RentalPrice(degressive, 1))
	assert.Equal(t, int64(1800), RentalPrice(degressive, 2))
	assert.Equal(t, int64(2400), RentalPrice(degressive, 3))
	// the last ratio repeats
	assert.Equal(t, int64(3000), RentalPrice(degressive, 4))

	flat := models.Pricing{DayOnePrice: 750}
	assert.Equal(t, int64(2250), RentalPrice(flat, 3))

	assert.Equal(t, int64(0), RentalPrice(models.Pricing{}, 3))
	assert.Equal(t, int64(0), RentalPrice(flat, 0))
}

func TestRentalPrice_RoundsOnce(t *testing.T) {
	// 333 + 3 * 166.5 = 832.5 -> 833 when rounding the total, 831 or 834 when
	// rounding every day.
	p := models.Pricing{DayOnePrice: 333, Ratios: []int{50}}
	assert.Equal(t, int64(833), RentalPrice(p, 4))
}

func TestFees(t *testing.T) {
	fifteen := decimal.NewFromInt(15)
	assert.Equal(t, int64(150), Fees(1000, fifteen, 0))
	assert.Equal(t, int64(100), Fees(1000, fifteen, 100))
	assert.Equal(t, int64(2), Fees(10, fifteen, 0)) // 1.5 rounds up
	assert.Equal(t, int64(0), Fees(0, fifteen, 0))
	assert.Equal(t, int64(0), Fees(1000, decimal.Zero, 0))
}

func TestBreakdown_Rental(t *testing.T) {
	b, err := Breakdown(Input{
		Type:     models.ListingTypeRental,
		Pricing:  models.Pricing{DayOnePrice: 1000, Ratios: []int{80}},
		Deposit:  5000,
		Start:    t0,
		End:      t0.AddDate(0, 0, 3),
		Quantity: 2,
		Currency: "EUR",
		Fees:     NewFeeConfig(15, 5, 0, 0),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, b.NbTimeUnits)
	assert.Equal(t, int64(2600), b.UnitPrice)
	assert.Equal(t, int64(5200), b.OwnerPrice)
	assert.Equal(t, int64(780), b.TakerFees)
	assert.Equal(t, int64(260), b.OwnerFees)
	assert.Equal(t, int64(5980), b.TakerPrice)
	assert.Equal(t, int64(4940), b.OwnerNetIncome)
	assert.Equal(t, int64(10000), b.Deposit)
	assert.Equal(t, "EUR", b.Currency)
}

func TestBreakdown_Sale(t *testing.T) {
	b, err := Breakdown(Input{
		Type:      models.ListingTypeSale,
		SalePrice: 2000,
		Deposit:   999,
		Quantity:  3,
		Fees:      NewFeeConfig(10, 0, 500, 0),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, b.NbTimeUnits)
	assert.Equal(t, int64(6000), b.OwnerPrice)
	assert.Equal(t, int64(500), b.TakerFees, "capped")
	assert.Equal(t, int64(0), b.OwnerFees)
	assert.Equal(t, int64(6500), b.TakerPrice)
	assert.Equal(t, int64(2997), b.Deposit, "deposit per unit")
}

func TestBreakdown_Free(t *testing.T) {
	b, err := Breakdown(Input{
		Type:     models.ListingTypeRental,
		Start:    t0,
		End:      t0.Add(48 * time.Hour),
		Quantity: 1,
		Fees:     NewFeeConfig(15, 5, 0, 0),
	})
	require.NoError(t, err)
	assert.Zero(t, b.TakerPrice)
	assert.Zero(t, b.TakerFees)
	assert.Zero(t, b.OwnerNetIncome)
}

func TestBreakdown_Errors(t *testing.T) {
	_, err := Breakdown(Input{Type: models.ListingTypeRental, Start: t0, End: t0, Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = Breakdown(Input{Type: models.ListingTypeSale, Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = Breakdown(Input{Type: models.ListingTypeSale, SalePrice: -1, Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = Breakdown(Input{Type: "barter", Quantity: 1})
	assert.Error(t, err)
}

func TestRefund(t *testing.T) {
	b := models.PriceBreakdown{TakerPrice: 1150, TakerFees: 150}

	assert.Equal(t, int64(1150), RefundAmount(b, RefundFull))
	assert.Equal(t, int64(1000), RefundAmount(b, RefundKeepFees))

	assert.Equal(t, RefundKeepFees, Policy(models.TriggerTaker, true))
	assert.Equal(t, RefundFull, Policy(models.TriggerTaker, false))
	assert.Equal(t, RefundFull, Policy(models.TriggerOwner, true))
	assert.Equal(t, RefundFull, Policy(models.TriggerSystem, true))
}
