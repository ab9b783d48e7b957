package availability

import (
	"testing"
	"time"

	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func d(n int) time.Time { return base.AddDate(0, 0, n) }

func TestMaxUsed(t *testing.T) {
	periods := []Period{
		{Start: d(0), End: d(5), Quantity: 1},
		{Start: d(3), End: d(8), Quantity: 2},
		{Start: d(10), End: d(12), Quantity: 4},
	}

	assert.Equal(t, 3, MaxUsed(periods, d(0), d(10)))
	assert.Equal(t, 1, MaxUsed(periods, d(0), d(3)))
	assert.Equal(t, 2, MaxUsed(periods, d(5), d(10)), "back to back does not stack")
	assert.Equal(t, 0, MaxUsed(periods, d(8), d(10)))
	assert.Equal(t, 4, MaxUsed(periods, d(11), d(20)))
}

func TestCheck(t *testing.T) {
	periods := []Period{{Start: d(1), End: d(4), Quantity: 2}}

	require.NoError(t, Check(3, periods, d(2), d(3), 1))
	assert.ErrorIs(t, Check(3, periods, d(2), d(3), 2), ErrNotEnoughQuantity)
	require.NoError(t, Check(2, periods, d(4), d(6), 2), "starts exactly when the other ends")
	require.NoError(t, Check(2, periods, d(-2), d(1), 2), "ends exactly when the other starts")
	assert.ErrorIs(t, Check(2, periods, d(3), d(3), 1), ErrInvalidPeriod)
	assert.ErrorIs(t, Check(2, periods, d(5), d(6), 0), ErrInvalidQuantity)
}

func TestRemaining(t *testing.T) {
	periods := []Period{{Start: d(0), End: d(2), Quantity: 3}}
	assert.Equal(t, 2, Remaining(5, periods, d(1), d(3)))
	assert.Equal(t, 0, Remaining(2, periods, d(1), d(3)))
	assert.Equal(t, 5, Remaining(5, periods, d(2), d(3)))
}

func TestGraph(t *testing.T) {
	periods := []Period{
		{Start: d(0), End: d(2), Quantity: 1},
		{Start: d(2), End: d(4), Quantity: 1},
		{Start: d(1), End: d(3), Quantity: 2},
		{Start: d(5), End: d(5), Quantity: 9}, // empty, ignored
	}
	assert.Equal(t, []Point{
		{Date: d(0), Used: 1},
		{Date: d(1), Used: 3},
		{Date: d(2), Used: 3},
		{Date: d(3), Used: 1},
		{Date: d(4), Used: 0},
	}, Graph(periods))
	assert.Empty(t, Graph(nil))
}

func TestCheckStock(t *testing.T) {
	assert.NoError(t, CheckStock(3, 3))
	assert.ErrorIs(t, CheckStock(2, 3), ErrNotEnoughQuantity)
	assert.ErrorIs(t, CheckStock(2, 0), ErrInvalidQuantity)
}

func TestFromBookings_SkipsNonBlocking(t *testing.T) {
	now := time.Now()
	cancelled := utils.NewSixID()
	bookings := []models.Booking{
		{StartDate: d(0), EndDate: d(1), Quantity: 1},
		{StartDate: d(0), EndDate: d(1), Quantity: 2, PaidDate: &now},
		{StartDate: d(0), EndDate: d(1), Quantity: 4, AcceptedDate: &now},
		{StartDate: d(0), EndDate: d(1), Quantity: 8, PaidDate: &now, CancellationID: &cancelled},
	}
	periods := FromBookings(bookings)
	require.Len(t, periods, 2)
	assert.Equal(t, 6, MaxUsed(periods, d(0), d(1)))
}

func TestFromBlocks(t *testing.T) {
	blocks := []models.AvailabilityBlock{{StartDate: d(0), EndDate: d(3), Quantity: 1}}
	assert.Equal(t, []Period{{Start: d(0), End: d(3), Quantity: 1}}, FromBlocks(blocks))
}
