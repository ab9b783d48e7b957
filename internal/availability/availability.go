// Package availability answers whether a listing has enough units free over a
// period. All periods are half-open: a booking ending at T does not overlap
// one starting at T.
package availability

import (
	"errors"
	"sort"
	"time"

	"github.com/samjaninf/stelace-sub000/internal/models"
)

var (
	ErrInvalidPeriod     = errors.New("end date must be after start date")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrNotEnoughQuantity = errors.New("not enough quantity available")
)

// Period takes Quantity units over [Start, End).
type Period struct {
	Start    time.Time
	End      time.Time
	Quantity int
}

// Point is a change in used quantity: from Date on, Used units are taken.
type Point struct {
	Date time.Time `json:"date"`
	Used int       `json:"used"`
}

type event struct {
	at    time.Time
	delta int
}

func events(periods []Period) []event {
	evs := make([]event, 0, 2*len(periods))
	for _, p := range periods {
		if !p.End.After(p.Start) || p.Quantity <= 0 {
			continue
		}
		evs = append(evs, event{p.Start, p.Quantity}, event{p.End, -p.Quantity})
	}
	// Releases sort before takes at the same instant.
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].at.Equal(evs[j].at) {
			return evs[i].delta < evs[j].delta
		}
		return evs[i].at.Before(evs[j].at)
	})
	return evs
}

// Graph returns the used quantity over time as sorted change points. The
// usage before the first point is zero.
func Graph(periods []Period) []Point {
	var points []Point
	used := 0
	for _, ev := range events(periods) {
		used += ev.delta
		if n := len(points); n > 0 && points[n-1].Date.Equal(ev.at) {
			points[n-1].Used = used
			continue
		}
		points = append(points, Point{Date: ev.at, Used: used})
	}
	return points
}

// MaxUsed returns the peak number of units taken at any instant of [start, end).
func MaxUsed(periods []Period, start, end time.Time) int {
	var clipped []Period
	for _, p := range periods {
		if p.Start.Before(end) && p.End.After(start) {
			c := p
			if c.Start.Before(start) {
				c.Start = start
			}
			if c.End.After(end) {
				c.End = end
			}
			clipped = append(clipped, c)
		}
	}
	peak, used := 0, 0
	for _, ev := range events(clipped) {
		used += ev.delta
		if used > peak {
			peak = used
		}
	}
	return peak
}

// Remaining returns how many units stay free for the whole of [start, end).
func Remaining(total int, periods []Period, start, end time.Time) int {
	if free := total - MaxUsed(periods, start, end); free > 0 {
		return free
	}
	return 0
}

// Check verifies that q more units fit within total over [start, end).
func Check(total int, periods []Period, start, end time.Time, q int) error {
	if !end.After(start) {
		return ErrInvalidPeriod
	}
	if q < 1 {
		return ErrInvalidQuantity
	}
	if MaxUsed(periods, start, end)+q > total {
		return ErrNotEnoughQuantity
	}
	return nil
}

// CheckStock verifies a one-off purchase of q units from stock.
func CheckStock(stock, q int) error {
	if q < 1 {
		return ErrInvalidQuantity
	}
	if stock < q {
		return ErrNotEnoughQuantity
	}
	return nil
}

// FromBookings turns the capacity-holding bookings into periods.
func FromBookings(bookings []models.Booking) []Period {
	periods := make([]Period, 0, len(bookings))
	for i := range bookings {
		b := &bookings[i]
		if !b.Blocking() {
			continue
		}
		periods = append(periods, Period{Start: b.StartDate, End: b.EndDate, Quantity: b.Quantity})
	}
	return periods
}

// FromBlocks turns owner-declared unavailability into periods.
func FromBlocks(blocks []models.AvailabilityBlock) []Period {
	periods := make([]Period, 0, len(blocks))
	for _, blk := range blocks {
		periods = append(periods, Period{Start: blk.StartDate, End: blk.EndDate, Quantity: blk.Quantity})
	}
	return periods
}
