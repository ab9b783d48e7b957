package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// RatingTarget is the role of the rated user in the booking.
type RatingTarget string

const (
	TargetOwner RatingTarget = "owner"
	TargetTaker RatingTarget = "taker"
)

// Rating is one party's review of the other after a completed booking.
// It stays hidden until VisibleDate.
type Rating struct {
	Base           `bson:",inline"`
	Timestamps     `bson:",inline"`
	BookingID      utils.SixID  `bson:"booking_id" json:"booking_id"`
	ListingID      utils.SixID  `bson:"listing_id" json:"listing_id"`
	AuthorID       utils.SixID  `bson:"author_id" json:"author_id"`
	TargetID       utils.SixID  `bson:"target_id" json:"target_id"`
	TargetType     RatingTarget `bson:"target_type" json:"target_type"`
	Score          int          `bson:"score" json:"score"`
	Comment        string       `bson:"comment" json:"comment"`
	ListingComment string       `bson:"listing_comment,omitempty" json:"listing_comment,omitempty"`
	VisibleDate    time.Time    `bson:"visible_date" json:"visible_date"`
	Propagated     bool         `bson:"propagated" json:"-"`
}

// Visible reports whether the rating may be shown at now.
func (r *Rating) Visible(now time.Time) bool {
	return !r.VisibleDate.After(now)
}

// RatingInput is what an author submits.
type RatingInput struct {
	Score          int    `json:"score" validate:"required,min=1,max=5"`
	Comment        string `json:"comment" validate:"max=2000"`
	ListingComment string `json:"listing_comment" validate:"max=2000"`
}
