package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// AssessmentType says whether the report is made at handoff or return.
type AssessmentType string

const (
	AssessmentInput  AssessmentType = "input"
	AssessmentOutput AssessmentType = "output"
)

// ItemCondition is the state of the item as observed.
type ItemCondition string

const (
	ConditionGood    ItemCondition = "good"
	ConditionDamaged ItemCondition = "damaged"
	ConditionMissing ItemCondition = "missing"
)

// Assessment is a condition report the owner drafts and the taker signs.
// Once signed it is immutable.
type Assessment struct {
	Base            `bson:",inline"`
	Timestamps      `bson:",inline"`
	BookingID       utils.SixID    `bson:"booking_id" json:"booking_id"`
	ListingID       utils.SixID    `bson:"listing_id" json:"listing_id"`
	OwnerID         utils.SixID    `bson:"owner_id" json:"owner_id"`
	TakerID         utils.SixID    `bson:"taker_id" json:"taker_id"`
	Type            AssessmentType `bson:"type" json:"type"`
	Status          ItemCondition  `bson:"status" json:"status"`
	Comment         string         `bson:"comment" json:"comment"`
	Photos          []string       `bson:"photos" json:"photos"`
	DepositRetained int64          `bson:"deposit_retained" json:"deposit_retained"`
	SignerID        *utils.SixID   `bson:"signer_id,omitempty" json:"signer_id,omitempty"`
	SignedDate      *time.Time     `bson:"signed_date" json:"signed_date,omitempty"`
}

// AssessmentUpdate holds the editable fields.
type AssessmentUpdate struct {
	Status          *ItemCondition `json:"status" validate:"omitempty,oneof=good damaged missing"`
	Comment         *string        `json:"comment" validate:"omitempty,max=5000"`
	Photos          []string       `json:"photos" validate:"omitempty,max=20"`
	DepositRetained *int64         `json:"deposit_retained" validate:"omitempty,gte=0"`
}
