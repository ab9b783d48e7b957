package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// ListingType separates time-based rentals from one-off sales.
type ListingType string

const (
	ListingTypeRental ListingType = "rental"
	ListingTypeSale   ListingType = "sale"
)

// ListingStatus is the publication state of a listing.
type ListingStatus string

const (
	ListingStatusDraft     ListingStatus = "draft"
	ListingStatusPublished ListingStatus = "published"
	ListingStatusPaused    ListingStatus = "paused"
)

// Pricing configures rental prices. Day one costs DayOnePrice, each following
// day costs a percentage of it taken from Ratios, the last ratio repeating.
type Pricing struct {
	DayOnePrice int64  `bson:"day_one_price" json:"day_one_price" validate:"gte=0"`
	Ratios      []int  `bson:"ratios,omitempty" json:"ratios,omitempty" validate:"dive,gte=0,lte=100"`
	Currency    string `bson:"currency" json:"currency" validate:"omitempty,iso4217"`
}

// AvailabilityBlock takes quantity units out of stock over [StartDate, EndDate).
type AvailabilityBlock struct {
	ID        utils.SixID `bson:"id" json:"id"`
	StartDate time.Time   `bson:"start_date" json:"start_date"`
	EndDate   time.Time   `bson:"end_date" json:"end_date"`
	Quantity  int         `bson:"quantity" json:"quantity"`
}

// Listing is an item offered for rent or sale.
type Listing struct {
	Base               `bson:",inline"`
	Timestamps         `bson:",inline"`
	OwnerID            utils.SixID         `bson:"owner_id" json:"owner_id"`
	Title              string              `bson:"title" json:"title"`
	Description        string              `bson:"description" json:"description"`
	Tags               []string            `bson:"tags" json:"tags"`
	Images             []string            `bson:"images" json:"images"` // S3 keys
	LocationIDs        []utils.SixID       `bson:"location_ids" json:"location_ids"`
	Type               ListingType         `bson:"type" json:"type"`
	Pricing            Pricing             `bson:"pricing" json:"pricing"`
	SalePrice          int64               `bson:"sale_price" json:"sale_price"`
	Deposit            int64               `bson:"deposit" json:"deposit"`
	Quantity           int                 `bson:"quantity" json:"quantity"`
	Status             ListingStatus       `bson:"status" json:"status"`
	PublishedAt        *time.Time          `bson:"published_at,omitempty" json:"published_at,omitempty"`
	AvailabilityBlocks []AvailabilityBlock `bson:"availability_blocks" json:"availability_blocks"`
	RatingScore        float64             `bson:"rating_score" json:"rating_score"`
	NbRatings          int                 `bson:"nb_ratings" json:"nb_ratings"`
	Deleted            bool                `bson:"deleted" json:"-"`
}

// Currency falls back to def when the listing has none configured.
func (l *Listing) Currency(def string) string {
	if l.Pricing.Currency != "" {
		return l.Pricing.Currency
	}
	return def
}

// Bookable reports whether takers may book the listing.
func (l *Listing) Bookable() bool {
	return !l.Deleted && l.Status == ListingStatusPublished
}

// ListingFilter narrows Search.
type ListingFilter struct {
	OwnerID *utils.SixID
	Tags    []string
	Type    ListingType
	Status  ListingStatus
	Query   string
	Page    int
	PerPage int
}
