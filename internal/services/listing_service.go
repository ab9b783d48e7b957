package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/availability"
	"github.com/samjaninf/stelace-sub000/internal/cache"
	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/pricing"
	"github.com/samjaninf/stelace-sub000/internal/storage"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var (
	ErrListingNotFound          = errors.New("listing not found")
	ErrListingUnavailable       = errors.New("listing is not available for booking")
	ErrListingHasFutureBookings = errors.New("listing has future bookings")
	ErrBlockNotFound            = errors.New("availability block not found")
	ErrStorageUnavailable       = errors.New("object storage is not configured")
	ErrInvalidImageKey          = errors.New("image key does not belong to this listing")
	ErrUnsupportedContentType   = errors.New("unsupported content type")
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ListingInput creates a listing.
type ListingInput struct {
	Title       string             `json:"title" validate:"required,max=200"`
	Description string             `json:"description" validate:"max=10000"`
	Tags        []string           `json:"tags" validate:"max=20,dive,min=1,max=50"`
	LocationIDs []utils.SixID      `json:"location_ids" validate:"max=10"`
	Type        models.ListingType `json:"type" validate:"required,oneof=rental sale"`
	Pricing     models.Pricing     `json:"pricing"`
	SalePrice   int64              `json:"sale_price" validate:"gte=0"`
	Deposit     int64              `json:"deposit" validate:"gte=0"`
	Quantity    int                `json:"quantity" validate:"required,min=1"`
}

// ListingUpdate holds the editable fields. Nil fields are left alone.
type ListingUpdate struct {
	Title       *string         `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string         `json:"description" validate:"omitempty,max=10000"`
	Tags        []string        `json:"tags" validate:"omitempty,max=20,dive,min=1,max=50"`
	LocationIDs []utils.SixID   `json:"location_ids" validate:"omitempty,max=10"`
	Pricing     *models.Pricing `json:"pricing"`
	SalePrice   *int64          `json:"sale_price" validate:"omitempty,gte=0"`
	Deposit     *int64          `json:"deposit" validate:"omitempty,gte=0"`
	Quantity    *int            `json:"quantity" validate:"omitempty,min=0"`
}

// BlockInput declares units of a listing unavailable.
type BlockInput struct {
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

// QuoteInput is a prospective booking.
type QuoteInput struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Quantity  int       `json:"quantity"`
}

// Quote is the price and availability of a prospective booking.
type Quote struct {
	Price     models.PriceBreakdown `json:"price"`
	Available bool                  `json:"available"`
	Remaining int                   `json:"remaining"`
}

// AvailabilityView is the usage of a listing over a window.
type AvailabilityView struct {
	Quantity  int                  `json:"quantity"`
	From      time.Time            `json:"from"`
	To        time.Time            `json:"to"`
	Remaining int                  `json:"remaining"`
	Graph     []availability.Point `json:"graph"`
}

// IListingService manages listings, their availability and their images.
type IListingService interface {
	Create(ctx context.Context, ownerID utils.SixID, in ListingInput) (*models.Listing, error)
	// GetByID returns a live listing whatever its status.
	GetByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	Update(ctx context.Context, ownerID, listingID utils.SixID, update ListingUpdate) (*models.Listing, error)
	Publish(ctx context.Context, ownerID, listingID utils.SixID) (*models.Listing, error)
	Pause(ctx context.Context, ownerID, listingID utils.SixID) (*models.Listing, error)
	Search(ctx context.Context, filter models.ListingFilter) ([]models.Listing, int64, error)
	AddAvailabilityBlock(ctx context.Context, ownerID, listingID utils.SixID, in BlockInput) (*models.AvailabilityBlock, error)
	RemoveAvailabilityBlock(ctx context.Context, ownerID, listingID, blockID utils.SixID) error
	// Remove snapshots then soft-deletes the listing. It fails while future
	// bookings hold capacity.
	Remove(ctx context.Context, ownerID, listingID utils.SixID) error
	GeneratePresignedImageURL(ctx context.Context, ownerID, listingID utils.SixID, filename, contentType string) (url, key string, err error)
	// ConfirmImageUpload queues the thumbnail task for an uploaded image.
	ConfirmImageUpload(ctx context.Context, ownerID, listingID utils.SixID, key string) error
	// AddImage attaches a processed image. Called by the thumbnail task.
	AddImage(ctx context.Context, listingID utils.SixID, key string) error
	Quote(ctx context.Context, listingID utils.SixID, in QuoteInput) (*Quote, error)
	Availability(ctx context.Context, listingID utils.SixID, from, to time.Time) (*AvailabilityView, error)
	// Periods returns the capacity held by blocking bookings and owner blocks,
	// leaving out excludeBookingID.
	Periods(ctx context.Context, listing *models.Listing, excludeBookingID *utils.SixID) ([]availability.Period, error)
}

type listingService struct {
	db           *mongo.Database
	cfg          *config.Config
	locker       cache.Locker
	storage      storage.IS3Storage
	snapshots    ISnapshotService
	gamification IGamificationService
	settings     ISettingsService
	notifier     Notifier
	now          clock
}

func NewListingService(database *mongo.Database, cfg *config.Config, locker cache.Locker, store storage.IS3Storage,
	snapshots ISnapshotService, gamification IGamificationService, settings ISettingsService, notifier Notifier) IListingService {
	return &listingService{
		db:           database,
		cfg:          cfg,
		locker:       locker,
		storage:      store,
		snapshots:    snapshots,
		gamification: gamification,
		settings:     settings,
		notifier:     notifier,
		now:          utcNow,
	}
}

// listingLock is the lock name serializing capacity changes of a listing.
func listingLock(listingID utils.SixID) string {
	return "listing:" + listingID.String()
}

func (s *listingService) collection() *mongo.Collection {
	return s.db.Collection(db.Listings)
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (s *listingService) Create(ctx context.Context, ownerID utils.SixID, in ListingInput) (*models.Listing, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := validateStruct(in.Pricing); err != nil {
		return nil, err
	}
	if in.LocationIDs == nil {
		in.LocationIDs = []utils.SixID{}
	}

	listing := &models.Listing{
		OwnerID:            ownerID,
		Title:              strings.TrimSpace(in.Title),
		Description:        in.Description,
		Tags:               normalizeTags(in.Tags),
		Images:             []string{},
		LocationIDs:        in.LocationIDs,
		Type:               in.Type,
		Pricing:            in.Pricing,
		SalePrice:          in.SalePrice,
		Deposit:            in.Deposit,
		Quantity:           in.Quantity,
		Status:             models.ListingStatusDraft,
		AvailabilityBlocks: []models.AvailabilityBlock{},
	}
	listing.Pricing.Currency = listing.Currency(s.cfg.DefaultCurrency)
	listing.Touch(s.now())

	if err := db.InsertOne(ctx, s.collection(), listing); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	logrus.WithFields(logrus.Fields{"listingID": listing.ID, "ownerID": ownerID}).Info("listing created")
	return listing, nil
}

func (s *listingService) GetByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	if err := s.collection().FindOne(ctx, bson.M{"_id": listingID, "deleted": false}).Decode(&listing); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to find listing %s: %w", listingID, err)
	}
	return &listing, nil
}

// getOwned returns the listing when ownerID owns it.
func (s *listingService) getOwned(ctx context.Context, ownerID, listingID utils.SixID) (*models.Listing, error) {
	listing, err := s.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return listing, nil
}

// updateOwned applies update under filter and explains a mismatch.
func (s *listingService) updateOwned(ctx context.Context, ownerID, listingID utils.SixID, filter, update bson.M) (*models.Listing, error) {
	filter["_id"] = listingID
	filter["owner_id"] = ownerID
	filter["deleted"] = false

	var listing models.Listing
	err := s.collection().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&listing)
	if err == nil {
		return &listing, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update listing %s: %w", listingID, err)
	}
	if _, err := s.getOwned(ctx, ownerID, listingID); err != nil {
		return nil, err
	}
	return nil, ErrInvalidTransition
}

func (s *listingService) Update(ctx context.Context, ownerID, listingID utils.SixID, update ListingUpdate) (*models.Listing, error) {
	if err := validateStruct(update); err != nil {
		return nil, err
	}
	set := bson.M{"updated_at": s.now()}
	if update.Title != nil {
		set["title"] = strings.TrimSpace(*update.Title)
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Tags != nil {
		set["tags"] = normalizeTags(update.Tags)
	}
	if update.LocationIDs != nil {
		set["location_ids"] = update.LocationIDs
	}
	if update.Pricing != nil {
		if err := validateStruct(update.Pricing); err != nil {
			return nil, err
		}
		p := *update.Pricing
		if p.Currency == "" {
			p.Currency = s.cfg.DefaultCurrency
		}
		set["pricing"] = p
	}
	if update.SalePrice != nil {
		set["sale_price"] = *update.SalePrice
	}
	if update.Deposit != nil {
		set["deposit"] = *update.Deposit
	}
	if update.Quantity != nil {
		set["quantity"] = *update.Quantity
	}
	return s.updateOwned(ctx, ownerID, listingID, bson.M{}, bson.M{"$set": set})
}

func (s *listingService) Publish(ctx context.Context, ownerID, listingID utils.SixID) (*models.Listing, error) {
	now := s.now()
	listing, err := s.updateOwned(ctx, ownerID, listingID,
		bson.M{"status": bson.M{"$in": []models.ListingStatus{models.ListingStatusDraft, models.ListingStatusPaused}}},
		bson.M{"$set": bson.M{"status": models.ListingStatusPublished, "updated_at": now}},
	)
	if err != nil {
		return nil, err
	}
	if listing.PublishedAt == nil {
		if _, err := s.collection().UpdateOne(ctx,
			bson.M{"_id": listingID, "published_at": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"published_at": now}},
		); err != nil {
			logrus.WithError(err).WithField("listingID", listingID).Warn("failed to set published_at")
		}
		listing.PublishedAt = &now
	}
	if _, err := s.gamification.RecordAction(ctx, ownerID, ActionFirstListing); err != nil {
		logrus.WithError(err).WithField("userID", ownerID).Warn("failed to record first_listing")
	}
	return listing, nil
}

func (s *listingService) Pause(ctx context.Context, ownerID, listingID utils.SixID) (*models.Listing, error) {
	return s.updateOwned(ctx, ownerID, listingID,
		bson.M{"status": models.ListingStatusPublished},
		bson.M{"$set": bson.M{"status": models.ListingStatusPaused, "updated_at": s.now()}},
	)
}

// searchFilter builds the Mongo filter. A leading "-" on a tag excludes it.
func searchFilter(f models.ListingFilter) bson.M {
	filter := bson.M{"deleted": false}
	if f.OwnerID != nil {
		filter["owner_id"] = *f.OwnerID
	}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		filter["title"] = bson.M{"$regex": regexp.QuoteMeta(q), "$options": "i"}
	}

	var include, exclude []string
	for _, tag := range f.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		switch {
		case strings.HasPrefix(tag, "-") && len(tag) > 1:
			exclude = append(exclude, tag[1:])
		case tag != "" && tag != "-":
			include = append(include, tag)
		}
	}
	if len(include) > 0 || len(exclude) > 0 {
		tagFilter := bson.M{}
		if len(include) > 0 {
			tagFilter["$all"] = include
		}
		if len(exclude) > 0 {
			tagFilter["$nin"] = exclude
		}
		filter["tags"] = tagFilter
	}
	return filter
}

func pageBounds(page, perPage int) (skip, limit int64) {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page < 1 {
		page = 1
	}
	return int64((page - 1) * perPage), int64(perPage)
}

func (s *listingService) Search(ctx context.Context, f models.ListingFilter) ([]models.Listing, int64, error) {
	filter := searchFilter(f)
	total, err := s.collection().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}
	skip, limit := pageBounds(f.Page, f.PerPage)
	opts := options.Find().
		SetSort(bson.D{{Key: "published_at", Value: -1}, {Key: "created_at", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)
	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search listings: %w", err)
	}
	listings := []models.Listing{}
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, 0, fmt.Errorf("failed to decode listings: %w", err)
	}
	return listings, total, nil
}

// blockingFilter matches the bookings of a listing holding capacity.
func blockingFilter(listingID utils.SixID) bson.M {
	return bson.M{
		"listing_id":      listingID,
		"cancellation_id": nil,
		"$or": bson.A{
			bson.M{"accepted_date": bson.M{"$ne": nil}},
			bson.M{"paid_date": bson.M{"$ne": nil}},
		},
	}
}

func (s *listingService) Periods(ctx context.Context, listing *models.Listing, excludeBookingID *utils.SixID) ([]availability.Period, error) {
	filter := blockingFilter(listing.ID)
	filter["end_date"] = bson.M{"$gt": s.now().Add(-24 * time.Hour)}
	if excludeBookingID != nil {
		filter["_id"] = bson.M{"$ne": *excludeBookingID}
	}
	cursor, err := s.db.Collection(db.Bookings).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings of listing %s: %w", listing.ID, err)
	}
	var bookings []models.Booking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings: %w", err)
	}
	periods := availability.FromBookings(bookings)
	return append(periods, availability.FromBlocks(listing.AvailabilityBlocks)...), nil
}

func (s *listingService) AddAvailabilityBlock(ctx context.Context, ownerID, listingID utils.SixID, in BlockInput) (*models.AvailabilityBlock, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	block := models.AvailabilityBlock{
		ID:        utils.NewSixID(),
		StartDate: in.StartDate.UTC(),
		EndDate:   in.EndDate.UTC(),
		Quantity:  in.Quantity,
	}
	err := s.locker.WithLock(ctx, listingLock(listingID), func(ctx context.Context) error {
		listing, err := s.getOwned(ctx, ownerID, listingID)
		if err != nil {
			return err
		}
		if listing.Type != models.ListingTypeRental {
			return fmt.Errorf("%w: only rentals have availability blocks", ErrValidation)
		}
		periods, err := s.Periods(ctx, listing, nil)
		if err != nil {
			return err
		}
		if err := availability.Check(listing.Quantity, periods, block.StartDate, block.EndDate, block.Quantity); err != nil {
			return err
		}
		_, err = s.collection().UpdateOne(ctx,
			bson.M{"_id": listingID, "owner_id": ownerID, "deleted": false},
			bson.M{"$push": bson.M{"availability_blocks": block}, "$set": bson.M{"updated_at": s.now()}},
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (s *listingService) RemoveAvailabilityBlock(ctx context.Context, ownerID, listingID, blockID utils.SixID) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": listingID, "owner_id": ownerID, "deleted": false, "availability_blocks.id": blockID},
		bson.M{"$pull": bson.M{"availability_blocks": bson.M{"id": blockID}}, "$set": bson.M{"updated_at": s.now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to remove availability block: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.getOwned(ctx, ownerID, listingID); err != nil {
			return err
		}
		return ErrBlockNotFound
	}
	return nil
}

func (s *listingService) Remove(ctx context.Context, ownerID, listingID utils.SixID) error {
	return s.locker.WithLock(ctx, listingLock(listingID), func(ctx context.Context) error {
		listing, err := s.getOwned(ctx, ownerID, listingID)
		if err != nil {
			return err
		}
		filter := blockingFilter(listingID)
		filter["end_date"] = bson.M{"$gt": s.now()}
		filter["completed_date"] = nil
		future, err := s.db.Collection(db.Bookings).CountDocuments(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to count future bookings: %w", err)
		}
		if future > 0 {
			return ErrListingHasFutureBookings
		}

		if _, err := s.snapshots.Snapshot(ctx, models.SnapshotListing, listing.ID, listing); err != nil {
			return err
		}
		res, err := s.collection().UpdateOne(ctx,
			bson.M{"_id": listingID, "owner_id": ownerID, "deleted": false},
			bson.M{"$set": bson.M{"deleted": true, "status": models.ListingStatusPaused, "updated_at": s.now()}},
		)
		if err != nil {
			return fmt.Errorf("failed to remove listing %s: %w", listingID, err)
		}
		if res.MatchedCount == 0 {
			return ErrListingNotFound
		}
		logrus.WithField("listingID", listingID).Info("listing removed")
		return nil
	})
}

func imageKeyPrefix(listingID utils.SixID) string {
	return storage.PrefixListings + "/" + listingID.String() + "/"
}

func (s *listingService) GeneratePresignedImageURL(ctx context.Context, ownerID, listingID utils.SixID, filename, contentType string) (string, string, error) {
	if s.storage == nil {
		return "", "", ErrStorageUnavailable
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", "", ErrUnsupportedContentType
	}
	if _, err := s.getOwned(ctx, ownerID, listingID); err != nil {
		return "", "", err
	}
	return s.storage.GeneratePresignedPutURL(ctx, storage.PrefixListings, listingID.String(), filename, contentType)
}

func (s *listingService) ConfirmImageUpload(ctx context.Context, ownerID, listingID utils.SixID, key string) error {
	if !strings.HasPrefix(key, imageKeyPrefix(listingID)) || strings.Contains(key, "..") {
		return ErrInvalidImageKey
	}
	if _, err := s.getOwned(ctx, ownerID, listingID); err != nil {
		return err
	}
	return s.notifier.EnqueueThumbnail(ctx, listingID, key)
}

func (s *listingService) AddImage(ctx context.Context, listingID utils.SixID, key string) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": listingID, "deleted": false},
		bson.M{"$addToSet": bson.M{"images": key}, "$set": bson.M{"updated_at": s.now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to add image %s to listing %s: %w", key, listingID, err)
	}
	if res.MatchedCount == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (s *listingService) Quote(ctx context.Context, listingID utils.SixID, in QuoteInput) (*Quote, error) {
	listing, err := s.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	// Sales ignore the period.
	start, end := in.StartDate.UTC(), in.EndDate.UTC()
	price, err := pricing.Breakdown(pricing.Input{
		Type:      listing.Type,
		Pricing:   listing.Pricing,
		SalePrice: listing.SalePrice,
		Deposit:   listing.Deposit,
		Start:     start,
		End:       end,
		Quantity:  in.Quantity,
		Currency:  listing.Currency(s.cfg.DefaultCurrency),
		Fees:      s.settings.Fees(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	q := &Quote{Price: price}
	if listing.Type == models.ListingTypeSale {
		q.Remaining = listing.Quantity
	} else {
		periods, err := s.Periods(ctx, listing, nil)
		if err != nil {
			return nil, err
		}
		q.Remaining = availability.Remaining(listing.Quantity, periods, start, end)
	}
	q.Available = listing.Bookable() && q.Remaining >= in.Quantity
	return q, nil
}

func (s *listingService) Availability(ctx context.Context, listingID utils.SixID, from, to time.Time) (*AvailabilityView, error) {
	listing, err := s.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	from, to = from.UTC(), to.UTC()
	if !to.After(from) {
		return nil, fmt.Errorf("%w: %v", ErrValidation, availability.ErrInvalidPeriod)
	}
	view := &AvailabilityView{Quantity: listing.Quantity, From: from, To: to}
	if listing.Type == models.ListingTypeSale {
		view.Remaining = listing.Quantity
		view.Graph = []availability.Point{}
		return view, nil
	}
	periods, err := s.Periods(ctx, listing, nil)
	if err != nil {
		return nil, err
	}
	view.Remaining = availability.Remaining(listing.Quantity, periods, from, to)
	view.Graph = availability.Graph(clip(periods, from, to))
	return view, nil
}

// clip keeps the periods overlapping [from, to).
func clip(periods []availability.Period, from, to time.Time) []availability.Period {
	out := make([]availability.Period, 0, len(periods))
	for _, p := range periods {
		if p.Start.Before(to) && p.End.After(from) {
			out = append(out, p)
		}
	}
	return out
}
