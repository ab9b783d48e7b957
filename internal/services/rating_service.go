package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var (
	ErrAlreadyRated    = errors.New("booking already rated by this user")
	ErrRatingNotFound  = errors.New("rating not found")
	ErrRatingPublished = errors.New("rating is already visible")
)

const maxRatings = 100

// IRatingService collects the reviews both parties leave after a booking.
// A rating is hidden until the counterpart rated too or the delay passed.
type IRatingService interface {
	Create(ctx context.Context, authorID, bookingID utils.SixID, in models.RatingInput) (*models.Rating, error)
	Update(ctx context.Context, authorID, ratingID utils.SixID, in models.RatingInput) (*models.Rating, error)
	ListForUser(ctx context.Context, targetID utils.SixID) ([]models.Rating, error)
	ListForListing(ctx context.Context, listingID utils.SixID) ([]models.Rating, error)
	// RevealDue propagates ratings whose visibility date has passed.
	RevealDue(ctx context.Context, now time.Time) (int, error)
}

type ratingService struct {
	db           *mongo.Database
	settings     ISettingsService
	gamification IGamificationService
	notifier     Notifier
	now          clock
}

func NewRatingService(database *mongo.Database, settings ISettingsService, gamification IGamificationService, notifier Notifier) IRatingService {
	return &ratingService{db: database, settings: settings, gamification: gamification, notifier: notifier, now: utcNow}
}

func (s *ratingService) collection() *mongo.Collection {
	return s.db.Collection(db.Ratings)
}

func (s *ratingService) Create(ctx context.Context, authorID, bookingID utils.SixID, in models.RatingInput) (*models.Rating, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	var b models.Booking
	if err := s.db.Collection(db.Bookings).FindOne(ctx, bson.M{"_id": bookingID}).Decode(&b); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to load booking %s: %w", bookingID, err)
	}
	if !b.IsParty(authorID) {
		return nil, ErrForbidden
	}
	if b.Status() != models.BookingCompleted {
		return nil, ErrInvalidTransition
	}

	now := s.now()
	rating := &models.Rating{
		BookingID:   b.ID,
		ListingID:   b.ListingID,
		AuthorID:    authorID,
		TargetID:    b.Counterpart(authorID),
		TargetType:  models.TargetTaker,
		Score:       in.Score,
		Comment:     in.Comment,
		VisibleDate: now.Add(s.settings.RatingVisibilityDelay(ctx)),
	}
	if rating.TargetID == b.OwnerID {
		rating.TargetType = models.TargetOwner
		rating.ListingComment = in.ListingComment
	}
	rating.Touch(now)
	if err := db.InsertUnique(ctx, s.collection(), rating); err != nil {
		if db.IsDuplicateKey(err) {
			return nil, ErrAlreadyRated
		}
		return nil, fmt.Errorf("failed to store rating: %w", err)
	}

	n, err := s.collection().CountDocuments(ctx, bson.M{"booking_id": b.ID, "author_id": rating.TargetID})
	if err != nil {
		return nil, fmt.Errorf("failed to look up counterpart rating: %w", err)
	}
	if n > 0 {
		if _, err := s.collection().UpdateMany(ctx,
			bson.M{"booking_id": b.ID, "visible_date": bson.M{"$gt": now}},
			bson.M{"$set": bson.M{"visible_date": now}},
		); err != nil {
			return nil, fmt.Errorf("failed to reveal ratings of booking %s: %w", b.ID, err)
		}
		rating.VisibleDate = now
		if _, err := s.revealBooking(ctx, b.ID, now); err != nil {
			return nil, err
		}
	}

	if err := s.notifier.NotifyUser(ctx, rating.TargetID, EventRatingReceived, map[string]interface{}{
		"booking_id": b.ID.String(),
		"visible":    rating.Visible(now),
	}); err != nil {
		logrus.WithError(err).WithField("ratingID", rating.ID).Warn("failed to queue rating notification")
	}
	return rating, nil
}

func (s *ratingService) Update(ctx context.Context, authorID, ratingID utils.SixID, in models.RatingInput) (*models.Rating, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	now := s.now()
	set := bson.M{"score": in.Score, "comment": in.Comment, "updated_at": now}
	var updated models.Rating
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": ratingID, "author_id": authorID, "visible_date": bson.M{"$gt": now}},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		var existing models.Rating
		if ferr := s.collection().FindOne(ctx, bson.M{"_id": ratingID}).Decode(&existing); ferr != nil {
			return nil, ErrRatingNotFound
		}
		if existing.AuthorID != authorID {
			return nil, ErrForbidden
		}
		return nil, ErrRatingPublished
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update rating %s: %w", ratingID, err)
	}
	if updated.TargetType == models.TargetOwner {
		if _, err := s.collection().UpdateOne(ctx, bson.M{"_id": ratingID}, bson.M{"$set": bson.M{"listing_comment": in.ListingComment}}); err != nil {
			return nil, fmt.Errorf("failed to update listing comment of rating %s: %w", ratingID, err)
		}
		updated.ListingComment = in.ListingComment
	}
	return &updated, nil
}

func (s *ratingService) listVisible(ctx context.Context, filter bson.M) ([]models.Rating, error) {
	filter["visible_date"] = bson.M{"$lte": s.now()}
	cursor, err := s.collection().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "visible_date", Value: -1}}).SetLimit(maxRatings))
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	ratings := []models.Rating{}
	if err := cursor.All(ctx, &ratings); err != nil {
		return nil, fmt.Errorf("failed to decode ratings: %w", err)
	}
	return ratings, nil
}

func (s *ratingService) ListForUser(ctx context.Context, targetID utils.SixID) ([]models.Rating, error) {
	return s.listVisible(ctx, bson.M{"target_id": targetID})
}

func (s *ratingService) ListForListing(ctx context.Context, listingID utils.SixID) ([]models.Rating, error) {
	return s.listVisible(ctx, bson.M{"listing_id": listingID, "target_type": models.TargetOwner})
}

func (s *ratingService) RevealDue(ctx context.Context, now time.Time) (int, error) {
	return s.reveal(ctx, bson.M{"propagated": false, "visible_date": bson.M{"$lte": now}}, now)
}

func (s *ratingService) revealBooking(ctx context.Context, bookingID utils.SixID, now time.Time) (int, error) {
	return s.reveal(ctx, bson.M{"booking_id": bookingID, "propagated": false, "visible_date": bson.M{"$lte": now}}, now)
}

func (s *ratingService) reveal(ctx context.Context, filter bson.M, now time.Time) (int, error) {
	cursor, err := s.collection().Find(ctx, filter, options.Find().SetLimit(sweepBatchSize))
	if err != nil {
		return 0, fmt.Errorf("failed to find ratings to reveal: %w", err)
	}
	var ratings []models.Rating
	if err := cursor.All(ctx, &ratings); err != nil {
		return 0, fmt.Errorf("failed to decode ratings: %w", err)
	}
	revealed := 0
	for i := range ratings {
		ok, err := s.propagate(ctx, &ratings[i], now)
		if err != nil {
			logrus.WithError(err).WithField("ratingID", ratings[i].ID).Error("failed to propagate rating")
			continue
		}
		if ok {
			revealed++
		}
	}
	return revealed, nil
}

// propagate folds a newly visible rating into the scores of its target, once.
func (s *ratingService) propagate(ctx context.Context, r *models.Rating, now time.Time) (bool, error) {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": r.ID, "propagated": false, "visible_date": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"propagated": true}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to flag rating %s: %w", r.ID, err)
	}
	if res.ModifiedCount == 0 {
		return false, nil
	}

	if err := s.recompute(ctx, db.Users, r.TargetID, bson.M{"target_id": r.TargetID}, now); err != nil {
		return true, err
	}
	if r.TargetType == models.TargetOwner {
		if err := s.recompute(ctx, db.Listings, r.ListingID, bson.M{"listing_id": r.ListingID, "target_type": models.TargetOwner}, now); err != nil {
			return true, err
		}
	}
	if _, err := s.gamification.RecordAction(ctx, r.AuthorID, ActionFirstRating); err != nil {
		logrus.WithError(err).WithField("userID", r.AuthorID).Warn("failed to record first rating")
	}
	return true, nil
}

// recompute stores the average and count of the visible ratings matching
// match on the document id of collection.
func (s *ratingService) recompute(ctx context.Context, collection string, id utils.SixID, match bson.M, now time.Time) error {
	match["visible_date"] = bson.M{"$lte": now}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "score", Value: bson.D{{Key: "$avg", Value: "$score"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("failed to aggregate ratings: %w", err)
	}
	var stats []struct {
		Score float64 `bson:"score"`
		Count int     `bson:"count"`
	}
	if err := cursor.All(ctx, &stats); err != nil {
		return fmt.Errorf("failed to decode rating stats: %w", err)
	}
	score, count := 0.0, 0
	if len(stats) > 0 {
		score, count = math.Round(stats[0].Score*100)/100, stats[0].Count
	}
	if _, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"rating_score": score, "nb_ratings": count}},
	); err != nil {
		return fmt.Errorf("failed to store rating score in %s: %w", collection, err)
	}
	return nil
}
