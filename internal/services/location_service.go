package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var (
	ErrLocationNotFound  = errors.New("location not found")
	ErrTooManyLocations  = errors.New("maximum number of locations reached")
	ErrLocationCoordPair = errors.New("latitude and longitude must be given together")
)

// LocationInput describes an address.
type LocationInput struct {
	Name       string   `json:"name" validate:"required,max=100"`
	Alias      string   `json:"alias" validate:"max=100"`
	Street     string   `json:"street" validate:"max=200"`
	PostalCode string   `json:"postal_code" validate:"max=20"`
	City       string   `json:"city" validate:"required,max=100"`
	Country    string   `json:"country_code" validate:"required,iso3166_1_alpha2"`
	Latitude   *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude  *float64 `json:"longitude" validate:"omitempty,longitude"`
}

func (in LocationInput) fields() (bson.M, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return nil, fmt.Errorf("%w: %v", ErrValidation, ErrLocationCoordPair)
	}
	set := bson.M{
		"name":         strings.TrimSpace(in.Name),
		"alias":        in.Alias,
		"street":       in.Street,
		"postal_code":  in.PostalCode,
		"city":         in.City,
		"country_code": strings.ToUpper(in.Country),
	}
	if in.Latitude != nil {
		set["geo"] = models.NewPoint(*in.Latitude, *in.Longitude)
	}
	return set, nil
}

// ILocationService manages the handover addresses of users.
type ILocationService interface {
	Create(ctx context.Context, userID utils.SixID, in LocationInput) (*models.Location, error)
	List(ctx context.Context, userID utils.SixID) ([]models.Location, error)
	Get(ctx context.Context, userID, locationID utils.SixID) (*models.Location, error)
	Update(ctx context.Context, userID, locationID utils.SixID, in LocationInput) (*models.Location, error)
	// Delete soft-deletes the location. When it was main, the oldest remaining
	// location becomes main.
	Delete(ctx context.Context, userID, locationID utils.SixID) error
	SetMain(ctx context.Context, userID, locationID utils.SixID) error
}

type locationService struct {
	db           *mongo.Database
	cfg          *config.Config
	gamification IGamificationService
	now          clock
}

func NewLocationService(database *mongo.Database, cfg *config.Config, gamification IGamificationService) ILocationService {
	return &locationService{db: database, cfg: cfg, gamification: gamification, now: utcNow}
}

func (s *locationService) collection() *mongo.Collection {
	return s.db.Collection(db.Locations)
}

func (s *locationService) Create(ctx context.Context, userID utils.SixID, in LocationInput) (*models.Location, error) {
	if _, err := in.fields(); err != nil {
		return nil, err
	}
	count, err := s.collection().CountDocuments(ctx, bson.M{"user_id": userID, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("failed to count locations of user %s: %w", userID, err)
	}
	if int(count) >= s.cfg.MaxLocationsPerUser {
		return nil, ErrTooManyLocations
	}

	loc := &models.Location{
		UserID:     userID,
		Name:       strings.TrimSpace(in.Name),
		Alias:      in.Alias,
		Street:     in.Street,
		PostalCode: in.PostalCode,
		City:       in.City,
		Country:    strings.ToUpper(in.Country),
		Main:       count == 0,
	}
	if in.Latitude != nil {
		loc.Geo = models.NewPoint(*in.Latitude, *in.Longitude)
	}
	loc.Touch(s.now())

	err = db.InsertUnique(ctx, s.collection(), loc)
	if db.IsDuplicateKey(err) && loc.Main {
		// A concurrent first location won the main slot.
		loc.Main = false
		err = db.InsertUnique(ctx, s.collection(), loc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create location: %w", err)
	}

	if count == 0 {
		if _, err := s.gamification.RecordAction(ctx, userID, ActionFirstLocation); err != nil {
			logrus.WithError(err).WithField("userID", userID).Warn("failed to record first_location")
		}
	}
	return loc, nil
}

func (s *locationService) List(ctx context.Context, userID utils.SixID) ([]models.Location, error) {
	cursor, err := s.collection().Find(ctx,
		bson.M{"user_id": userID, "deleted": false},
		options.Find().SetSort(bson.D{{Key: "main", Value: -1}, {Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations of user %s: %w", userID, err)
	}
	locations := []models.Location{}
	if err := cursor.All(ctx, &locations); err != nil {
		return nil, fmt.Errorf("failed to decode locations: %w", err)
	}
	return locations, nil
}

func (s *locationService) Get(ctx context.Context, userID, locationID utils.SixID) (*models.Location, error) {
	var loc models.Location
	err := s.collection().FindOne(ctx, bson.M{"_id": locationID, "user_id": userID, "deleted": false}).Decode(&loc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("failed to find location %s: %w", locationID, err)
	}
	return &loc, nil
}

func (s *locationService) Update(ctx context.Context, userID, locationID utils.SixID, in LocationInput) (*models.Location, error) {
	set, err := in.fields()
	if err != nil {
		return nil, err
	}
	set["updated_at"] = s.now()
	update := bson.M{"$set": set}
	if in.Latitude == nil {
		update["$unset"] = bson.M{"geo": ""}
	}

	var loc models.Location
	err = s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": locationID, "user_id": userID, "deleted": false},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&loc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("failed to update location %s: %w", locationID, err)
	}
	return &loc, nil
}

func (s *locationService) Delete(ctx context.Context, userID, locationID utils.SixID) error {
	var before models.Location
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": locationID, "user_id": userID, "deleted": false},
		bson.M{"$set": bson.M{"deleted": true, "main": false, "updated_at": s.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrLocationNotFound
		}
		return fmt.Errorf("failed to delete location %s: %w", locationID, err)
	}
	if !before.Main {
		return nil
	}

	err = s.collection().FindOneAndUpdate(ctx,
		bson.M{"user_id": userID, "deleted": false},
		bson.M{"$set": bson.M{"main": true, "updated_at": s.now()}},
		options.FindOneAndUpdate().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	).Err()
	switch {
	case err == nil, errors.Is(err, mongo.ErrNoDocuments), db.IsDuplicateKey(err):
		return nil
	default:
		return fmt.Errorf("failed to promote a main location for user %s: %w", userID, err)
	}
}

func (s *locationService) SetMain(ctx context.Context, userID, locationID utils.SixID) error {
	if _, err := s.Get(ctx, userID, locationID); err != nil {
		return err
	}
	// Another SetMain may slip in between the two writes, the unique index
	// rejects the second main and the loop clears it again.
	return db.WithRetries(func() error {
		now := s.now()
		if _, err := s.collection().UpdateMany(ctx,
			bson.M{"user_id": userID, "main": true, "_id": bson.M{"$ne": locationID}},
			bson.M{"$set": bson.M{"main": false, "updated_at": now}},
		); err != nil {
			return fmt.Errorf("failed to clear main location: %w", err)
		}
		res, err := s.collection().UpdateOne(ctx,
			bson.M{"_id": locationID, "user_id": userID, "deleted": false},
			bson.M{"$set": bson.M{"main": true, "updated_at": now}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrLocationNotFound
		}
		return nil
	}, db.DefaultMaxRetries, db.IsDuplicateKey)
}
