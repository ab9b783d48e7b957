package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// Rewarded actions.
const (
	ActionValidEmail            = "valid_email"
	ActionCompleteProfile       = "complete_profile"
	ActionFirstLocation         = "first_location"
	ActionFirstListing          = "first_listing"
	ActionFirstBooking          = "first_booking"
	ActionFirstRating           = "first_rating"
	ActionConfirmedBookingOwner = "confirmed_booking_owner"
)

var ErrUnknownAction = errors.New("unknown gamification action")

// ActionPoints is the static action catalog.
var ActionPoints = map[string]int{
	ActionValidEmail:            20,
	ActionCompleteProfile:       30,
	ActionFirstLocation:         20,
	ActionFirstListing:          50,
	ActionFirstBooking:          40,
	ActionFirstRating:           30,
	ActionConfirmedBookingOwner: 60,
}

// Level is reached once a user has at least MinPoints.
type Level struct {
	ID        string
	MinPoints int
}

// Levels are sorted by MinPoints.
var Levels = []Level{
	{ID: "NONE", MinPoints: 0},
	{ID: "BEGINNER", MinPoints: 50},
	{ID: "BRONZE", MinPoints: 150},
	{ID: "SILVER", MinPoints: 400},
	{ID: "GOLD", MinPoints: 1000},
}

// LevelFor returns the index into Levels for points.
func LevelFor(points int) int {
	idx := 0
	for i, l := range Levels {
		if points >= l.MinPoints {
			idx = i
		}
	}
	return idx
}

func levelIndex(id string) int {
	for i, l := range Levels {
		if l.ID == id {
			return i
		}
	}
	return 0
}

// IGamificationService awards points for once-only actions.
type IGamificationService interface {
	// RecordAction returns false when the user already completed the action.
	RecordAction(ctx context.Context, userID utils.SixID, actionID string) (bool, error)
	GetProgress(ctx context.Context, userID utils.SixID) (*models.Progress, error)
}

type gamificationService struct {
	db       *mongo.Database
	notifier Notifier
	now      clock
}

func NewGamificationService(database *mongo.Database, notifier Notifier) IGamificationService {
	return &gamificationService{db: database, notifier: notifier, now: utcNow}
}

func (s *gamificationService) RecordAction(ctx context.Context, userID utils.SixID, actionID string) (bool, error) {
	points, ok := ActionPoints[actionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}

	event := &models.GamificationEvent{UserID: userID, ActionID: actionID, Points: points, CreatedAt: s.now()}
	if err := db.InsertUnique(ctx, s.db.Collection(db.GamificationEvents), event); err != nil {
		if db.IsDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record action %s: %w", actionID, err)
	}

	var user models.User
	err := s.db.Collection(db.Users).FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{"$inc": bson.M{"points": points}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		return true, fmt.Errorf("failed to add points to user %s: %w", userID, err)
	}

	oldIdx, newIdx := levelIndex(user.LevelID), LevelFor(user.Points)
	if user.LevelID != "" && oldIdx == newIdx {
		return true, nil
	}
	// Conditional on the previous level so concurrent awards settle on one writer.
	res, err := s.db.Collection(db.Users).UpdateOne(ctx,
		bson.M{"_id": userID, "level_id": user.LevelID},
		bson.M{"$set": bson.M{"level_id": Levels[newIdx].ID, "updated_at": s.now()}},
	)
	if err != nil {
		return true, fmt.Errorf("failed to update level of user %s: %w", userID, err)
	}
	if res.ModifiedCount == 1 && newIdx > oldIdx {
		data := map[string]interface{}{"level_id": Levels[newIdx].ID, "points": user.Points}
		if err := s.notifier.NotifyUser(ctx, userID, EventLevelUp, data); err != nil {
			logrus.WithError(err).WithField("userID", userID).Warn("failed to queue level-up notification")
		}
	}
	return true, nil
}

func (s *gamificationService) GetProgress(ctx context.Context, userID utils.SixID) (*models.Progress, error) {
	var user models.User
	if err := s.db.Collection(db.Users).FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	cursor, err := s.db.Collection(db.GamificationEvents).Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list actions of user %s: %w", userID, err)
	}
	var events []models.GamificationEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode actions: %w", err)
	}

	idx := LevelFor(user.Points)
	progress := &models.Progress{
		Points:           user.Points,
		LevelID:          Levels[idx].ID,
		CompletedActions: make([]string, 0, len(events)),
	}
	for _, e := range events {
		progress.CompletedActions = append(progress.CompletedActions, e.ActionID)
	}
	if idx+1 < len(Levels) {
		progress.NextLevelID = Levels[idx+1].ID
		progress.PointsToNext = Levels[idx+1].MinPoints - user.Points
	}
	return progress, nil
}
