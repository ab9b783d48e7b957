package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// ISnapshotService keeps immutable copies of entities as they were when a
// booking or removal referenced them.
type ISnapshotService interface {
	// Snapshot returns the latest snapshot of the target when its content is
	// unchanged, and stores a new one otherwise.
	Snapshot(ctx context.Context, targetType models.SnapshotTarget, targetID utils.SixID, doc interface{}) (*models.ModelSnapshot, error)
	Get(ctx context.Context, id utils.SixID) (*models.ModelSnapshot, error)
	// GetForUser is Get restricted to what userID may read. Admins read everything.
	GetForUser(ctx context.Context, userID utils.SixID, isAdmin bool, id utils.SixID) (*models.ModelSnapshot, error)
	Latest(ctx context.Context, targetType models.SnapshotTarget, targetID utils.SixID) (*models.ModelSnapshot, error)
}

type snapshotService struct {
	db  *mongo.Database
	now clock
}

func NewSnapshotService(database *mongo.Database) ISnapshotService {
	return &snapshotService{db: database, now: utcNow}
}

func (s *snapshotService) Snapshot(ctx context.Context, targetType models.SnapshotTarget, targetID utils.SixID, doc interface{}) (*models.ModelSnapshot, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s: %w", targetType, targetID, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	latest, err := s.Latest(ctx, targetType, targetID)
	switch {
	case err == nil && latest.Hash == hash:
		return latest, nil
	case err != nil && !errors.Is(err, ErrSnapshotNotFound):
		return nil, err
	}

	snap := &models.ModelSnapshot{
		TargetID:   targetID,
		TargetType: targetType,
		Data:       data,
		Hash:       hash,
		CreatedAt:  s.now(),
	}
	if err := db.InsertOne(ctx, s.db.Collection(db.ModelSnapshots), snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot of %s %s: %w", targetType, targetID, err)
	}
	return snap, nil
}

func (s *snapshotService) Get(ctx context.Context, id utils.SixID) (*models.ModelSnapshot, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *snapshotService) GetForUser(ctx context.Context, userID utils.SixID, isAdmin bool, id utils.SixID) (*models.ModelSnapshot, error) {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if isAdmin {
		return snap, nil
	}
	ok, err := s.visibleTo(ctx, snap, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return snap, nil
}

// accessCheck grants access when filter matches a document of coll.
type accessCheck struct {
	coll   string
	filter bson.M
}

// visibleTo lets users read snapshots of their own account, locations and
// listings, and the parties of a booking read what the booking references.
func (s *snapshotService) visibleTo(ctx context.Context, snap *models.ModelSnapshot, userID utils.SixID) (bool, error) {
	party := bson.A{bson.M{"owner_id": userID}, bson.M{"taker_id": userID}}
	var checks []accessCheck
	switch snap.TargetType {
	case models.SnapshotUser:
		return snap.TargetID == userID, nil
	case models.SnapshotListing:
		checks = []accessCheck{
			{db.Listings, bson.M{"_id": snap.TargetID, "owner_id": userID}},
			{db.Bookings, bson.M{"listing_snapshot_id": snap.ID, "$or": party}},
		}
	case models.SnapshotBooking:
		checks = []accessCheck{{db.Bookings, bson.M{"_id": snap.TargetID, "$or": party}}}
	case models.SnapshotLocation:
		checks = []accessCheck{{db.Locations, bson.M{"_id": snap.TargetID, "user_id": userID}}}
	default:
		return false, nil
	}
	for _, c := range checks {
		n, err := s.db.Collection(c.coll).CountDocuments(ctx, c.filter, options.Count().SetLimit(1))
		if err != nil {
			return false, fmt.Errorf("failed to check access to snapshot %s: %w", snap.ID, err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *snapshotService) Latest(ctx context.Context, targetType models.SnapshotTarget, targetID utils.SixID) (*models.ModelSnapshot, error) {
	return s.findOne(ctx,
		bson.M{"target_type": targetType, "target_id": targetID},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}),
	)
}

func (s *snapshotService) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*models.ModelSnapshot, error) {
	var snap models.ModelSnapshot
	if err := s.db.Collection(db.ModelSnapshots).FindOne(ctx, filter, opts...).Decode(&snap); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &snap, nil
}
