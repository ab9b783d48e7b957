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

	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/storage"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var (
	ErrAssessmentExists   = errors.New("assessment already exists for this booking")
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrAssessmentSigned   = errors.New("assessment is signed")
	ErrInvalidPhotoKey    = errors.New("photo key does not belong to this booking")
)

// IAssessmentService manages the condition reports drafted by owners and
// signed by takers at handoff and return.
type IAssessmentService interface {
	Create(ctx context.Context, ownerID, bookingID utils.SixID, assessmentType models.AssessmentType) (*models.Assessment, error)
	Update(ctx context.Context, ownerID, assessmentID utils.SixID, update models.AssessmentUpdate) (*models.Assessment, error)
	Sign(ctx context.Context, takerID, assessmentID utils.SixID) (*models.Assessment, error)
	GetForBooking(ctx context.Context, userID, bookingID utils.SixID) ([]models.Assessment, error)
	PhotoUploadURL(ctx context.Context, userID, bookingID utils.SixID, filename, contentType string) (string, string, error)
}

type assessmentService struct {
	db       *mongo.Database
	storage  storage.IS3Storage
	notifier Notifier
	now      clock
}

func NewAssessmentService(database *mongo.Database, store storage.IS3Storage, notifier Notifier) IAssessmentService {
	return &assessmentService{db: database, storage: store, notifier: notifier, now: utcNow}
}

func (s *assessmentService) collection() *mongo.Collection {
	return s.db.Collection(db.Assessments)
}

func photoPrefix(bookingID utils.SixID) string {
	return storage.PrefixAssessments + "/" + bookingID.String() + "/"
}

func (s *assessmentService) booking(ctx context.Context, bookingID utils.SixID) (*models.Booking, error) {
	var b models.Booking
	if err := s.db.Collection(db.Bookings).FindOne(ctx, bson.M{"_id": bookingID}).Decode(&b); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to load booking %s: %w", bookingID, err)
	}
	return &b, nil
}

func (s *assessmentService) get(ctx context.Context, assessmentID utils.SixID) (*models.Assessment, error) {
	var a models.Assessment
	if err := s.collection().FindOne(ctx, bson.M{"_id": assessmentID}).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to load assessment %s: %w", assessmentID, err)
	}
	return &a, nil
}

func (s *assessmentService) Create(ctx context.Context, ownerID, bookingID utils.SixID, assessmentType models.AssessmentType) (*models.Assessment, error) {
	if assessmentType != models.AssessmentInput && assessmentType != models.AssessmentOutput {
		return nil, fmt.Errorf("%w: unknown assessment type %q", ErrValidation, assessmentType)
	}
	b, err := s.booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	if b.Status() != models.BookingConfirmed || b.ConfirmedDate == nil {
		return nil, ErrInvalidTransition
	}

	a := &models.Assessment{
		BookingID: b.ID,
		ListingID: b.ListingID,
		OwnerID:   b.OwnerID,
		TakerID:   b.TakerID,
		Type:      assessmentType,
		Status:    models.ConditionGood,
		Photos:    []string{},
	}
	a.Touch(s.now())
	if err := db.InsertUnique(ctx, s.collection(), a); err != nil {
		if db.IsDuplicateKey(err) {
			return nil, ErrAssessmentExists
		}
		return nil, fmt.Errorf("failed to create assessment: %w", err)
	}
	return a, nil
}

func (s *assessmentService) Update(ctx context.Context, ownerID, assessmentID utils.SixID, update models.AssessmentUpdate) (*models.Assessment, error) {
	if err := validateStruct(update); err != nil {
		return nil, err
	}
	a, err := s.get(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	if a.SignedDate != nil {
		return nil, ErrAssessmentSigned
	}

	set := bson.M{"updated_at": s.now()}
	if update.Status != nil {
		set["status"] = *update.Status
	}
	if update.Comment != nil {
		set["comment"] = *update.Comment
	}
	if update.Photos != nil {
		for _, key := range update.Photos {
			if !strings.HasPrefix(key, photoPrefix(a.BookingID)) || strings.Contains(key, "..") {
				return nil, ErrInvalidPhotoKey
			}
		}
		set["photos"] = update.Photos
	}
	if update.DepositRetained != nil {
		if a.Type != models.AssessmentOutput {
			return nil, fmt.Errorf("%w: deposit can only be retained at return", ErrValidation)
		}
		b, err := s.booking(ctx, a.BookingID)
		if err != nil {
			return nil, err
		}
		if *update.DepositRetained > b.Price.Deposit {
			return nil, fmt.Errorf("%w: retained amount exceeds the deposit", ErrValidation)
		}
		set["deposit_retained"] = *update.DepositRetained
	}

	var updated models.Assessment
	err = s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": assessmentID, "owner_id": ownerID, "signed_date": nil},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrAssessmentSigned
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update assessment %s: %w", assessmentID, err)
	}
	if err := s.notifier.NotifyUser(ctx, updated.TakerID, EventAssessmentToSign, map[string]interface{}{
		"assessment_id": updated.ID.String(),
		"booking_id":    updated.BookingID.String(),
		"type":          string(updated.Type),
	}); err != nil {
		logrus.WithError(err).WithField("assessmentID", updated.ID).Warn("failed to queue assessment notification")
	}
	return &updated, nil
}

func (s *assessmentService) Sign(ctx context.Context, takerID, assessmentID utils.SixID) (*models.Assessment, error) {
	a, err := s.get(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if a.TakerID != takerID {
		return nil, ErrForbidden
	}
	now := s.now()
	var signed models.Assessment
	err = s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": assessmentID, "signed_date": nil},
		bson.M{"$set": bson.M{"signed_date": now, "signer_id": takerID, "updated_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&signed)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrAssessmentSigned
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sign assessment %s: %w", assessmentID, err)
	}

	if signed.Type == models.AssessmentOutput {
		if err := s.notifier.EnqueueBookingCompletion(ctx, signed.BookingID); err != nil {
			logrus.WithError(err).WithField("bookingID", signed.BookingID).Warn("failed to queue booking completion")
		}
	}
	return &signed, nil
}

func (s *assessmentService) GetForBooking(ctx context.Context, userID, bookingID utils.SixID) ([]models.Assessment, error) {
	b, err := s.booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(userID) {
		return nil, ErrForbidden
	}
	cursor, err := s.collection().Find(ctx, bson.M{"booking_id": bookingID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments of booking %s: %w", bookingID, err)
	}
	assessments := []models.Assessment{}
	if err := cursor.All(ctx, &assessments); err != nil {
		return nil, fmt.Errorf("failed to decode assessments: %w", err)
	}
	return assessments, nil
}

func (s *assessmentService) PhotoUploadURL(ctx context.Context, userID, bookingID utils.SixID, filename, contentType string) (string, string, error) {
	if s.storage == nil {
		return "", "", ErrStorageUnavailable
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", "", ErrUnsupportedContentType
	}
	b, err := s.booking(ctx, bookingID)
	if err != nil {
		return "", "", err
	}
	if b.OwnerID != userID {
		return "", "", ErrForbidden
	}
	return s.storage.GeneratePresignedPutURL(ctx, storage.PrefixAssessments, bookingID.String(), filename, contentType)
}
