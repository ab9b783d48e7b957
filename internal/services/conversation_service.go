package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/realtime"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyMessage         = errors.New("message has no content")
	ErrReceiverRequired     = errors.New("owners must name the taker they write to")
)

const (
	maskedContact     = "[hidden]"
	lastMessageLength = 200
	maxConversations  = 100
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9 ./\-()]{6,}[0-9]`)
	datePattern  = regexp.MustCompile(`\b(\d{4}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]\d{4})\b`)
)

// MaskContactInfo hides email addresses and phone numbers. Dates and short
// references are left alone.
func MaskContactInfo(text string) string {
	text = emailPattern.ReplaceAllString(text, maskedContact)
	return phonePattern.ReplaceAllStringFunc(text, func(m string) string {
		if looksLikePhone(m) {
			return maskedContact
		}
		return m
	})
}

// looksLikePhone accepts 8 to 15 digits that are not a date. An unseparated
// run needs a leading + or 0, or at least 10 digits, so compact dates and
// order numbers stay readable.
func looksLikePhone(m string) bool {
	if datePattern.MatchString(m) {
		return false
	}
	digits, separated := 0, false
	for _, r := range m {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r != '+':
			separated = true
		}
	}
	if digits < 8 || digits > 15 {
		return false
	}
	return separated || strings.HasPrefix(m, "+") || m[0] == '0' || digits >= 10
}

func stageRank(stage models.ConversationStage) int {
	switch stage {
	case models.StageBooking:
		return 2
	case models.StagePreBooking:
		return 1
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// IConversationService handles the messages between takers and owners.
type IConversationService interface {
	SendMessage(ctx context.Context, senderID utils.SixID, in models.MessageInput) (*models.Message, error)
	// FindOrCreate returns the conversation of (listing, taker, booking).
	FindOrCreate(ctx context.Context, listing *models.Listing, takerID utils.SixID, bookingID *utils.SixID) (*models.Conversation, error)
	LinkBooking(ctx context.Context, conversationID, bookingID utils.SixID) error
	Get(ctx context.Context, userID, conversationID utils.SixID) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID utils.SixID) ([]models.Conversation, error)
	GetMessages(ctx context.Context, userID, conversationID utils.SixID) ([]models.Message, error)
	MarkRead(ctx context.Context, userID, conversationID utils.SixID) error
}

type conversationService struct {
	db        *mongo.Database
	listings  IListingService
	publisher realtime.Publisher
	notifier  Notifier
	now       clock
}

func NewConversationService(database *mongo.Database, listings IListingService, publisher realtime.Publisher, notifier Notifier) IConversationService {
	return &conversationService{db: database, listings: listings, publisher: publisher, notifier: notifier, now: utcNow}
}

func (s *conversationService) collection() *mongo.Collection {
	return s.db.Collection(db.Conversations)
}

func (s *conversationService) SendMessage(ctx context.Context, senderID utils.SixID, in models.MessageInput) (*models.Message, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" && strings.TrimSpace(in.PrivateContent) == "" {
		return nil, fmt.Errorf("%w: %v", ErrValidation, ErrEmptyMessage)
	}
	listing, err := s.listings.GetByID(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}

	takerID, receiverID := senderID, listing.OwnerID
	if senderID == listing.OwnerID {
		if in.ReceiverID.IsZero() || in.ReceiverID == senderID {
			return nil, fmt.Errorf("%w: %v", ErrValidation, ErrReceiverRequired)
		}
		takerID, receiverID = in.ReceiverID, in.ReceiverID
	}

	var booking *models.Booking
	stage := models.StageInfo
	if in.BookingID != nil {
		var b models.Booking
		if err := s.db.Collection(db.Bookings).FindOne(ctx, bson.M{"_id": *in.BookingID}).Decode(&b); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, ErrBookingNotFound
			}
			return nil, fmt.Errorf("failed to load booking %s: %w", *in.BookingID, err)
		}
		if b.ListingID != listing.ID || b.TakerID != takerID || !b.IsParty(senderID) {
			return nil, ErrForbidden
		}
		booking = &b
		stage = models.StageBooking
	} else if in.StartDate != nil && in.EndDate != nil {
		stage = models.StagePreBooking
	}

	conv, err := s.FindOrCreate(ctx, listing, takerID, in.BookingID)
	if err != nil {
		return nil, err
	}

	content, private := in.Content, in.PrivateContent
	if booking == nil || (booking.Status() != models.BookingConfirmed && booking.Status() != models.BookingCompleted) {
		content, private = MaskContactInfo(content), MaskContactInfo(private)
	}
	now := s.now()
	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		PrivateContent: private,
		Stage:          stage,
		CreatedAt:      now,
	}
	if err := db.InsertOne(ctx, s.db.Collection(db.Messages), msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	last := private
	if last == "" {
		last = content
	}
	set := bson.M{
		"new_content_date": now,
		"last_message":     truncate(last, lastMessageLength),
		"taker_read":       senderID == takerID,
		"owner_read":       senderID == listing.OwnerID,
		"updated_at":       now,
	}
	if stageRank(stage) > stageRank(conv.Stage) {
		set["stage"] = stage
	}
	if stage == models.StagePreBooking {
		set["start_date"] = in.StartDate.UTC()
		set["end_date"] = in.EndDate.UTC()
	}
	if _, err := s.collection().UpdateOne(ctx, bson.M{"_id": conv.ID}, bson.M{"$set": set}); err != nil {
		return nil, fmt.Errorf("failed to update conversation %s: %w", conv.ID, err)
	}

	if err := s.publisher.Publish(ctx, receiverID, realtime.Event{Type: realtime.EventNewMessage, Payload: msg}); err != nil {
		logrus.WithError(err).WithField("conversationID", conv.ID).Warn("failed to push message")
	}
	if err := s.notifier.NotifyUser(ctx, receiverID, EventNewMessage, map[string]interface{}{
		"conversation_id": conv.ID.String(),
		"listing_id":      listing.ID.String(),
		"listing_title":   listing.Title,
		"message":         truncate(last, lastMessageLength),
	}); err != nil {
		logrus.WithError(err).WithField("conversationID", conv.ID).Warn("failed to queue new-message notification")
	}
	return msg, nil
}

func (s *conversationService) FindOrCreate(ctx context.Context, listing *models.Listing, takerID utils.SixID, bookingID *utils.SixID) (*models.Conversation, error) {
	filter := bson.M{"listing_id": listing.ID, "taker_id": takerID, "booking_id": nil}
	stage := models.StageInfo
	if bookingID != nil {
		filter["booking_id"] = *bookingID
		stage = models.StageBooking
	}
	now := s.now()
	update := bson.M{"$setOnInsert": bson.M{
		"_id":              utils.NewSixID(),
		"owner_id":         listing.OwnerID,
		"stage":            stage,
		"new_content_date": now,
		"taker_read":       true,
		"owner_read":       true,
		"last_message":     "",
		"created_at":       now,
		"updated_at":       now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var conv models.Conversation
	err := db.WithRetries(func() error {
		return s.collection().FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv)
	}, 1, db.IsDuplicateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create conversation: %w", err)
	}
	return &conv, nil
}

func (s *conversationService) LinkBooking(ctx context.Context, conversationID, bookingID utils.SixID) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"booking_id": bookingID, "stage": models.StageBooking, "updated_at": s.now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to link booking %s to conversation %s: %w", bookingID, conversationID, err)
	}
	if res.MatchedCount == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *conversationService) Get(ctx context.Context, userID, conversationID utils.SixID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.collection().FindOne(ctx, bson.M{"_id": conversationID}).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if !conv.IsParty(userID) {
		return nil, ErrForbidden
	}
	return &conv, nil
}

func (s *conversationService) ListForUser(ctx context.Context, userID utils.SixID) ([]models.Conversation, error) {
	cursor, err := s.collection().Find(ctx,
		bson.M{"$or": bson.A{bson.M{"owner_id": userID}, bson.M{"taker_id": userID}}},
		options.Find().SetSort(bson.D{{Key: "new_content_date", Value: -1}}).SetLimit(maxConversations),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations of %s: %w", userID, err)
	}
	convs := []models.Conversation{}
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return convs, nil
}

func (s *conversationService) GetMessages(ctx context.Context, userID, conversationID utils.SixID) ([]models.Message, error) {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	cursor, err := s.db.Collection(db.Messages).Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", conversationID, err)
	}
	msgs := []models.Message{}
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}

func (s *conversationService) MarkRead(ctx context.Context, userID, conversationID utils.SixID) error {
	conv, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	field := "taker_read"
	if userID == conv.OwnerID {
		field = "owner_read"
	}
	if _, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{field: true}},
	); err != nil {
		return fmt.Errorf("failed to mark conversation %s read: %w", conversationID, err)
	}
	other := conv.OwnerID
	if userID == conv.OwnerID {
		other = conv.TakerID
	}
	event := realtime.Event{Type: realtime.EventMessageRead, Payload: map[string]string{"conversation_id": conversationID.String()}}
	if err := s.publisher.Publish(ctx, other, event); err != nil {
		logrus.WithError(err).Debug("failed to push read receipt")
	}
	return nil
}
