package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// ConversationStage tracks how far the exchange got toward a booking.
type ConversationStage string

const (
	StageInfo       ConversationStage = "info"
	StagePreBooking ConversationStage = "pre-booking"
	StageBooking    ConversationStage = "booking"
)

// Conversation is the thread between a taker and a listing owner, optionally
// tied to a booking.
type Conversation struct {
	Base           `bson:",inline"`
	Timestamps     `bson:",inline"`
	ListingID      utils.SixID       `bson:"listing_id" json:"listing_id"`
	BookingID      *utils.SixID      `bson:"booking_id" json:"booking_id,omitempty"`
	TakerID        utils.SixID       `bson:"taker_id" json:"taker_id"`
	OwnerID        utils.SixID       `bson:"owner_id" json:"owner_id"`
	StartDate      *time.Time        `bson:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate        *time.Time        `bson:"end_date,omitempty" json:"end_date,omitempty"`
	Stage          ConversationStage `bson:"stage" json:"stage"`
	NewContentDate time.Time         `bson:"new_content_date" json:"new_content_date"`
	TakerRead      bool              `bson:"taker_read" json:"taker_read"`
	OwnerRead      bool              `bson:"owner_read" json:"owner_read"`
	LastMessage    string            `bson:"last_message" json:"last_message"`
}

// IsParty reports whether userID takes part in the conversation.
func (c *Conversation) IsParty(userID utils.SixID) bool {
	return c.TakerID == userID || c.OwnerID == userID
}

// Message is one entry of a conversation. Content is the public part shown on
// the listing page, PrivateContent is only visible to the two parties.
type Message struct {
	Base           `bson:",inline"`
	ConversationID utils.SixID       `bson:"conversation_id" json:"conversation_id"`
	SenderID       utils.SixID       `bson:"sender_id" json:"sender_id"`
	ReceiverID     utils.SixID       `bson:"receiver_id" json:"receiver_id"`
	Content        string            `bson:"content,omitempty" json:"content,omitempty"`
	PrivateContent string            `bson:"private_content,omitempty" json:"private_content,omitempty"`
	Stage          ConversationStage `bson:"stage" json:"stage"`
	CreatedAt      time.Time         `bson:"created_at" json:"created_at"`
}

// MessageInput is what a sender submits.
type MessageInput struct {
	ListingID      utils.SixID  `json:"listing_id" validate:"required"`
	BookingID      *utils.SixID `json:"booking_id"`
	ReceiverID     utils.SixID  `json:"receiver_id"`
	Content        string       `json:"content" validate:"max=2000"`
	PrivateContent string       `json:"private_content" validate:"max=5000"`
	StartDate      *time.Time   `json:"start_date"`
	EndDate        *time.Time   `json:"end_date"`
}
