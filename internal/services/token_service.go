package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenUsed    = errors.New("token was already used")
)

// ITokenService manages single-use tokens sent by email.
type ITokenService interface {
	Create(ctx context.Context, userID utils.SixID, tokenType models.TokenType, ttl time.Duration) (*models.Token, error)
	// Consume marks the token executed and returns it. It succeeds at most once per token.
	Consume(ctx context.Context, tokenID string, tokenType models.TokenType) (*models.Token, error)
}

type tokenService struct {
	db  *mongo.Database
	now clock
}

func NewTokenService(database *mongo.Database) ITokenService {
	return &tokenService{db: database, now: utcNow}
}

func (s *tokenService) Create(ctx context.Context, userID utils.SixID, tokenType models.TokenType, ttl time.Duration) (*models.Token, error) {
	now := s.now()
	token := &models.Token{
		UserID:    userID,
		Type:      tokenType,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.InsertOne(ctx, s.db.Collection(db.Tokens), token); err != nil {
		return nil, fmt.Errorf("failed to create %s token: %w", tokenType, err)
	}
	return token, nil
}

func (s *tokenService) Consume(ctx context.Context, tokenID string, tokenType models.TokenType) (*models.Token, error) {
	id, err := utils.ParseSixID(tokenID)
	if err != nil || id.IsZero() {
		return nil, ErrTokenInvalid
	}
	now := s.now()
	coll := s.db.Collection(db.Tokens)

	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": id, "type": tokenType, "executed_at": nil, "expires_at": bson.M{"$gt": now}},
		bson.M{"$set": bson.M{"executed_at": now}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}

	var token models.Token
	if err := coll.FindOne(ctx, bson.M{"_id": id, "type": tokenType}).Decode(&token); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if res.MatchedCount == 0 {
		// Lost the race or the token is stale. Report which.
		if token.ExecutedAt != nil {
			return nil, ErrTokenUsed
		}
		return nil, ErrTokenExpired
	}
	return &token, nil
}
