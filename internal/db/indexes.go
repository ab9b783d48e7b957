package db

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// indexSpecs lists the indexes the domain invariants rely on. Several of them
// are unique and turn races into duplicate key errors the services handle.
var indexSpecs = map[string][]mongo.IndexModel{
	Users: {
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	Tokens: {
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "type", Value: 1}}},
	},
	Locations: {
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "deleted", Value: 1}}},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "main", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("one_main_location").
				SetPartialFilterExpression(bson.M{"main": true, "deleted": false}),
		},
		{Keys: bson.D{{Key: "geo", Value: "2dsphere"}}, Options: options.Index().SetSparse(true)},
	},
	Listings: {
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "deleted", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "tags", Value: 1}}},
	},
	Bookings: {
		{Keys: bson.D{{Key: "listing_id", Value: 1}, {Key: "start_date", Value: 1}, {Key: "end_date", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "taker_id", Value: 1}, {Key: "created_at", Value: -1}}},
	},
	Cancellations: {
		{Keys: bson.D{{Key: "booking_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	Transactions: {
		{Keys: bson.D{{Key: "idempotency_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "provider_ref", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "booking_id", Value: 1}}},
	},
	TransactionLogs: {
		{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "event_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	Assessments: {
		{Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "type", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	Ratings: {
		{Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "author_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "target_id", Value: 1}, {Key: "visible_date", Value: 1}}},
		{Keys: bson.D{{Key: "propagated", Value: 1}, {Key: "visible_date", Value: 1}}},
	},
	Conversations: {
		{Keys: bson.D{{Key: "listing_id", Value: 1}, {Key: "taker_id", Value: 1}, {Key: "booking_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "new_content_date", Value: -1}}},
		{Keys: bson.D{{Key: "taker_id", Value: 1}, {Key: "new_content_date", Value: -1}}},
	},
	Messages: {
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
	},
	ModelSnapshots: {
		{Keys: bson.D{{Key: "target_type", Value: 1}, {Key: "target_id", Value: 1}, {Key: "created_at", Value: -1}}},
	},
	GamificationEvents: {
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "action_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	Settings: {
		{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	EmailTemplates: {
		{Keys: bson.D{{Key: "template_id", Value: 1}, {Key: "locale", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	PushSubscriptions: {
		{Keys: bson.D{{Key: "endpoint", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	},
}

// EnsureIndexes creates every index in indexSpecs. Existing indexes are left alone.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	for coll, models := range indexSpecs {
		names, err := database.Collection(coll).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
		logrus.WithFields(logrus.Fields{"collection": coll, "indexes": names}).Debug("indexes ensured")
	}
	return nil
}
