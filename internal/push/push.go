package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// ErrNotConfigured is returned when no VAPID keys are set.
var ErrNotConfigured = errors.New("web push is not configured")

// ErrSubscriptionGone means the push service reported the endpoint as expired.
var ErrSubscriptionGone = errors.New("push subscription expired")

const pushTTLSeconds = 60 * 60

// Notification is the JSON payload the service worker receives.
type Notification struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	URL   string                 `json:"url,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// ISender manages subscriptions and delivers notifications to every device of a user.
type ISender interface {
	Subscribe(ctx context.Context, userID utils.SixID, endpoint, p256dh, auth string) error
	Unsubscribe(ctx context.Context, userID utils.SixID, endpoint string) error
	Notify(ctx context.Context, userID utils.SixID, n Notification) (int, error)
	PublicKey() string
}

// Sender implements ISender over webpush-go with subscriptions stored in Mongo.
type Sender struct {
	db         *mongo.Database
	cfg        *config.Config
	httpClient webpush.HTTPClient
}

func NewSender(database *mongo.Database, cfg *config.Config) *Sender {
	return &Sender{db: database, cfg: cfg, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// WithHTTPClient swaps the client used to reach push services.
func (s *Sender) WithHTTPClient(c webpush.HTTPClient) *Sender {
	s.httpClient = c
	return s
}

func (s *Sender) PublicKey() string {
	return s.cfg.VapidPublicKey
}

func (s *Sender) collection() *mongo.Collection {
	return s.db.Collection(db.PushSubscriptions)
}

// Subscribe upserts by endpoint so a browser re-subscribing moves to the new user.
func (s *Sender) Subscribe(ctx context.Context, userID utils.SixID, endpoint, p256dh, auth string) error {
	sub := models.PushSubscription{
		UserID:    userID,
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		CreatedAt: time.Now().UTC(),
	}
	sub.GenID()
	_, err := s.collection().UpdateOne(ctx,
		bson.M{"endpoint": endpoint},
		bson.M{
			"$set":         bson.M{"user_id": userID, "p256dh": p256dh, "auth": auth},
			"$setOnInsert": bson.M{"_id": sub.ID, "created_at": sub.CreatedAt},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

func (s *Sender) Unsubscribe(ctx context.Context, userID utils.SixID, endpoint string) error {
	_, err := s.collection().DeleteOne(ctx, bson.M{"user_id": userID, "endpoint": endpoint})
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}

// Notify sends n to every subscription of the user and returns how many were
// delivered. Expired subscriptions are deleted.
func (s *Sender) Notify(ctx context.Context, userID utils.SixID, n Notification) (int, error) {
	if s.cfg.VapidPrivateKey == "" || s.cfg.VapidPublicKey == "" {
		return 0, ErrNotConfigured
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal push payload: %w", err)
	}

	cursor, err := s.collection().Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("failed to load push subscriptions: %w", err)
	}
	var subs []models.PushSubscription
	if err := cursor.All(ctx, &subs); err != nil {
		return 0, fmt.Errorf("failed to decode push subscriptions: %w", err)
	}

	delivered := 0
	var lastErr error
	for i := range subs {
		err := s.deliver(ctx, &subs[i], payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSubscriptionGone):
			logrus.WithFields(logrus.Fields{"user_id": userID.String(), "endpoint": subs[i].Endpoint}).Info("Deleting expired push subscription")
			if _, delErr := s.collection().DeleteOne(ctx, bson.M{"_id": subs[i].ID}); delErr != nil {
				logrus.WithError(delErr).Warn("Failed to delete expired push subscription")
			}
		default:
			lastErr = err
			logrus.WithError(err).WithField("user_id", userID.String()).Warn("Push notification failed")
		}
	}
	if delivered == 0 && lastErr != nil {
		return 0, lastErr
	}
	return delivered, nil
}

func (s *Sender) deliver(ctx context.Context, sub *models.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.cfg.VapidSubscriber,
		VAPIDPublicKey:  s.cfg.VapidPublicKey,
		VAPIDPrivateKey: s.cfg.VapidPrivateKey,
		TTL:             pushTTLSeconds,
	})
	if err != nil {
		return fmt.Errorf("webpush send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrSubscriptionGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("push service answered %d", resp.StatusCode)
	}
	return nil
}
