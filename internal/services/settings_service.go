package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/pricing"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// Marketplace setting keys.
const (
	SettingTakerFeesPercent     = "taker_fees_percent"
	SettingOwnerFeesPercent     = "owner_fees_percent"
	SettingMaxTakerFees         = "max_taker_fees"
	SettingMaxOwnerFees         = "max_owner_fees"
	SettingRatingVisibilityDays = "rating_visibility_delay_days"
)

const settingsUpdateChannel = "settings_updates"

var ErrUnknownSetting = errors.New("unknown setting")

type settingKind int

const (
	kindPercent settingKind = iota
	kindAmount
	kindDays
)

var settingKinds = map[string]settingKind{
	SettingTakerFeesPercent:     kindPercent,
	SettingOwnerFeesPercent:     kindPercent,
	SettingMaxTakerFees:         kindAmount,
	SettingMaxOwnerFees:         kindAmount,
	SettingRatingVisibilityDays: kindDays,
}

// ISettingsService exposes the runtime-editable marketplace parameters.
type ISettingsService interface {
	Load(ctx context.Context) error
	// Subscribe reloads the cache whenever another instance publishes a change.
	// It blocks until ctx is done.
	Subscribe(ctx context.Context) error
	All(ctx context.Context) map[string]interface{}
	Set(ctx context.Context, key string, value interface{}) error
	GetFloat64(ctx context.Context, key string) float64
	GetInt64(ctx context.Context, key string) int64
	Fees(ctx context.Context) pricing.FeeConfig
	RatingVisibilityDelay(ctx context.Context) time.Duration
}

type settingsService struct {
	db       *mongo.Database
	cfg      *config.Config
	rdb      redis.UniversalClient
	mutex    sync.RWMutex
	cache    map[string]interface{}
	loadedAt time.Time
}

// NewSettingsService returns a settings service. rdb may be nil, in which
// case the cache only refreshes after SettingsCacheTTL.
func NewSettingsService(database *mongo.Database, cfg *config.Config, rdb redis.UniversalClient) ISettingsService {
	return &settingsService{db: database, cfg: cfg, rdb: rdb, cache: map[string]interface{}{}}
}

func (s *settingsService) defaults() map[string]interface{} {
	return map[string]interface{}{
		SettingTakerFeesPercent:     s.cfg.TakerFeesPercent,
		SettingOwnerFeesPercent:     s.cfg.OwnerFeesPercent,
		SettingMaxTakerFees:         s.cfg.MaxTakerFees,
		SettingMaxOwnerFees:         s.cfg.MaxOwnerFees,
		SettingRatingVisibilityDays: int64(s.cfg.RatingVisibilityDelayDays),
	}
}

func (s *settingsService) Load(ctx context.Context) error {
	cursor, err := s.db.Collection(db.Settings).Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to query settings: %w", err)
	}
	defer cursor.Close(ctx)

	fresh := make(map[string]interface{})
	for cursor.Next(ctx) {
		var entry models.Setting
		if err := cursor.Decode(&entry); err != nil {
			logrus.WithError(err).Warn("failed to decode setting")
			continue
		}
		fresh[entry.Key] = entry.Value
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("error iterating settings: %w", err)
	}

	s.mutex.Lock()
	s.cache = fresh
	s.loadedAt = time.Now()
	s.mutex.Unlock()
	logrus.WithField("count", len(fresh)).Debug("settings loaded")
	return nil
}

func (s *settingsService) Subscribe(ctx context.Context) error {
	if s.rdb == nil {
		logrus.Info("redis not configured, settings changes are picked up on cache expiry only")
		return nil
	}
	pubsub := s.rdb.Subscribe(ctx, settingsUpdateChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", settingsUpdateChannel, err)
	}
	ch := pubsub.Channel()
	logrus.WithField("channel", settingsUpdateChannel).Info("subscribed to settings updates")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			logrus.WithField("key", msg.Payload).Debug("settings update received")
			if err := s.Load(ctx); err != nil {
				logrus.WithError(err).Error("failed to reload settings")
			}
		}
	}
}

// value returns the stored value of key, reloading a stale cache first.
func (s *settingsService) value(ctx context.Context, key string) (interface{}, bool) {
	s.mutex.RLock()
	stale := time.Since(s.loadedAt) > s.cfg.SettingsCacheTTL
	s.mutex.RUnlock()
	if stale {
		if err := s.Load(ctx); err != nil {
			logrus.WithError(err).Warn("using cached settings")
		}
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	v, ok := s.cache[key]
	return v, ok
}

func (s *settingsService) All(ctx context.Context) map[string]interface{} {
	out := s.defaults()
	for key := range out {
		if v, ok := s.value(ctx, key); ok {
			out[key] = v
		}
	}
	return out
}

func (s *settingsService) Set(ctx context.Context, key string, value interface{}) error {
	kind, ok := settingKinds[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	f, ok := toFloat64(value)
	if !ok || f < 0 {
		return fmt.Errorf("%w: %s must be a non-negative number", ErrValidation, key)
	}
	var stored interface{}
	switch kind {
	case kindPercent:
		if f > 100 {
			return fmt.Errorf("%w: %s must be within [0, 100]", ErrValidation, key)
		}
		stored = f
	default:
		stored = int64(f)
	}

	_, err := s.db.Collection(db.Settings).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{
			"$set":         bson.M{"value": stored, "updated_at": time.Now().UTC()},
			"$setOnInsert": bson.M{"_id": utils.NewSixID()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}

	s.mutex.Lock()
	s.cache[key] = stored
	s.mutex.Unlock()

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, settingsUpdateChannel, key).Err(); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("failed to publish settings update")
		}
	}
	logrus.WithFields(logrus.Fields{"key": key, "value": stored}).Info("setting updated")
	return nil
}

func (s *settingsService) GetFloat64(ctx context.Context, key string) float64 {
	def, _ := toFloat64(s.defaults()[key])
	v, ok := s.value(ctx, key)
	if !ok {
		return def
	}
	if f, ok := toFloat64(v); ok {
		return f
	}
	logrus.WithField("key", key).Warnf("setting is not numeric (%T), using default", v)
	return def
}

func (s *settingsService) GetInt64(ctx context.Context, key string) int64 {
	return int64(s.GetFloat64(ctx, key))
}

func (s *settingsService) Fees(ctx context.Context) pricing.FeeConfig {
	return pricing.NewFeeConfig(
		s.GetFloat64(ctx, SettingTakerFeesPercent),
		s.GetFloat64(ctx, SettingOwnerFeesPercent),
		s.GetInt64(ctx, SettingMaxTakerFees),
		s.GetInt64(ctx, SettingMaxOwnerFees),
	)
}

func (s *settingsService) RatingVisibilityDelay(ctx context.Context) time.Duration {
	return time.Duration(s.GetInt64(ctx, SettingRatingVisibilityDays)) * 24 * time.Hour
}

// toFloat64 accepts the numeric types JSON and BSON decoding produce.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
