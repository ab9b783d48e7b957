package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// Task types.
const (
	TypeEmailDelivery        = "email:deliver"
	TypeNotifyEvent          = "notify:event"
	TypeBookingExpireSweep   = "booking:expire_sweep"
	TypeBookingCompleteSweep = "booking:complete_sweep"
	TypeBookingComplete      = "booking:complete"
	TypeRatingRevealSweep    = "rating:reveal_sweep"
	TypeListingThumbnail     = "listing:thumbnail"
)

// Queues and their priorities.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
	QueueImages   = "images"
)

var queuePriorities = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
	QueueImages:   5,
}

// IAsynqClient is the part of *asynq.Client used to enqueue work.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RedisOpt builds the asynq connection from an existing go-redis client.
func RedisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
}

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(RedisOpt(rdb))
}

// --- Payloads ---

type EmailTaskPayload struct {
	To         string                 `json:"to"`
	TemplateID string                 `json:"template_id"`
	Locale     string                 `json:"locale,omitempty"`
	Data       map[string]interface{} `json:"data"`
}

type NotifyEventPayload struct {
	UserID utils.SixID                `json:"user_id"`
	Event  services.NotificationEvent `json:"event"`
	Data   map[string]interface{}     `json:"data"`
}

type BookingTaskPayload struct {
	BookingID utils.SixID `json:"booking_id"`
}

type ThumbnailTaskPayload struct {
	ListingID utils.SixID `json:"listing_id"`
	Key       string      `json:"key"`
}

// --- Notifier ---

// Notifier implements services.Notifier by enqueuing asynq tasks.
type Notifier struct {
	client IAsynqClient
}

func NewNotifier(client IAsynqClient) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	if _, err := n.client.EnqueueContext(ctx, asynq.NewTask(taskType, data), opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	return nil
}

func (n *Notifier) NotifyUser(ctx context.Context, userID utils.SixID, event services.NotificationEvent, data map[string]interface{}) error {
	return n.enqueue(ctx, TypeNotifyEvent, NotifyEventPayload{UserID: userID, Event: event, Data: data}, asynq.Queue(QueueDefault))
}

func (n *Notifier) SendEmail(ctx context.Context, to, templateID, locale string, data map[string]interface{}) error {
	return n.enqueue(ctx, TypeEmailDelivery, EmailTaskPayload{To: to, TemplateID: templateID, Locale: locale, Data: data},
		asynq.Queue(QueueCritical))
}

// EnqueueBookingCompletion schedules one completion attempt per booking.
func (n *Notifier) EnqueueBookingCompletion(ctx context.Context, bookingID utils.SixID) error {
	return n.enqueue(ctx, TypeBookingComplete, BookingTaskPayload{BookingID: bookingID},
		asynq.Queue(QueueDefault), asynq.TaskID(TypeBookingComplete+":"+bookingID.String()), asynq.Retention(24*time.Hour))
}

func (n *Notifier) EnqueueThumbnail(ctx context.Context, listingID utils.SixID, key string) error {
	return n.enqueue(ctx, TypeListingThumbnail, ThumbnailTaskPayload{ListingID: listingID, Key: key}, asynq.Queue(QueueImages))
}

var _ services.Notifier = (*Notifier)(nil)
