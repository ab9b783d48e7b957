package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/email"
	"github.com/samjaninf/stelace-sub000/internal/metrics"
	"github.com/samjaninf/stelace-sub000/internal/push"
	"github.com/samjaninf/stelace-sub000/internal/realtime"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/storage"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

const (
	thumbnailSize     = 320
	pushBodyMaxLength = 140
)

// TaskProcessor holds the dependencies of the task handlers.
type TaskProcessor struct {
	cfg         *config.Config
	emailSender email.Sender
	templates   services.IEmailTemplateService
	users       services.IUserService
	push        push.ISender
	publisher   realtime.Publisher
	bookings    services.IBookingService
	ratings     services.IRatingService
	listings    services.IListingService
	storage     storage.IS3Storage
	now         func() time.Time
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	templates services.IEmailTemplateService,
	users services.IUserService,
	pushSender push.ISender,
	publisher realtime.Publisher,
	bookings services.IBookingService,
	ratings services.IRatingService,
	listings services.IListingService,
	store storage.IS3Storage,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:         cfg,
		emailSender: emailSender,
		templates:   templates,
		users:       users,
		push:        pushSender,
		publisher:   publisher,
		bookings:    bookings,
		ratings:     ratings,
		listings:    listings,
		storage:     store,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NewServeMux registers the handlers of the enabled worker kinds.
func NewServeMux(p *TaskProcessor, bgWorker, imageWorker bool) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	if bgWorker {
		mux.HandleFunc(TypeEmailDelivery, p.HandleEmailDeliveryTask)
		mux.HandleFunc(TypeNotifyEvent, p.HandleNotifyEventTask)
		mux.HandleFunc(TypeBookingExpireSweep, p.HandleBookingExpireSweepTask)
		mux.HandleFunc(TypeBookingCompleteSweep, p.HandleBookingCompleteSweepTask)
		mux.HandleFunc(TypeBookingComplete, p.HandleBookingCompleteTask)
		mux.HandleFunc(TypeRatingRevealSweep, p.HandleRatingRevealSweepTask)
	}
	if imageWorker {
		mux.HandleFunc(TypeListingThumbnail, p.HandleListingThumbnailTask)
	}
	return mux
}

// SetupServer returns an asynq server and the mux to run it with, or nil when
// no worker kind is enabled.
func SetupServer(rdb *redis.Client, p *TaskProcessor, bgWorker, imageWorker bool) (*asynq.Server, *asynq.ServeMux) {
	if !bgWorker && !imageWorker {
		return nil, nil
	}
	queues := map[string]int{}
	for q, prio := range queuePriorities {
		if q == QueueImages && imageWorker || q != QueueImages && bgWorker {
			queues[q] = prio
		}
	}
	srv := asynq.NewServer(RedisOpt(rdb), asynq.Config{
		Queues: queues,
		Logger: logrus.StandardLogger(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logrus.WithError(err).WithField("type", task.Type()).Error("task failed")
		}),
	})
	return srv, NewServeMux(p, bgWorker, imageWorker)
}

// --- Handlers ---

func (p *TaskProcessor) render(ctx context.Context, templateID, locale string, data map[string]interface{}) (string, string, error) {
	subject, body, err := p.templates.Render(ctx, templateID, locale, data)
	if err != nil {
		return "", "", fmt.Errorf("failed to render %s: %v: %w", templateID, err, asynq.SkipRetry)
	}
	return subject, body, nil
}

func (p *TaskProcessor) send(ctx context.Context, to, templateID, subject, body string) error {
	msg := email.Message{
		From:       p.cfg.SmtpFromAddress,
		To:         to,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
		Date:       p.now(),
	}
	if err := p.emailSender.Send(ctx, []string{to}, subject, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", templateID, to, err)
	}
	return nil
}

func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.To == "" {
		return fmt.Errorf("email task without recipient: %w", asynq.SkipRetry)
	}
	subject, body, err := p.render(ctx, payload.TemplateID, payload.Locale, payload.Data)
	if err != nil {
		return err
	}
	if err := p.send(ctx, payload.To, payload.TemplateID, subject, body); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"to": payload.To, "template": payload.TemplateID}).Info("email delivered")
	return nil
}

// realtimeType maps a notification to the websocket event it produces.
// New messages are pushed by the conversation service itself.
func realtimeType(event services.NotificationEvent) (string, bool) {
	switch event {
	case services.EventNewMessage, services.EventEmailValidation, services.EventPasswordReset:
		return "", false
	case services.EventLevelUp:
		return realtime.EventLevelUp, true
	default:
		return realtime.EventBooking, true
	}
}

func (p *TaskProcessor) HandleNotifyEventTask(ctx context.Context, t *asynq.Task) error {
	var payload NotifyEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal notify payload: %v: %w", err, asynq.SkipRetry)
	}
	user, err := p.users.GetByID(ctx, payload.UserID)
	if errors.Is(err, services.ErrUserNotFound) {
		return fmt.Errorf("user %s: %w", payload.UserID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	data := map[string]interface{}{}
	for k, v := range payload.Data {
		data[k] = v
	}
	data["name"] = user.Name

	log := logrus.WithFields(logrus.Fields{"userID": user.ID, "event": payload.Event})
	subject, body, err := p.render(ctx, string(payload.Event), user.Locale, data)
	if err != nil {
		return err
	}

	// Realtime and push go out on the first attempt only, retries concern the email.
	if retried, _ := asynq.GetRetryCount(ctx); retried == 0 {
		p.notifyDevices(ctx, log, user.ID, payload, subject, body)
	}
	return p.send(ctx, user.Email, string(payload.Event), subject, body)
}

func (p *TaskProcessor) notifyDevices(ctx context.Context, log *logrus.Entry, userID utils.SixID, payload NotifyEventPayload, subject, body string) {
	if kind, ok := realtimeType(payload.Event); ok && p.publisher != nil {
		event := realtime.Event{Type: kind, Payload: map[string]interface{}{"event": payload.Event, "data": payload.Data}}
		if err := p.publisher.Publish(ctx, userID, event); err != nil {
			log.WithError(err).Warn("failed to publish realtime event")
		}
	}
	if p.push == nil {
		return
	}
	body = strings.TrimSpace(body)
	if r := []rune(body); len(r) > pushBodyMaxLength {
		body = string(r[:pushBodyMaxLength])
	}
	n := push.Notification{Title: subject, Body: body, Data: map[string]interface{}{"event": payload.Event}}
	if _, err := p.push.Notify(ctx, userID, n); err != nil && !errors.Is(err, push.ErrNotConfigured) {
		log.WithError(err).Warn("failed to send web push")
	}
}

func (p *TaskProcessor) HandleBookingExpireSweepTask(ctx context.Context, _ *asynq.Task) error {
	n, err := p.bookings.ExpireStale(ctx, p.now())
	metrics.RecordJobRun(TypeBookingExpireSweep, err == nil)
	if err != nil {
		return err
	}
	logrus.WithField("count", n).Info("expired stale bookings")
	return nil
}

func (p *TaskProcessor) HandleBookingCompleteSweepTask(ctx context.Context, _ *asynq.Task) error {
	n, err := p.bookings.CompleteDue(ctx, p.now())
	metrics.RecordJobRun(TypeBookingCompleteSweep, err == nil)
	if err != nil {
		return err
	}
	logrus.WithField("count", n).Info("completed due bookings")
	return nil
}

func (p *TaskProcessor) HandleBookingCompleteTask(ctx context.Context, t *asynq.Task) error {
	var payload BookingTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal booking payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := p.bookings.Complete(ctx, payload.BookingID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrNotCompletable):
		// The completion sweep picks it up once eligible.
		return nil
	case errors.Is(err, services.ErrBookingNotFound):
		return fmt.Errorf("booking %s: %w", payload.BookingID, asynq.SkipRetry)
	default:
		return err
	}
}

func (p *TaskProcessor) HandleRatingRevealSweepTask(ctx context.Context, _ *asynq.Task) error {
	n, err := p.ratings.RevealDue(ctx, p.now())
	metrics.RecordJobRun(TypeRatingRevealSweep, err == nil)
	if err != nil {
		return err
	}
	logrus.WithField("count", n).Info("revealed due ratings")
	return nil
}

// HandleListingThumbnailTask caps the uploaded image to the configured
// dimension, stores a thumbnail next to it and attaches it to the listing.
func (p *TaskProcessor) HandleListingThumbnailTask(ctx context.Context, t *asynq.Task) error {
	var payload ThumbnailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal thumbnail payload: %v: %w", err, asynq.SkipRetry)
	}
	log := logrus.WithFields(logrus.Fields{"listingID": payload.ListingID, "key": payload.Key})
	if p.storage == nil {
		return fmt.Errorf("object storage not configured: %w", asynq.SkipRetry)
	}

	data, contentType, err := p.storage.GetObject(ctx, payload.Key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("object %s not found: %w", payload.Key, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", payload.Key, err)
	}
	maxSize := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(data)) > maxSize {
		return fmt.Errorf("image %s exceeds %d bytes: %w", payload.Key, maxSize, asynq.SkipRetry)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("unsupported or corrupt image %s: %v: %w", payload.Key, err, asynq.SkipRetry)
	}

	maxDim := uint(p.cfg.ImageMaxDimension)
	if uint(img.Bounds().Dx()) > maxDim || uint(img.Bounds().Dy()) > maxDim {
		img = resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
		encoded, err := encodeJPEG(img)
		if err != nil {
			return err
		}
		if err := p.storage.PutObject(ctx, payload.Key, encoded, "image/jpeg"); err != nil {
			return fmt.Errorf("failed to store resized %s: %w", payload.Key, err)
		}
		log.WithField("format", format).Info("resized oversized image")
	} else if contentType == "" {
		contentType = "image/" + format
	}

	thumb, err := encodeJPEG(resize.Thumbnail(thumbnailSize, thumbnailSize, img, resize.Lanczos3))
	if err != nil {
		return err
	}
	if err := p.storage.PutObject(ctx, storage.ThumbnailKey(payload.Key), thumb, "image/jpeg"); err != nil {
		return fmt.Errorf("failed to store thumbnail of %s: %w", payload.Key, err)
	}
	if err := p.listings.AddImage(ctx, payload.ListingID, payload.Key); err != nil {
		if errors.Is(err, services.ErrListingNotFound) {
			return fmt.Errorf("listing %s: %w", payload.ListingID, asynq.SkipRetry)
		}
		return err
	}
	log.Info("image processed")
	return nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
