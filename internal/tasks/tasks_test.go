package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/push"
	"github.com/samjaninf/stelace-sub000/internal/realtime"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/tasks"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// --- Mocks ---

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	args := m.Called(ctx, to, subject, rawMessage)
	return args.Error(0)
}

type MockEmailTemplateService struct {
	mock.Mock
}

func (m *MockEmailTemplateService) GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error) {
	args := m.Called(ctx, templateID, locale)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailTemplate), args.Error(1)
}

func (m *MockEmailTemplateService) Render(ctx context.Context, templateID, locale string, data map[string]interface{}) (string, string, error) {
	args := m.Called(ctx, templateID, locale, data)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockEmailTemplateService) SaveTemplate(ctx context.Context, tpl *models.EmailTemplate) error {
	return m.Called(ctx, tpl).Error(0)
}

func (m *MockEmailTemplateService) DeleteTemplate(ctx context.Context, templateID, locale string) error {
	return m.Called(ctx, templateID, locale).Error(0)
}

// MockUserService only implements the lookups the processor makes.
type MockUserService struct {
	mock.Mock
	services.IUserService
}

func (m *MockUserService) GetByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockBookingService struct {
	mock.Mock
	services.IBookingService
}

func (m *MockBookingService) Complete(ctx context.Context, bookingID utils.SixID) (*models.Booking, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, userID utils.SixID, event realtime.Event) error {
	return m.Called(ctx, userID, event).Error(0)
}

type MockPushSender struct {
	mock.Mock
}

func (m *MockPushSender) Subscribe(ctx context.Context, userID utils.SixID, endpoint, p256dh, auth string) error {
	return m.Called(ctx, userID, endpoint, p256dh, auth).Error(0)
}

func (m *MockPushSender) Unsubscribe(ctx context.Context, userID utils.SixID, endpoint string) error {
	return m.Called(ctx, userID, endpoint).Error(0)
}

func (m *MockPushSender) Notify(ctx context.Context, userID utils.SixID, n push.Notification) (int, error) {
	args := m.Called(ctx, userID, n)
	return args.Int(0), args.Error(1)
}

func (m *MockPushSender) PublicKey() string {
	return m.Called().String(0)
}

type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

func testConfig() *config.Config {
	return &config.Config{SmtpFromAddress: "noreply@test.example.com", ImageMaxDimension: 2048, ImageMaxSizeMB: 10}
}

// --- Email delivery ---

func TestHandleEmailDeliveryTask_Success(t *testing.T) {
	mockEmailSender := new(MockEmailSender)
	mockTmplService := new(MockEmailTemplateService)
	cfg := testConfig()
	p := tasks.NewTaskProcessor(cfg, mockEmailSender, mockTmplService, nil, nil, nil, nil, nil, nil, nil)

	payloadData := map[string]interface{}{
		"name": "Tester",
		"link": "http://example.com/validate/123",
	}
	payloadBytes, _ := json.Marshal(tasks.EmailTaskPayload{
		To:         "test@example.com",
		TemplateID: "email_validation",
		Locale:     "en-US",
		Data:       payloadData,
	})
	task := asynq.NewTask(tasks.TypeEmailDelivery, payloadBytes)

	expectedSubject := "Welcome Tester!"
	expectedBody := "Please validate: http://example.com/validate/123"
	mockTmplService.On("Render", mock.Anything, "email_validation", "en-US", payloadData).
		Return(expectedSubject, expectedBody, nil)

	mockEmailSender.On("Send",
		mock.Anything,
		[]string{"test@example.com"},
		expectedSubject,
		mock.MatchedBy(func(rawMsg []byte) bool {
			msgStr := string(rawMsg)
			assert.Contains(t, msgStr, "To: test@example.com")
			assert.Contains(t, msgStr, fmt.Sprintf("From: %s", cfg.SmtpFromAddress))
			assert.Contains(t, msgStr, "X-Template-ID: email_validation")
			assert.Contains(t, msgStr, expectedBody)
			return true
		}),
	).Return(nil)

	err := p.HandleEmailDeliveryTask(context.Background(), task)

	assert.NoError(t, err)
	mockTmplService.AssertExpectations(t)
	mockEmailSender.AssertExpectations(t)
}

func TestHandleEmailDeliveryTask_TemplateNotFound(t *testing.T) {
	mockEmailSender := new(MockEmailSender)
	mockTmplService := new(MockEmailTemplateService)
	p := tasks.NewTaskProcessor(testConfig(), mockEmailSender, mockTmplService, nil, nil, nil, nil, nil, nil, nil)

	payloadBytes, _ := json.Marshal(tasks.EmailTaskPayload{
		To:         "test@example.com",
		TemplateID: "nonexistent_template",
		Locale:     "en-US",
	})
	task := asynq.NewTask(tasks.TypeEmailDelivery, payloadBytes)

	mockTmplService.On("Render", mock.Anything, "nonexistent_template", "en-US", mock.Anything).
		Return("", "", services.ErrTemplateNotFound)

	err := p.HandleEmailDeliveryTask(context.Background(), task)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "a missing template is not retried")
	mockEmailSender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleEmailDeliveryTask_SendFailureIsRetried(t *testing.T) {
	mockEmailSender := new(MockEmailSender)
	mockTmplService := new(MockEmailTemplateService)
	p := tasks.NewTaskProcessor(testConfig(), mockEmailSender, mockTmplService, nil, nil, nil, nil, nil, nil, nil)

	payloadBytes, _ := json.Marshal(tasks.EmailTaskPayload{To: "test@example.com", TemplateID: "password_reset"})
	mockTmplService.On("Render", mock.Anything, "password_reset", "", mock.Anything).Return("Reset", "Body", nil)
	mockEmailSender.On("Send", mock.Anything, mock.Anything, "Reset", mock.Anything).Return(errors.New("smtp down"))

	err := p.HandleEmailDeliveryTask(context.Background(), asynq.NewTask(tasks.TypeEmailDelivery, payloadBytes))

	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleEmailDeliveryTask_BadPayload(t *testing.T) {
	p := tasks.NewTaskProcessor(testConfig(), nil, nil, nil, nil, nil, nil, nil, nil, nil)
	err := p.HandleEmailDeliveryTask(context.Background(), asynq.NewTask(tasks.TypeEmailDelivery, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

// --- Notify event ---

func TestHandleNotifyEventTask_AllChannels(t *testing.T) {
	mockEmailSender := new(MockEmailSender)
	mockTmplService := new(MockEmailTemplateService)
	mockUsers := new(MockUserService)
	mockPublisher := new(MockPublisher)
	mockPush := new(MockPushSender)
	p := tasks.NewTaskProcessor(testConfig(), mockEmailSender, mockTmplService, mockUsers, mockPush, mockPublisher, nil, nil, nil, nil)

	userID := utils.NewSixID()
	user := &models.User{Name: "Alice", Email: "alice@example.com", Locale: "fr"}
	user.ID = userID
	mockUsers.On("GetByID", mock.Anything, userID).Return(user, nil)

	mockTmplService.On("Render", mock.Anything, string(services.EventBookingAccepted), "fr",
		mock.MatchedBy(func(data map[string]interface{}) bool {
			return data["name"] == "Alice" && data["listing_title"] == "Drill"
		})).Return("Booking accepted", "Your booking for Drill was accepted.", nil)
	mockPublisher.On("Publish", mock.Anything, userID, mock.MatchedBy(func(e realtime.Event) bool {
		return e.Type == realtime.EventBooking
	})).Return(nil)
	mockPush.On("Notify", mock.Anything, userID, mock.MatchedBy(func(n push.Notification) bool {
		return n.Title == "Booking accepted"
	})).Return(0, push.ErrNotConfigured)
	mockEmailSender.On("Send", mock.Anything, []string{"alice@example.com"}, "Booking accepted", mock.Anything).Return(nil)

	payload, _ := json.Marshal(tasks.NotifyEventPayload{
		UserID: userID,
		Event:  services.EventBookingAccepted,
		Data:   map[string]interface{}{"listing_title": "Drill"},
	})
	err := p.HandleNotifyEventTask(context.Background(), asynq.NewTask(tasks.TypeNotifyEvent, payload))

	assert.NoError(t, err)
	mockTmplService.AssertExpectations(t)
	mockPublisher.AssertExpectations(t)
	mockPush.AssertExpectations(t)
	mockEmailSender.AssertExpectations(t)
}

func TestHandleNotifyEventTask_NewMessageSkipsRealtime(t *testing.T) {
	mockEmailSender := new(MockEmailSender)
	mockTmplService := new(MockEmailTemplateService)
	mockUsers := new(MockUserService)
	mockPublisher := new(MockPublisher)
	p := tasks.NewTaskProcessor(testConfig(), mockEmailSender, mockTmplService, mockUsers, nil, mockPublisher, nil, nil, nil, nil)

	userID := utils.NewSixID()
	user := &models.User{Name: "Bob", Email: "bob@example.com"}
	user.ID = userID
	mockUsers.On("GetByID", mock.Anything, userID).Return(user, nil)
	mockTmplService.On("Render", mock.Anything, string(services.EventNewMessage), "", mock.Anything).Return("New message", "Hi", nil)
	mockEmailSender.On("Send", mock.Anything, []string{"bob@example.com"}, "New message", mock.Anything).Return(nil)

	payload, _ := json.Marshal(tasks.NotifyEventPayload{UserID: userID, Event: services.EventNewMessage})
	err := p.HandleNotifyEventTask(context.Background(), asynq.NewTask(tasks.TypeNotifyEvent, payload))

	assert.NoError(t, err)
	mockPublisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleNotifyEventTask_UnknownUser(t *testing.T) {
	mockUsers := new(MockUserService)
	p := tasks.NewTaskProcessor(testConfig(), nil, nil, mockUsers, nil, nil, nil, nil, nil, nil)

	userID := utils.NewSixID()
	mockUsers.On("GetByID", mock.Anything, userID).Return(nil, services.ErrUserNotFound)

	payload, _ := json.Marshal(tasks.NotifyEventPayload{UserID: userID, Event: services.EventLevelUp})
	err := p.HandleNotifyEventTask(context.Background(), asynq.NewTask(tasks.TypeNotifyEvent, payload))

	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

// --- Bookings ---

func TestHandleBookingCompleteTask(t *testing.T) {
	bookingID := utils.NewSixID()
	payload, _ := json.Marshal(tasks.BookingTaskPayload{BookingID: bookingID})
	task := asynq.NewTask(tasks.TypeBookingComplete, payload)

	tests := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{name: "completed", err: nil},
		{name: "not yet completable", err: services.ErrNotCompletable},
		{name: "unknown booking", err: services.ErrBookingNotFound, wantErr: true, skipRetry: true},
		{name: "transient failure", err: errors.New("mongo timeout"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookings := new(MockBookingService)
			var booking *models.Booking
			if tt.err == nil {
				booking = &models.Booking{}
			}
			bookings.On("Complete", mock.Anything, bookingID).Return(booking, tt.err)
			p := tasks.NewTaskProcessor(testConfig(), nil, nil, nil, nil, nil, bookings, nil, nil, nil)

			err := p.HandleBookingCompleteTask(context.Background(), task)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandleBookingExpireSweepTask(t *testing.T) {
	bookings := new(MockBookingService)
	bookings.On("ExpireStale", mock.Anything, mock.AnythingOfType("time.Time")).Return(3, nil).Once()
	p := tasks.NewTaskProcessor(testConfig(), nil, nil, nil, nil, nil, bookings, nil, nil, nil)

	assert.NoError(t, p.HandleBookingExpireSweepTask(context.Background(), asynq.NewTask(tasks.TypeBookingExpireSweep, nil)))
	bookings.AssertExpectations(t)
}

// --- Notifier ---

func TestNotifier_NotifyUserEnqueuesOnDefaultQueue(t *testing.T) {
	client := new(MockAsynqClient)
	n := tasks.NewNotifier(client)
	userID := utils.NewSixID()

	client.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		var p tasks.NotifyEventPayload
		if task.Type() != tasks.TypeNotifyEvent || json.Unmarshal(task.Payload(), &p) != nil {
			return false
		}
		return p.UserID == userID && p.Event == services.EventRatingReceived
	}), mock.Anything).Return(&asynq.TaskInfo{}, nil)

	err := n.NotifyUser(context.Background(), userID, services.EventRatingReceived, map[string]interface{}{"visible": true})
	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestNotifier_BookingCompletionIsDeduplicated(t *testing.T) {
	client := new(MockAsynqClient)
	n := tasks.NewNotifier(client)
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict)

	assert.NoError(t, n.EnqueueBookingCompletion(context.Background(), utils.NewSixID()))
}

func TestNotifier_EnqueueFailure(t *testing.T) {
	client := new(MockAsynqClient)
	n := tasks.NewNotifier(client)
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))

	err := n.SendEmail(context.Background(), "a@example.com", "email_validation", "en", nil)
	assert.ErrorContains(t, err, "redis down")
}
