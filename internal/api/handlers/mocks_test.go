package handlers_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// --- Mocks ---
// Each mock embeds its interface so that only the methods a test exercises
// need an implementation. Calling any other method panics.

type MockUserService struct {
	mock.Mock
	services.IUserService
}

func (m *MockUserService) Register(ctx context.Context, in services.RegisterInput) (*models.User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) GetByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockListingService struct {
	mock.Mock
	services.IListingService
}

func (m *MockListingService) GetByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) Search(ctx context.Context, filter models.ListingFilter) ([]models.Listing, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.Listing), args.Get(1).(int64), args.Error(2)
}

func (m *MockListingService) Quote(ctx context.Context, listingID utils.SixID, in services.QuoteInput) (*services.Quote, error) {
	args := m.Called(ctx, listingID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Quote), args.Error(1)
}

func (m *MockListingService) Create(ctx context.Context, ownerID utils.SixID, in services.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, ownerID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

type MockBookingService struct {
	mock.Mock
	services.IBookingService
}

func (m *MockBookingService) Create(ctx context.Context, takerID utils.SixID, in services.BookingInput) (*models.Booking, error) {
	args := m.Called(ctx, takerID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) Cancel(ctx context.Context, actorID, bookingID utils.SixID, note string) (*models.Cancellation, error) {
	args := m.Called(ctx, actorID, bookingID, note)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Cancellation), args.Error(1)
}

func (m *MockBookingService) Pay(ctx context.Context, takerID, bookingID utils.SixID) (*models.Booking, error) {
	args := m.Called(ctx, takerID, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) List(ctx context.Context, userID utils.SixID, role models.BookingRole, status models.BookingStatus) ([]models.Booking, error) {
	args := m.Called(ctx, userID, role, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

type MockSettingsService struct {
	mock.Mock
	services.ISettingsService
}

func (m *MockSettingsService) All(ctx context.Context) map[string]interface{} {
	args := m.Called(ctx)
	return args.Get(0).(map[string]interface{})
}

func (m *MockSettingsService) Set(ctx context.Context, key string, value interface{}) error {
	return m.Called(ctx, key, value).Error(0)
}

type MockSnapshotService struct {
	mock.Mock
	services.ISnapshotService
}

func (m *MockSnapshotService) GetForUser(ctx context.Context, userID utils.SixID, isAdmin bool, id utils.SixID) (*models.ModelSnapshot, error) {
	args := m.Called(ctx, userID, isAdmin, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ModelSnapshot), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
	services.IPaymentService
}

func (m *MockPaymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	return m.Called(ctx, rawBody, signature).Error(0)
}

type MockConversationService struct {
	mock.Mock
	services.IConversationService
}

func (m *MockConversationService) SendMessage(ctx context.Context, senderID utils.SixID, in models.MessageInput) (*models.Message, error) {
	args := m.Called(ctx, senderID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

type MockLocationService struct {
	mock.Mock
	services.ILocationService
}

func (m *MockLocationService) Create(ctx context.Context, userID utils.SixID, in services.LocationInput) (*models.Location, error) {
	args := m.Called(ctx, userID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Location), args.Error(1)
}

func (m *MockLocationService) List(ctx context.Context, userID utils.SixID) ([]models.Location, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Location), args.Error(1)
}

func (m *MockLocationService) SetMain(ctx context.Context, userID, locationID utils.SixID) error {
	args := m.Called(ctx, userID, locationID)
	return args.Error(0)
}
