package services

import (
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/samjaninf/stelace-sub000/internal/cache"
	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/payment"
	"github.com/samjaninf/stelace-sub000/internal/realtime"
	"github.com/samjaninf/stelace-sub000/internal/storage"
)

// Deps are the infrastructure pieces the services are built on. Storage and
// Redis may be nil.
type Deps struct {
	DB        *mongo.Database
	Config    *config.Config
	Locker    cache.Locker
	Provider  payment.Provider
	Storage   storage.IS3Storage
	Notifier  Notifier
	Publisher realtime.Publisher
	Redis     redis.UniversalClient
}

// Container wires every service once for the API server and the workers.
type Container struct {
	Tokens         ITokenService
	Gamification   IGamificationService
	Settings       ISettingsService
	Snapshots      ISnapshotService
	Users          IUserService
	Locations      ILocationService
	Listings       IListingService
	Transactions   ITransactionService
	Payments       IPaymentService
	Cancellations  ICancellationService
	Conversations  IConversationService
	Bookings       IBookingService
	Assessments    IAssessmentService
	Ratings        IRatingService
	EmailTemplates IEmailTemplateService
}

func NewContainer(d Deps) (*Container, error) {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Publisher == nil {
		d.Publisher = realtime.NopPublisher{}
	}
	c := &Container{}
	c.Tokens = NewTokenService(d.DB)
	c.Gamification = NewGamificationService(d.DB, d.Notifier)
	c.Settings = NewSettingsService(d.DB, d.Config, d.Redis)
	c.Snapshots = NewSnapshotService(d.DB)

	users, err := NewUserService(d.DB, d.Config, c.Tokens, c.Gamification, d.Notifier)
	if err != nil {
		return nil, err
	}
	c.Users = users
	c.Locations = NewLocationService(d.DB, d.Config, c.Gamification)
	c.Listings = NewListingService(d.DB, d.Config, d.Locker, d.Storage, c.Snapshots, c.Gamification, c.Settings, d.Notifier)
	c.Transactions = NewTransactionService(d.DB)
	c.Payments = NewPaymentService(d.DB, d.Config, d.Provider, c.Transactions)
	c.Cancellations = NewCancellationService(d.DB, c.Payments, d.Notifier)
	c.Conversations = NewConversationService(d.DB, c.Listings, d.Publisher, d.Notifier)
	c.Bookings = NewBookingService(d.DB, d.Config, d.Locker, c.Listings, c.Users, c.Snapshots, c.Settings,
		c.Payments, c.Cancellations, c.Conversations, c.Gamification, d.Notifier)
	c.Payments.OnSettlement(c.Bookings.ResumePayment)
	c.Assessments = NewAssessmentService(d.DB, d.Storage, d.Notifier)
	c.Ratings = NewRatingService(d.DB, c.Settings, c.Gamification, d.Notifier)
	c.EmailTemplates = NewEmailTemplateService(d.DB, d.Config.AppName)
	return c, nil
}
