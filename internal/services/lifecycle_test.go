package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/samjaninf/stelace-sub000/internal/cache"
	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/payment"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

const testWebhookSecret = "whsec_test"

func testConfig() *config.Config {
	return &config.Config{
		AppName:                   "Marketplace",
		PasswordRegexp:            "^.{8,}$",
		DefaultCurrency:           "EUR",
		TakerFeesPercent:          15,
		OwnerFeesPercent:          5,
		EmailValidationTTL:        72 * time.Hour,
		PasswordResetTTL:          30 * time.Minute,
		MaxLocationsPerUser:       4,
		SettingsCacheTTL:          time.Minute,
		BookingAcceptTTL:          168 * time.Hour,
		BookingPaymentTTL:         48 * time.Hour,
		BookingCompletionDelay:    48 * time.Hour,
		RatingVisibilityDelayDays: 14,
		ImageMaxSizeMB:            10,
		PaymentWebhookSecret:      testWebhookSecret,
	}
}

func setupContainer(t *testing.T) *Container {
	t.Helper()
	c, _ := setupContainerWith(t, payment.NewSandboxProvider())
	return c
}

// setupContainerWith wires the services on provider and also returns the
// database for tests that inspect or rewind stored documents.
func setupContainerWith(t *testing.T, provider payment.Provider) (*Container, *mongo.Database) {
	t.Helper()
	database := utils.SetupTestDB(t, "marketplace_services_test",
		db.Users, db.Tokens, db.Locations, db.Listings, db.Bookings, db.Cancellations, db.Transactions,
		db.TransactionLogs, db.Assessments, db.Ratings, db.Conversations, db.Messages, db.ModelSnapshots,
		db.GamificationEvents, db.Settings, db.EmailTemplates)
	require.NoError(t, db.EnsureIndexes(context.Background(), database))

	c, err := NewContainer(Deps{
		DB:       database,
		Config:   testConfig(),
		Locker:   cache.NewLocalLocker(),
		Provider: provider,
	})
	require.NoError(t, err)
	require.NoError(t, c.Settings.Load(context.Background()))
	return c, database
}

func createUser(t *testing.T, c *Container, name string, payer bool) *models.User {
	t.Helper()
	ctx := context.Background()
	user, err := c.Users.Register(ctx, RegisterInput{
		Name:     name,
		Email:    name + "_" + utils.NewSixID().String() + "@example.com",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	if !payer {
		return user
	}
	birthday := time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err = c.Users.UpdateKYC(ctx, user.ID, models.KYC{
		FirstName:          name,
		LastName:           "Test",
		Birthday:           &birthday,
		Nationality:        "FR",
		CountryOfResidence: "FR",
	})
	require.NoError(t, err)
	require.NoError(t, c.Users.SetPaymentAccount(ctx, user.ID, "acct_"+user.ID.String(), "wallet_"+user.ID.String()))
	require.NoError(t, c.Users.SetBankAccount(ctx, user.ID, "bank_"+user.ID.String()))
	return user
}

func createListing(t *testing.T, c *Container, owner *models.User, quantity int) *models.Listing {
	t.Helper()
	ctx := context.Background()
	listing, err := c.Listings.Create(ctx, owner.ID, ListingInput{
		Title:    "Camping tent",
		Type:     models.ListingTypeRental,
		Quantity: quantity,
		Deposit:  5000,
		Pricing:  models.Pricing{DayOnePrice: 2000, Currency: "EUR"},
	})
	require.NoError(t, err)
	listing, err = c.Listings.Publish(ctx, owner.ID, listing.ID)
	require.NoError(t, err)
	return listing
}

// confirmedBooking books listing for taker over [start, end), accepts and
// pays it.
func confirmedBooking(t *testing.T, c *Container, owner, taker *models.User, listing *models.Listing, start, end time.Time) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := c.Bookings.Create(ctx, taker.ID, BookingInput{ListingID: listing.ID, StartDate: start, EndDate: end})
	require.NoError(t, err)
	_, err = c.Bookings.Accept(ctx, owner.ID, b.ID)
	require.NoError(t, err)
	b, err = c.Bookings.Pay(ctx, taker.ID, b.ID)
	require.NoError(t, err)
	require.Equal(t, models.BookingConfirmed, b.Status())
	return b
}

func futurePeriod(offsetDays, days int) (time.Time, time.Time) {
	start := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, offsetDays)
	return start, start.AddDate(0, 0, days)
}

func TestBookingLifecycle_ConfirmAndCancel(t *testing.T) {
	c := setupContainer(t)
	ctx := context.Background()
	owner := createUser(t, c, "owner", true)
	taker := createUser(t, c, "taker", true)
	other := createUser(t, c, "other", true)
	listing := createListing(t, c, owner, 1)
	start, end := futurePeriod(10, 3)

	_, err := c.Bookings.Create(ctx, owner.ID, BookingInput{ListingID: listing.ID, StartDate: start, EndDate: end})
	assert.ErrorIs(t, err, ErrOwnBooking)

	first, err := c.Bookings.Create(ctx, taker.ID, BookingInput{ListingID: listing.ID, StartDate: start, EndDate: end, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, first.Status())
	assert.EqualValues(t, 3*2000, first.Price.OwnerPrice)

	// Pending requests do not hold stock, so a competing request is accepted.
	second, err := c.Bookings.Create(ctx, other.ID, BookingInput{ListingID: listing.ID, StartDate: start, EndDate: end, Quantity: 1})
	require.NoError(t, err)

	_, err = c.Bookings.Accept(ctx, taker.ID, first.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	accepted, err := c.Bookings.Accept(ctx, owner.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingAccepted, accepted.Status())

	_, err = c.Bookings.Accept(ctx, owner.ID, second.ID)
	assert.ErrorIs(t, err, ErrListingUnavailable)

	confirmed, err := c.Bookings.Pay(ctx, taker.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, confirmed.Status())

	transactions, err := c.Payments.ListForBooking(ctx, first.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, transactions)

	cancellation, err := c.Bookings.Cancel(ctx, taker.ID, first.ID, "change of plans")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonTakerCancellation, cancellation.Reason)
	assert.Equal(t, first.Price.TakerPrice-first.Price.TakerFees, cancellation.RefundAmount)
	assert.Equal(t, "change of plans", cancellation.Note)

	_, err = c.Bookings.Cancel(ctx, taker.ID, first.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := c.Bookings.Get(ctx, owner.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.Status())

	// Capacity is released for the competing request.
	_, err = c.Bookings.Accept(ctx, owner.ID, second.ID)
	assert.NoError(t, err)
}

func TestBookingLifecycle_GetRestrictedToParties(t *testing.T) {
	c := setupContainer(t)
	ctx := context.Background()
	owner := createUser(t, c, "owner", false)
	taker := createUser(t, c, "taker", false)
	stranger := createUser(t, c, "stranger", false)
	listing := createListing(t, c, owner, 2)
	start, end := futurePeriod(5, 2)

	b, err := c.Bookings.Create(ctx, taker.ID, BookingInput{ListingID: listing.ID, StartDate: start, EndDate: end})
	require.NoError(t, err)

	_, err = c.Bookings.Get(ctx, stranger.ID, b.ID)
	assert.Error(t, err)

	_, err = c.Bookings.Pay(ctx, taker.ID, b.ID)
	assert.ErrorIs(t, err, ErrPaymentAccountRequired)

	list, err := c.Bookings.List(ctx, owner.ID, models.RoleOwner, models.BookingPending)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	list, err = c.Bookings.List(ctx, taker.ID, models.RoleOwner, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBookingLifecycle_ExpireStale(t *testing.T) {
	c := setupContainer(t)
	ctx := context.Background()
	owner := createUser(t, c, "owner", false)
	taker := createUser(t, c, "taker", false)
	listing := createListing(t, c, owner, 1)
	start, end := futurePeriod(30, 2)

	b, err := c.Bookings.Create(ctx, taker.ID, BookingInput{ListingID: listing.ID, StartDate: start, EndDate: end})
	require.NoError(t, err)

	n, err := c.Bookings.ExpireStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = c.Bookings.ExpireStale(ctx, b.AcceptDueDate.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := c.Bookings.Get(ctx, taker.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.Status())

	_, err = c.Bookings.Accept(ctx, owner.ID, b.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrBookingExpired))
}

func TestBookingLifecycle_CompleteDue(t *testing.T) {
	c := setupContainer(t)
	ctx := context.Background()
	owner := createUser(t, c, "owner", true)
	taker := createUser(t, c, "taker", true)
	listing := createListing(t, c, owner, 1)
	start, end := futurePeriod(3, 2)

	b, err := c.Bookings.Create(ctx, taker.ID, BookingInput{ListingID: listing.ID, StartDate: start, EndDate: end})
	require.NoError(t, err)
	_, err = c.Bookings.Accept(ctx, owner.ID, b.ID)
	require.NoError(t, err)
	_, err = c.Bookings.Pay(ctx, taker.ID, b.ID)
	require.NoError(t, err)

	// Not before the end date plus the completion delay.
	n, err := c.Bookings.CompleteDue(ctx, end.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = c.Bookings.CompleteDue(ctx, end.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := c.Bookings.Get(ctx, owner.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, got.Status())
	assert.True(t, got.PayoutDone)
	assert.True(t, got.DepositReleased)
}

func TestGamification_RecordActionOnce(t *testing.T) {
	c := setupContainer(t)
	ctx := context.Background()
	user := createUser(t, c, "player", false)

	first, err := c.Gamification.RecordAction(ctx, user.ID, ActionFirstListing)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := c.Gamification.RecordAction(ctx, user.ID, ActionFirstListing)
	require.NoError(t, err)
	assert.False(t, again)

	_, err = c.Gamification.RecordAction(ctx, user.ID, "unknown_action")
	assert.ErrorIs(t, err, ErrUnknownAction)

	progress, err := c.Gamification.GetProgress(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionPoints[ActionFirstListing], progress.Points)
	assert.Equal(t, "BEGINNER", progress.LevelID)
}

func TestBookingLifecycle_RepairsUnrecordedConfirmation(t *testing.T) {
	sandbox := payment.NewSandboxProvider()
	c, database := setupContainerWith(t, sandbox)
	ctx := context.Background()
	owner := createUser(t, c, "owner", true)
	taker := createUser(t, c, "taker", true)
	listing := createListing(t, c, owner, 1)
	start, end := futurePeriod(3, 2)
	b := confirmedBooking(t, c, owner, taker, listing, start, end)

	// State left by a stop between the paid and confirmed writes, on a
	// booking whose period is long over.
	now := time.Now().UTC()
	_, err := database.Collection(db.Bookings).UpdateOne(ctx, bson.M{"_id": b.ID}, bson.M{"$set": bson.M{
		"confirmed_date": nil,
		"payin_done":     false,
		"start_date":     now.AddDate(0, 0, -7),
		"end_date":       now.AddDate(0, 0, -5),
		"updated_at":     now.Add(-time.Hour),
	}})
	require.NoError(t, err)
	calls := sandbox.Calls()

	_, err = c.Bookings.Complete(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotCompletable)
	assert.Equal(t, calls, sandbox.Calls(), "no money moves without a recorded confirmation")

	n, err := c.Bookings.ExpireStale(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := c.Bookings.Get(ctx, taker.ID, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ConfirmedDate)
	assert.True(t, got.PayinDone)
	assert.Equal(t, calls, sandbox.Calls(), "the payin is replayed from the ledger")

	completed, err := c.Bookings.Complete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, completed.Status())
}

func TestBookingLifecycle_RepairWaitsForGracePeriod(t *testing.T) {
	c, database := setupContainerWith(t, payment.NewSandboxProvider())
	ctx := context.Background()
	owner := createUser(t, c, "owner", true)
	taker := createUser(t, c, "taker", true)
	listing := createListing(t, c, owner, 1)
	start, end := futurePeriod(3, 2)
	b := confirmedBooking(t, c, owner, taker, listing, start, end)

	now := time.Now().UTC()
	_, err := database.Collection(db.Bookings).UpdateOne(ctx, bson.M{"_id": b.ID}, bson.M{"$set": bson.M{
		"confirmed_date": nil,
		"payin_done":     false,
		"updated_at":     now,
	}})
	require.NoError(t, err)

	_, err = c.Bookings.ExpireStale(ctx, now)
	require.NoError(t, err)
	got, err := c.Bookings.Get(ctx, taker.ID, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ConfirmedDate, "a confirmation in flight is left alone")

	_, err = c.Bookings.ExpireStale(ctx, now.Add(repairGrace+time.Minute))
	require.NoError(t, err)
	got, err = c.Bookings.Get(ctx, taker.ID, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ConfirmedDate)
	assert.True(t, got.PayinDone)
}
