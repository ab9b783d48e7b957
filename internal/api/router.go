package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/api/handlers"
	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/email"
	"github.com/samjaninf/stelace-sub000/internal/metrics"
	"github.com/samjaninf/stelace-sub000/internal/push"
	"github.com/samjaninf/stelace-sub000/internal/services"
)

const (
	testEmailPollAttempts = 10
	testEmailPollInterval = 200 * time.Millisecond
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(
	cfg *config.Config,
	svc *services.Container,
	hub handlers.WebSocketServer,
	pushSender push.ISender,
	rateLimiter *middleware.RateLimiterMiddleware,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), metrics.GinMiddleware())

	// Order matters: the limiter needs to know whether the caller is authenticated.
	r.Use(middleware.CORSMiddleware(cfg.CorsAllowedOrigins))
	r.Use(middleware.OptionalAuthMiddleware(cfg.JwtSecret))
	r.Use(rateLimiter.Limit())

	jsonApiHandler := handlers.NewJsonApiHandler(svc.Listings, svc.Snapshots, svc.Settings)
	authHandler := handlers.NewRestAuthHandler(cfg, svc.Users)
	configHandler := handlers.NewRestConfigHandler(cfg, svc.Settings, svc.EmailTemplates)
	userHandler := handlers.NewRestUserHandler(svc.Users, svc.Listings, svc.Gamification, svc.Ratings)
	locationHandler := handlers.NewRestLocationHandler(svc.Locations)
	listingHandler := handlers.NewRestListingHandler(svc.Listings, svc.Ratings)
	bookingHandler := handlers.NewRestBookingHandler(svc.Bookings, svc.Payments, svc.Assessments, svc.Ratings)
	assessmentHandler := handlers.NewRestAssessmentHandler(svc.Assessments, svc.Ratings)
	conversationHandler := handlers.NewRestConversationHandler(svc.Conversations)
	realtimeHandler := handlers.NewRealtimeHandler(hub, pushSender, svc.Payments)

	v1 := r.Group("/v1")
	{
		// Public routes
		v1.POST("/api", jsonApiHandler.HandleRequest)
		v1.GET("/config", configHandler.GetPublicConfig)
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		v1.POST("/auth/register", authHandler.Register)
		v1.POST("/auth/login", authHandler.Login)
		v1.POST("/auth/validate-email", authHandler.ValidateEmail)
		v1.POST("/auth/password-reset", authHandler.RequestPasswordReset)
		v1.POST("/auth/password-reset/confirm", authHandler.ResetPassword)

		v1.GET("/listings", listingHandler.SearchListings)
		v1.GET("/listings/:id", listingHandler.GetListingByID)
		v1.POST("/listings/:id/quote", listingHandler.QuoteListing)
		v1.GET("/listings/:id/availability", listingHandler.GetAvailability)
		v1.GET("/listings/:id/ratings", listingHandler.GetListingRatings)

		v1.GET("/users/:id", userHandler.GetUserByID)
		v1.GET("/users/:id/ratings", userHandler.GetUserRatings)

		v1.GET("/push/key", realtimeHandler.GetPushKey)

		// Signed by the payment provider, not by a user token.
		v1.POST("/webhooks/payment", realtimeHandler.PaymentWebhook)

		// Authenticated routes
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/ws", realtimeHandler.ServeWS)

			// gin matches the static "me" segment before ":id".
			authRequired.GET("/users/me", userHandler.GetMe)
			authRequired.PUT("/users/me", userHandler.UpdateMe)
			authRequired.PUT("/users/me/kyc", userHandler.UpdateKYC)
			authRequired.PUT("/users/me/payment-account", userHandler.SetPaymentAccount)
			authRequired.GET("/users/me/progress", userHandler.GetProgress)

			authRequired.GET("/locations", locationHandler.ListLocations)
			authRequired.POST("/locations", locationHandler.CreateLocation)
			authRequired.PUT("/locations/:id", locationHandler.UpdateLocation)
			authRequired.DELETE("/locations/:id", locationHandler.DeleteLocation)
			authRequired.POST("/locations/:id/main", locationHandler.SetMainLocation)

			authRequired.POST("/listings", listingHandler.CreateListing)
			authRequired.PUT("/listings/:id", listingHandler.UpdateListing)
			authRequired.DELETE("/listings/:id", listingHandler.DeleteListing)
			authRequired.POST("/listings/:id/publish", listingHandler.PublishListing)
			authRequired.POST("/listings/:id/pause", listingHandler.PauseListing)
			authRequired.POST("/listings/:id/blocks", listingHandler.AddBlock)
			authRequired.DELETE("/listings/:id/blocks/:blockId", listingHandler.RemoveBlock)
			authRequired.POST("/listings/:id/images/upload-url", listingHandler.GetImageUploadURL)
			authRequired.POST("/listings/:id/images/confirm", listingHandler.ConfirmImageUpload)

			authRequired.POST("/bookings", bookingHandler.CreateBooking)
			authRequired.GET("/bookings", bookingHandler.ListBookings)
			authRequired.GET("/bookings/:id", bookingHandler.GetBooking)
			authRequired.POST("/bookings/:id/accept", bookingHandler.AcceptBooking)
			authRequired.POST("/bookings/:id/pay", bookingHandler.PayBooking)
			authRequired.POST("/bookings/:id/reject", bookingHandler.RejectBooking)
			authRequired.POST("/bookings/:id/cancel", bookingHandler.CancelBooking)
			authRequired.GET("/bookings/:id/transactions", bookingHandler.ListTransactions)
			authRequired.POST("/bookings/:id/assessments", bookingHandler.CreateAssessment)
			authRequired.GET("/bookings/:id/assessments", bookingHandler.ListAssessments)
			authRequired.POST("/bookings/:id/assessments/photo-url", bookingHandler.GetAssessmentPhotoURL)
			authRequired.POST("/bookings/:id/ratings", bookingHandler.CreateRating)

			authRequired.PUT("/assessments/:id", assessmentHandler.UpdateAssessment)
			authRequired.POST("/assessments/:id/sign", assessmentHandler.SignAssessment)
			authRequired.PUT("/ratings/:id", assessmentHandler.UpdateRating)

			authRequired.GET("/conversations", conversationHandler.ListConversations)
			authRequired.GET("/conversations/:id", conversationHandler.GetConversation)
			authRequired.GET("/conversations/:id/messages", conversationHandler.GetMessages)
			authRequired.POST("/conversations/:id/read", conversationHandler.MarkRead)
			authRequired.POST("/messages", conversationHandler.SendMessage)

			authRequired.POST("/push/subscriptions", realtimeHandler.Subscribe)
			authRequired.DELETE("/push/subscriptions", realtimeHandler.Unsubscribe)
		}

		// Admin routes
		adminRequired := v1.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware())
		{
			adminRequired.PUT("/settings/:key", configHandler.SetSetting)
			adminRequired.PUT("/email-templates", configHandler.SaveEmailTemplate)
			adminRequired.DELETE("/email-templates/:id", configHandler.DeleteEmailTemplate)
		}
	}

	return r
}

// SetupServiceRouter configures the internal service API. It listens on its
// own port and must not be exposed publicly.
func SetupServiceRouter(cfg *config.Config, rdb redis.UniversalClient, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "mode": cfg.RunMode}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/shutdown", func(c *gin.Context) {
		logrus.Info("Received shutdown command via Service API")
		c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
		select {
		case shutdownChan <- struct{}{}:
		default:
			logrus.Warn("Shutdown channel already signaled")
		}
	})

	// Mock inbox, only filled when MOCK_SERVICES is on.
	r.GET("/test-email/:address", func(c *gin.Context) {
		address := c.Param("address")
		templateID := c.Query("template")
		ctx := c.Request.Context()
		for i := 0; i < testEmailPollAttempts; i++ {
			mail, err := email.ReadMockEmail(ctx, rdb, address, templateID)
			if err == nil {
				c.JSON(http.StatusOK, gin.H{"success": true, "data": mail})
				return
			}
			if !errors.Is(err, redis.Nil) {
				logrus.WithError(err).WithField("address", address).Error("Service API: failed to read mock email")
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(testEmailPollInterval):
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Test email not found for " + email.MockInboxKey(address, templateID)})
	})
	return r
}
