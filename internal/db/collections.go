package db

// Collection names.
const (
	Users              = "users"
	Tokens             = "tokens"
	Locations          = "locations"
	Listings           = "listings"
	Bookings           = "bookings"
	Cancellations      = "cancellations"
	Transactions       = "transactions"
	TransactionLogs    = "transaction_logs"
	Assessments        = "assessments"
	Ratings            = "ratings"
	Conversations      = "conversations"
	Messages           = "messages"
	ModelSnapshots     = "model_snapshots"
	GamificationEvents = "gamification_events"
	Settings           = "settings"
	EmailTemplates     = "email_templates"
	PushSubscriptions  = "push_subscriptions"
)
