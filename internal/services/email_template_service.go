package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/email"
	"github.com/samjaninf/stelace-sub000/internal/models"
)

const fallbackLocale = "en"

var ErrTemplateNotFound = errors.New("email template not found")

// Built-in templates, used when no override is stored for the locale.
// NotifyUser data always carries name and app_name.
var defaultEmailTemplates = map[string]models.EmailTemplate{
	string(EventEmailValidation): {
		Subject: "Confirm your {{.app_name}} email address",
		Body:    "Hello {{.name}},\n\nUse this code to confirm your email address: {{.token}}\nIt expires on {{.expires_at}}.",
	},
	string(EventPasswordReset): {
		Subject: "Reset your {{.app_name}} password",
		Body:    "Hello {{.name}},\n\nUse this code to choose a new password: {{.token}}\nIt expires on {{.expires_at}}. If you did not ask for it, ignore this email.",
	},
	string(EventBookingRequested): {
		Subject: "New booking request",
		Body:    "Hello {{.name}},\n\nYou received a booking request for {{.quantity}} unit(s) from {{.start_date}} to {{.end_date}}.\nBooking: {{.booking_id}}",
	},
	string(EventBookingAccepted): {
		Subject: "Your booking request was accepted",
		Body:    "Hello {{.name}},\n\nThe owner accepted booking {{.booking_id}}. Pay {{.taker_price}} {{.currency}} to confirm it.",
	},
	string(EventBookingConfirmed): {
		Subject: "Booking confirmed",
		Body:    "Hello {{.name}},\n\nBooking {{.booking_id}} is confirmed, from {{.start_date}} to {{.end_date}}.",
	},
	string(EventBookingCancelled): {
		Subject: "Booking cancelled",
		Body:    "Hello {{.name}},\n\nBooking {{.booking_id}} was cancelled ({{.reason}}). Refund: {{.refund_amount}} {{.currency}}.",
	},
	string(EventBookingCompleted): {
		Subject: "Booking completed",
		Body:    "Hello {{.name}},\n\nBooking {{.booking_id}} is completed. Tell us how it went by leaving a rating.",
	},
	string(EventNewMessage): {
		Subject: "New message about {{.listing_title}}",
		Body:    "Hello {{.name}},\n\n{{.message}}\n\nConversation: {{.conversation_id}}",
	},
	string(EventRatingReceived): {
		Subject: "You received a rating",
		Body:    "Hello {{.name}},\n\nYou were rated for booking {{.booking_id}}. Rate your counterpart too to see it sooner.",
	},
	string(EventLevelUp): {
		Subject: "You reached level {{.level_id}}",
		Body:    "Hello {{.name}},\n\nWith {{.points}} points you are now {{.level_id}} on {{.app_name}}.",
	},
	string(EventAssessmentToSign): {
		Subject: "An assessment awaits your signature",
		Body:    "Hello {{.name}},\n\nThe owner prepared the {{.type}} assessment of booking {{.booking_id}}. Review and sign it.",
	},
	string(EventPaymentFailed): {
		Subject: "Payment failed",
		Body:    "Hello {{.name}},\n\nWe could not capture {{.taker_price}} {{.currency}} for booking {{.booking_id}}, so it was cancelled.",
	},
	string(EventDepositRetained): {
		Subject: "Part of your deposit was retained",
		Body:    "Hello {{.name}},\n\nThe owner retained part of the deposit of booking {{.booking_id}} as stated in the signed return assessment.",
	},
	string(EventBankAccountNeeded): {
		Subject: "Add a bank account to get paid",
		Body:    "Hello {{.name}},\n\nBooking {{.booking_id}} is completed but we need your bank account and identity details to send the payout.",
	},
}

// IEmailTemplateService resolves and renders notification emails.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	Render(ctx context.Context, templateID, locale string, data map[string]interface{}) (subject, body string, err error)
	SaveTemplate(ctx context.Context, tpl *models.EmailTemplate) error
	DeleteTemplate(ctx context.Context, templateID, locale string) error
}

type emailTemplateService struct {
	db      *mongo.Database
	appName string
}

func NewEmailTemplateService(database *mongo.Database, appName string) IEmailTemplateService {
	return &emailTemplateService{db: database, appName: appName}
}

// candidateLocales lists "fr-CA", "fr", "en" for "fr-CA".
func candidateLocales(locale string) []string {
	var out []string
	if locale != "" {
		out = append(out, locale)
		if base, _, ok := strings.Cut(locale, "-"); ok {
			out = append(out, base)
		}
	}
	if locale != fallbackLocale {
		out = append(out, fallbackLocale)
	}
	return out
}

// GetTemplate returns the stored override for the best matching locale, or
// the built-in template.
func (s *emailTemplateService) GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error) {
	collection := s.db.Collection(db.EmailTemplates)
	for _, l := range candidateLocales(locale) {
		var tpl models.EmailTemplate
		err := collection.FindOne(ctx, bson.M{"template_id": templateID, "locale": l}).Decode(&tpl)
		if err == nil {
			return &tpl, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("error retrieving template: %w", err)
		}
	}
	if def, ok := defaultEmailTemplates[templateID]; ok {
		def.TemplateID = templateID
		def.Locale = fallbackLocale
		return &def, nil
	}
	return nil, fmt.Errorf("%w: %s (locale: %s)", ErrTemplateNotFound, templateID, locale)
}

func (s *emailTemplateService) Render(ctx context.Context, templateID, locale string, data map[string]interface{}) (string, string, error) {
	tpl, err := s.GetTemplate(ctx, templateID, locale)
	if err != nil {
		return "", "", err
	}
	merged := map[string]interface{}{"app_name": s.appName}
	for k, v := range data {
		merged[k] = v
	}
	return email.Render(tpl.Subject, tpl.Body, merged)
}

// SaveTemplate stores an override after checking both parts parse.
func (s *emailTemplateService) SaveTemplate(ctx context.Context, tpl *models.EmailTemplate) error {
	if tpl.TemplateID == "" || tpl.Locale == "" {
		return fmt.Errorf("%w: template_id and locale are required", ErrValidation)
	}
	for name, text := range map[string]string{"subject": tpl.Subject, "body": tpl.Body} {
		if _, err := template.New(name).Parse(text); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	tpl.GenIDIfEmpty()
	filter := bson.M{"template_id": tpl.TemplateID, "locale": tpl.Locale}
	update := bson.M{
		"$set":         bson.M{"subject": tpl.Subject, "body": tpl.Body},
		"$setOnInsert": bson.M{"_id": tpl.ID},
	}
	if _, err := s.db.Collection(db.EmailTemplates).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}
	return nil
}

func (s *emailTemplateService) DeleteTemplate(ctx context.Context, templateID, locale string) error {
	res, err := s.db.Collection(db.EmailTemplates).DeleteOne(ctx, bson.M{"template_id": templateID, "locale": locale})
	if err != nil {
		return fmt.Errorf("error deleting template: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrTemplateNotFound
	}
	return nil
}
