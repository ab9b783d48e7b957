package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/samjaninf/stelace-sub000/internal/auth"
	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already in use by another account")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidKYC         = errors.New("invalid KYC data")
)

// RegisterInput is what a new member submits.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	Locale   string `json:"locale" validate:"omitempty,bcp47_language_tag"`
}

// ProfileUpdate holds the editable profile fields. Nil fields are left alone.
type ProfileUpdate struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Phone       *string `json:"phone" validate:"omitempty,e164"`
	Locale      *string `json:"locale" validate:"omitempty,bcp47_language_tag"`
}

// IUserService manages accounts, KYC and payment identities.
type IUserService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	GetByID(ctx context.Context, userID utils.SixID) (*models.User, error)
	UpdateProfile(ctx context.Context, userID utils.SixID, update ProfileUpdate) (*models.User, error)
	UpdateKYC(ctx context.Context, userID utils.SixID, kyc models.KYC) (*models.User, error)
	SetPaymentAccount(ctx context.Context, userID utils.SixID, accountID, walletID string) error
	SetBankAccount(ctx context.Context, userID utils.SixID, bankAccountID string) error
	ValidateEmail(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type userService struct {
	db           *mongo.Database
	cfg          *config.Config
	policy       *auth.PasswordPolicy
	tokens       ITokenService
	gamification IGamificationService
	notifier     Notifier
	now          clock
}

func NewUserService(database *mongo.Database, cfg *config.Config, tokens ITokenService, gamification IGamificationService, notifier Notifier) (IUserService, error) {
	policy, err := auth.NewPasswordPolicy(cfg.PasswordRegexp)
	if err != nil {
		return nil, err
	}
	return &userService{
		db:           database,
		cfg:          cfg,
		policy:       policy,
		tokens:       tokens,
		gamification: gamification,
		notifier:     notifier,
		now:          utcNow,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *userService) collection() *mongo.Collection {
	return s.db.Collection(db.Users)
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := s.policy.Check(in.Password); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        in.Email,
		PasswordHash: hash,
		LevelID:      Levels[0].ID,
		Locale:       in.Locale,
	}
	user.Touch(s.now())

	// Only _id collisions are retried, the email index must surface at once.
	err = db.WithRetries(func() error {
		user.GenID()
		_, err := s.collection().InsertOne(ctx, user)
		return err
	}, db.DefaultMaxRetries, func(err error) bool {
		return db.IsDuplicateKey(err) && !strings.Contains(err.Error(), "email")
	})
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user %s: %w", in.Email, err)
	}

	if err := s.sendToken(ctx, user, models.TokenEmailValidation, s.cfg.EmailValidationTTL, EventEmailValidation); err != nil {
		logrus.WithError(err).WithField("userID", user.ID).Warn("failed to queue email validation")
	}
	logrus.WithField("userID", user.ID).Info("user registered")
	return user, nil
}

func (s *userService) sendToken(ctx context.Context, user *models.User, tokenType models.TokenType, ttl time.Duration, event NotificationEvent) error {
	token, err := s.tokens.Create(ctx, user.ID, tokenType, ttl)
	if err != nil {
		return err
	}
	return s.notifier.SendEmail(ctx, user.Email, string(event), user.Locale, map[string]interface{}{
		"name":       user.Name,
		"token":      token.ID.String(),
		"expires_at": token.ExpiresAt,
	})
}

func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	err := s.collection().FindOne(ctx, bson.M{"email": normalizeEmail(email), "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func (s *userService) GetByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	var user models.User
	if err := s.collection().FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user %s: %w", userID, err)
	}
	return &user, nil
}

// update applies set to a live user and returns the new document.
func (s *userService) update(ctx context.Context, userID utils.SixID, set bson.M) (*models.User, error) {
	set["updated_at"] = s.now()
	var user models.User
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user %s: %w", userID, err)
	}
	return &user, nil
}

func (s *userService) UpdateProfile(ctx context.Context, userID utils.SixID, update ProfileUpdate) (*models.User, error) {
	if err := validateStruct(update); err != nil {
		return nil, err
	}
	set := bson.M{}
	if update.Name != nil {
		set["name"] = strings.TrimSpace(*update.Name)
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Phone != nil {
		set["phone"] = *update.Phone
	}
	if update.Locale != nil {
		set["locale"] = *update.Locale
	}
	return s.update(ctx, userID, set)
}

func (s *userService) UpdateKYC(ctx context.Context, userID utils.SixID, kyc models.KYC) (*models.User, error) {
	if err := validateStruct(kyc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKYC, err)
	}
	if kyc.Birthday != nil {
		if !kyc.Birthday.Before(s.now()) {
			return nil, fmt.Errorf("%w: birthday must be in the past", ErrInvalidKYC)
		}
		b := kyc.Birthday.UTC()
		kyc.Birthday = &b
	}
	kyc.Nationality = strings.ToUpper(kyc.Nationality)
	kyc.CountryOfResidence = strings.ToUpper(kyc.CountryOfResidence)

	user, err := s.update(ctx, userID, bson.M{"kyc": kyc})
	if err != nil {
		return nil, err
	}
	if user.KYC.Complete() {
		if _, err := s.gamification.RecordAction(ctx, userID, ActionCompleteProfile); err != nil {
			logrus.WithError(err).WithField("userID", userID).Warn("failed to record complete_profile")
		}
	}
	return user, nil
}

func (s *userService) SetPaymentAccount(ctx context.Context, userID utils.SixID, accountID, walletID string) error {
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	_, err := s.update(ctx, userID, bson.M{"payment.account_id": accountID, "payment.wallet_id": walletID})
	return err
}

func (s *userService) SetBankAccount(ctx context.Context, userID utils.SixID, bankAccountID string) error {
	if bankAccountID == "" {
		return fmt.Errorf("%w: bank account id is required", ErrValidation)
	}
	_, err := s.update(ctx, userID, bson.M{"payment.bank_account_id": bankAccountID})
	return err
}

func (s *userService) ValidateEmail(ctx context.Context, token string) error {
	t, err := s.tokens.Consume(ctx, token, models.TokenEmailValidation)
	if err != nil {
		return err
	}
	if _, err := s.update(ctx, t.UserID, bson.M{"email_validated": true}); err != nil {
		return err
	}
	if _, err := s.gamification.RecordAction(ctx, t.UserID, ActionValidEmail); err != nil {
		logrus.WithError(err).WithField("userID", t.UserID).Warn("failed to record valid_email")
	}
	return nil
}

// RequestPasswordReset sends a reset token. Unknown addresses succeed silently.
func (s *userService) RequestPasswordReset(ctx context.Context, email string) error {
	var user models.User
	err := s.collection().FindOne(ctx, bson.M{"email": normalizeEmail(email), "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}
	return s.sendToken(ctx, &user, models.TokenPasswordReset, s.cfg.PasswordResetTTL, EventPasswordReset)
}

func (s *userService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := s.policy.Check(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	t, err := s.tokens.Consume(ctx, token, models.TokenPasswordReset)
	if err != nil {
		return err
	}
	_, err = s.update(ctx, t.UserID, bson.M{"password": hash})
	return err
}
