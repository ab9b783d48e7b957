package models

import (
	"time"
)

// KYC is the identity data the payment provider needs before money moves.
type KYC struct {
	FirstName          string     `bson:"first_name,omitempty" json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName           string     `bson:"last_name,omitempty" json:"last_name,omitempty" validate:"omitempty,max=100"`
	Birthday           *time.Time `bson:"birthday,omitempty" json:"birthday,omitempty"`
	Nationality        string     `bson:"nationality,omitempty" json:"nationality,omitempty" validate:"omitempty,iso3166_1_alpha2"`
	CountryOfResidence string     `bson:"country_of_residence,omitempty" json:"country_of_residence,omitempty" validate:"omitempty,iso3166_1_alpha2"`
}

// Complete reports whether every field is filled in.
func (k KYC) Complete() bool {
	return k.FirstName != "" && k.LastName != "" && k.Birthday != nil &&
		k.Nationality != "" && k.CountryOfResidence != ""
}

// PaymentAccount links the user to the payment provider.
type PaymentAccount struct {
	AccountID     string `bson:"account_id,omitempty" json:"account_id,omitempty"`
	WalletID      string `bson:"wallet_id,omitempty" json:"wallet_id,omitempty"`
	BankAccountID string `bson:"bank_account_id,omitempty" json:"bank_account_id,omitempty"`
}

// User is a marketplace member. The same account can both own listings and book.
type User struct {
	Base           `bson:",inline"`
	Timestamps     `bson:",inline"`
	Name           string         `bson:"name" json:"name"`
	Email          string         `bson:"email" json:"email"`
	PasswordHash   string         `bson:"password" json:"-"`
	EmailValidated bool           `bson:"email_validated" json:"email_validated"`
	IsAdmin        bool           `bson:"is_admin" json:"is_admin"`
	Description    string         `bson:"description,omitempty" json:"description,omitempty"`
	Phone          string         `bson:"phone,omitempty" json:"-"`
	KYC            KYC            `bson:"kyc" json:"kyc"`
	Payment        PaymentAccount `bson:"payment" json:"-"`
	Points         int            `bson:"points" json:"points"`
	LevelID        string         `bson:"level_id" json:"level_id"`
	RatingScore    float64        `bson:"rating_score" json:"rating_score"`
	NbRatings      int            `bson:"nb_ratings" json:"nb_ratings"`
	Locale         string         `bson:"locale,omitempty" json:"locale,omitempty"`
	Deleted        bool           `bson:"deleted" json:"-"`
}

// CanPay reports whether the user may be charged.
func (u *User) CanPay() bool {
	return u.KYC.Complete() && u.Payment.AccountID != ""
}

// CanReceivePayout reports whether a payout to the user can be executed.
func (u *User) CanReceivePayout() bool {
	return u.KYC.Complete() && u.Payment.AccountID != "" && u.Payment.BankAccountID != ""
}

// PublicUser is what other members see.
type PublicUser struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	LevelID     string  `json:"level_id"`
	RatingScore float64 `json:"rating_score"`
	NbRatings   int     `json:"nb_ratings"`
}

// Public strips private fields.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID.String(),
		Name:        u.Name,
		Description: u.Description,
		LevelID:     u.LevelID,
		RatingScore: u.RatingScore,
		NbRatings:   u.NbRatings,
	}
}
