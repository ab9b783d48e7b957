package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// TokenType names what a single-use token unlocks.
type TokenType string

const (
	TokenEmailValidation TokenType = "email_validation"
	TokenPasswordReset   TokenType = "password_reset"
)

// Token is a single-use secret sent by email. Its id is the secret.
type Token struct {
	Base       `bson:",inline"`
	UserID     utils.SixID `bson:"user_id" json:"user_id"`
	Type       TokenType   `bson:"type" json:"type"`
	CreatedAt  time.Time   `bson:"created_at" json:"created_at"`
	ExpiresAt  time.Time   `bson:"expires_at" json:"expires_at"`
	ExecutedAt *time.Time  `bson:"executed_at,omitempty" json:"executed_at,omitempty"`
}
