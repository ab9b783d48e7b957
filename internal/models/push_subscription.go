package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// PushSubscription is a browser Web Push endpoint registered by a user.
type PushSubscription struct {
	Base      `bson:",inline"`
	UserID    utils.SixID `bson:"user_id" json:"user_id"`
	Endpoint  string      `bson:"endpoint" json:"endpoint"`
	P256dh    string      `bson:"p256dh" json:"p256dh"`
	Auth      string      `bson:"auth" json:"auth"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
}
