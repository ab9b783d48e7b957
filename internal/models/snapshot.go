package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
)

// SnapshotTarget names the kind of entity a snapshot copies.
type SnapshotTarget string

const (
	SnapshotUser     SnapshotTarget = "user"
	SnapshotListing  SnapshotTarget = "listing"
	SnapshotLocation SnapshotTarget = "location"
	SnapshotBooking  SnapshotTarget = "booking"
)

// ModelSnapshot is an immutable copy of an entity's fields at some point in
// time. Hash is the sha256 of Data and is used to reuse identical snapshots.
type ModelSnapshot struct {
	Base       `bson:",inline"`
	TargetID   utils.SixID    `bson:"target_id" json:"target_id"`
	TargetType SnapshotTarget `bson:"target_type" json:"target_type"`
	Data       bson.Raw       `bson:"data" json:"-"`
	Hash       string         `bson:"hash" json:"hash"`
	CreatedAt  time.Time      `bson:"created_at" json:"created_at"`
}

// Decode unmarshals the copied fields into out.
func (s *ModelSnapshot) Decode(out interface{}) error {
	return bson.Unmarshal(s.Data, out)
}
