package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// Base carries the id every stored document has.
type Base struct {
	ID utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
}

// GenID assigns a fresh random id. db.InsertOne calls it again on collisions.
func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}

// GenIDIfEmpty assigns an id only when none is set.
func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

// Timestamps are maintained by the services, always in UTC.
type Timestamps struct {
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Touch sets UpdatedAt, and CreatedAt when it is still zero.
func (t *Timestamps) Touch(now time.Time) {
	now = now.UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}
