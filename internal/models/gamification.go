package models

import (
	"time"

	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// GamificationEvent records that a user completed a rewarded action. The
// (user_id, action_id) pair is unique so each action pays out once.
type GamificationEvent struct {
	Base      `bson:",inline"`
	UserID    utils.SixID `bson:"user_id" json:"user_id"`
	ActionID  string      `bson:"action_id" json:"action_id"`
	Points    int         `bson:"points" json:"points"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
}

// Progress summarizes a user's standing.
type Progress struct {
	Points           int      `json:"points"`
	LevelID          string   `json:"level_id"`
	NextLevelID      string   `json:"next_level_id,omitempty"`
	PointsToNext     int      `json:"points_to_next,omitempty"`
	CompletedActions []string `json:"completed_actions"`
}
