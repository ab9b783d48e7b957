package models

import "time"

// Setting is a runtime-editable marketplace parameter, e.g. fee percentages.
type Setting struct {
	Base      `bson:",inline"`
	Key       string      `bson:"key" json:"key"`
	Value     interface{} `bson:"value" json:"value"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}
