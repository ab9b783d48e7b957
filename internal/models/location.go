package models

import (
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// GeoJSON is a GeoJSON Point.
type GeoJSON struct {
	Type        string    `bson:"type" json:"type"`
	Coordinates []float64 `bson:"coordinates" json:"coordinates"` // [longitude, latitude]
}

// NewPoint builds a Point from latitude and longitude.
func NewPoint(lat, lng float64) *GeoJSON {
	return &GeoJSON{Type: "Point", Coordinates: []float64{lng, lat}}
}

// Location is an address a user hands items over at. Exactly one of a user's
// live locations may be main.
type Location struct {
	Base       `bson:",inline"`
	Timestamps `bson:",inline"`
	UserID     utils.SixID `bson:"user_id" json:"user_id"`
	Name       string      `bson:"name" json:"name"`
	Alias      string      `bson:"alias,omitempty" json:"alias,omitempty"`
	Street     string      `bson:"street,omitempty" json:"street,omitempty"`
	PostalCode string      `bson:"postal_code,omitempty" json:"postal_code,omitempty"`
	City       string      `bson:"city" json:"city"`
	Country    string      `bson:"country_code" json:"country_code"`
	Geo        *GeoJSON    `bson:"geo,omitempty" json:"geo,omitempty"`
	Main       bool        `bson:"main" json:"main"`
	Deleted    bool        `bson:"deleted" json:"-"`
}
