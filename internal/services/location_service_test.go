package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samjaninf/stelace-sub000/internal/models"
)

func mainLocations(locations []models.Location) []models.Location {
	var main []models.Location
	for _, l := range locations {
		if l.Main {
			main = append(main, l)
		}
	}
	return main
}

func TestLocation_SingleMainLocation(t *testing.T) {
	c := setupContainer(t)
	ctx := context.Background()
	user := createUser(t, c, "walker", false)
	other := createUser(t, c, "other", false)

	home, err := c.Locations.Create(ctx, user.ID, LocationInput{Name: "Home", City: "Paris", Country: "FR"})
	require.NoError(t, err)
	assert.True(t, home.Main, "the first location is the main one")

	office, err := c.Locations.Create(ctx, user.ID, LocationInput{Name: "Office", City: "Lyon", Country: "FR"})
	require.NoError(t, err)
	assert.False(t, office.Main)

	require.NoError(t, c.Locations.SetMain(ctx, user.ID, office.ID))
	list, err := c.Locations.List(ctx, user.ID)
	require.NoError(t, err)
	main := mainLocations(list)
	require.Len(t, main, 1)
	assert.Equal(t, office.ID, main[0].ID)

	assert.ErrorIs(t, c.Locations.SetMain(ctx, other.ID, home.ID), ErrLocationNotFound)

	cabin, err := c.Locations.Create(ctx, user.ID, LocationInput{Name: "Cabin", City: "Annecy", Country: "FR"})
	require.NoError(t, err)

	// Removing the main location promotes the oldest remaining one.
	require.NoError(t, c.Locations.Delete(ctx, user.ID, office.ID))
	list, err = c.Locations.List(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	main = mainLocations(list)
	require.Len(t, main, 1)
	assert.Equal(t, home.ID, main[0].ID)

	require.NoError(t, c.Locations.Delete(ctx, user.ID, cabin.ID))
	list, err = c.Locations.List(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, mainLocations(list), 1)
}

func TestLocation_PerUserLimit(t *testing.T) {
	c := setupContainer(t)
	ctx := context.Background()
	user := createUser(t, c, "collector", false)

	for i := 0; i < testConfig().MaxLocationsPerUser; i++ {
		_, err := c.Locations.Create(ctx, user.ID, LocationInput{Name: "Place", City: "Paris", Country: "FR"})
		require.NoError(t, err)
	}
	_, err := c.Locations.Create(ctx, user.ID, LocationInput{Name: "One more", City: "Paris", Country: "FR"})
	assert.ErrorIs(t, err, ErrTooManyLocations)
}
