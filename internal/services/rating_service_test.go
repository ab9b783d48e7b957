package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samjaninf/stelace-sub000/internal/models"
)

func TestRating_RevealedOnceBothPartiesRated(t *testing.T) {
	c := setupContainer(t)
	ctx := context.Background()
	owner := createUser(t, c, "owner", true)
	taker := createUser(t, c, "taker", true)
	stranger := createUser(t, c, "stranger", false)
	listing := createListing(t, c, owner, 1)
	start, end := futurePeriod(3, 2)
	b := confirmedBooking(t, c, owner, taker, listing, start, end)

	_, err := c.Ratings.Create(ctx, taker.ID, b.ID, models.RatingInput{Score: 4})
	assert.ErrorIs(t, err, ErrInvalidTransition, "only completed bookings are rated")

	n, err := c.Bookings.CompleteDue(ctx, end.Add(72*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = c.Ratings.Create(ctx, stranger.ID, b.ID, models.RatingInput{Score: 1})
	assert.ErrorIs(t, err, ErrForbidden)

	byTaker, err := c.Ratings.Create(ctx, taker.ID, b.ID, models.RatingInput{Score: 4, ListingComment: "dry and roomy"})
	require.NoError(t, err)
	assert.Equal(t, models.TargetOwner, byTaker.TargetType)
	assert.False(t, byTaker.Visible(time.Now().UTC()))

	_, err = c.Ratings.Create(ctx, taker.ID, b.ID, models.RatingInput{Score: 5})
	assert.ErrorIs(t, err, ErrAlreadyRated)

	hidden, err := c.Ratings.ListForUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, hidden)

	// Hidden ratings stay editable by their author.
	byTaker, err = c.Ratings.Update(ctx, taker.ID, byTaker.ID, models.RatingInput{Score: 3, ListingComment: "a bit small"})
	require.NoError(t, err)
	assert.Equal(t, 3, byTaker.Score)

	byOwner, err := c.Ratings.Create(ctx, owner.ID, b.ID, models.RatingInput{Score: 5})
	require.NoError(t, err)
	assert.Equal(t, models.TargetTaker, byOwner.TargetType)
	assert.True(t, byOwner.Visible(time.Now().UTC()))

	forOwner, err := c.Ratings.ListForUser(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, forOwner, 1)
	assert.Equal(t, 3, forOwner[0].Score)

	forListing, err := c.Ratings.ListForListing(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, forListing, 1)
	assert.Equal(t, "a bit small", forListing[0].ListingComment)

	_, err = c.Ratings.Update(ctx, taker.ID, byTaker.ID, models.RatingInput{Score: 1})
	assert.ErrorIs(t, err, ErrRatingPublished)

	// The sweep finds nothing left to fold into the scores.
	revealed, err := c.Ratings.RevealDue(ctx, time.Now().UTC().AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, 0, revealed)

	ownerAfter, err := c.Users.GetByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ownerAfter.NbRatings)
	assert.InDelta(t, 3.0, ownerAfter.RatingScore, 0.001)

	takerAfter, err := c.Users.GetByID(ctx, taker.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, takerAfter.NbRatings)
	assert.InDelta(t, 5.0, takerAfter.RatingScore, 0.001)

	listingAfter, err := c.Listings.GetByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, listingAfter.NbRatings)
}

func TestRating_RevealDueAfterDelay(t *testing.T) {
	c := setupContainer(t)
	ctx := context.Background()
	owner := createUser(t, c, "owner", true)
	taker := createUser(t, c, "taker", true)
	listing := createListing(t, c, owner, 1)
	start, end := futurePeriod(3, 2)
	b := confirmedBooking(t, c, owner, taker, listing, start, end)
	_, err := c.Bookings.CompleteDue(ctx, end.Add(72*time.Hour))
	require.NoError(t, err)

	rating, err := c.Ratings.Create(ctx, owner.ID, b.ID, models.RatingInput{Score: 2})
	require.NoError(t, err)

	revealed, err := c.Ratings.RevealDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, revealed)

	later := rating.VisibleDate.Add(time.Minute)
	revealed, err = c.Ratings.RevealDue(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, revealed)

	revealed, err = c.Ratings.RevealDue(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 0, revealed, "a rating is folded into the scores once")
}
