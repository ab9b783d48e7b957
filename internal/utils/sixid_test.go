package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestSixID_StringRoundTrip(t *testing.T) {
	for i := 0; i < 200; i++ {
		id := NewSixID()
		s := id.String()
		require.Len(t, s, 10)

		parsed, err := ParseSixID(s)
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestSixID_KnownValues(t *testing.T) {
	assert.Equal(t, "0000000000", SixID{}.String())
	assert.Equal(t, "1000000000", SixID{1, 0, 0, 0, 0, 0}.String())
	assert.Equal(t, "ZZZZZZZZZ7", SixID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}.String())
}

func TestParseSixID_Lenient(t *testing.T) {
	id := SixID{1, 2, 3, 4, 5, 6}
	s := id.String()

	lower, err := ParseSixID("  " + s[:5] + "-" + s[5:])
	require.NoError(t, err)
	assert.Equal(t, id, lower)

	alias, err := ParseSixID("O000000000")
	require.NoError(t, err)
	assert.Equal(t, SixID{}, alias)
}

func TestParseSixID_Errors(t *testing.T) {
	_, err := ParseSixID("ABC")
	assert.ErrorIs(t, err, ErrInvalidSixIDLength)

	_, err = ParseSixID("U000000000")
	assert.ErrorIs(t, err, ErrInvalidSixIDChar)

	_, err = ParseSixID("ZZZZZZZZZZ")
	assert.Error(t, err)

	id, err := ParseSixID("")
	require.NoError(t, err)
	assert.True(t, id.IsZero())
}

func TestSixID_JSON(t *testing.T) {
	type doc struct {
		ID SixID `json:"id"`
	}
	in := doc{ID: SixID{9, 8, 7, 6, 5, 4}}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+in.ID.String()+`"}`, string(raw))

	var out doc
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestSixID_BSON(t *testing.T) {
	type doc struct {
		ID      SixID  `bson:"_id,omitempty"`
		OwnerID SixID  `bson:"owner_id"`
		Ref     *SixID `bson:"ref,omitempty"`
	}
	ref := NewSixID()
	in := doc{ID: NewSixID(), OwnerID: NewSixID(), Ref: &ref}

	raw, err := bson.Marshal(in)
	require.NoError(t, err)

	var out doc
	require.NoError(t, bson.Unmarshal(raw, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.OwnerID, out.OwnerID)
	require.NotNil(t, out.Ref)
	assert.Equal(t, ref, *out.Ref)

	var generic bson.M
	require.NoError(t, bson.Unmarshal(raw, &generic))
	assert.Contains(t, generic, "_id")
}

func TestSixID_BSONOmitsZeroID(t *testing.T) {
	type doc struct {
		ID   SixID  `bson:"_id,omitempty"`
		Name string `bson:"name"`
	}
	raw, err := bson.Marshal(doc{Name: "x"})
	require.NoError(t, err)

	var generic bson.M
	require.NoError(t, bson.Unmarshal(raw, &generic))
	assert.NotContains(t, generic, "_id")
}

func TestNewSixIDHook(t *testing.T) {
	fixed := SixID{1, 1, 1, 1, 1, 1}
	NewSixIDHook = func() (SixID, bool) { return fixed, true }
	defer func() { NewSixIDHook = nil }()

	assert.Equal(t, fixed, NewSixID())
}
