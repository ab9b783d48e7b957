package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"PAYIN_SUCCEEDED","resource_id":"pi_1"}`)
	sig := Sign("s3cret", body)

	assert.NoError(t, VerifySignature("s3cret", body, sig))
	assert.NoError(t, VerifySignature("s3cret", body, " "+sig+"\n"))
	assert.ErrorIs(t, VerifySignature("other", body, sig), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", append(body, ' '), sig), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", body, "zz"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("", body, sig), ErrBadSignature)
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_1","type":"PREAUTHORIZATION_FAILED","resource_id":"pa_1","date":"2026-05-01T10:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)

	resource, status, ok := ev.Outcome()
	require.True(t, ok)
	assert.Equal(t, "PREAUTHORIZATION", resource)
	assert.Equal(t, StatusFailed, status)

	_, err = ParseEvent([]byte(`{"id":"evt_1"}`))
	assert.ErrorIs(t, err, ErrBadEvent)
	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrBadEvent)
}

func TestEventOutcome_Unknown(t *testing.T) {
	for _, typ := range []string{"PAYIN_CREATED", "SUCCEEDED", "_FAILED", "KYC"} {
		_, _, ok := Event{Type: typ}.Outcome()
		assert.False(t, ok, typ)
	}
}
