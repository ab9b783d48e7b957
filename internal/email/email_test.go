package email

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	calls int
	err   error
}

func (r *recordingSender) Send(ctx context.Context, to []string, subject string, raw []byte) error {
	r.calls++
	return r.err
}

func TestMessage_RoundTrip(t *testing.T) {
	msg := Message{
		From:       "noreply@example.com",
		To:         "jane@example.com",
		Subject:    "Booking confirmed",
		Body:       "Hello\r\n",
		TemplateID: "booking_confirmed",
		Date:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	raw := msg.Bytes()
	assert.Contains(t, string(raw), "To: jane@example.com\r\n")
	assert.Contains(t, string(raw), "X-Template-ID: booking_confirmed\r\n")

	tpl, body := SplitMessage(raw)
	assert.Equal(t, "booking_confirmed", tpl)
	assert.Equal(t, "Hello", body)
}

func TestRender(t *testing.T) {
	subject, body, err := Render("Hi {{.name}}", "Your code is {{.code}}", map[string]interface{}{"name": "Ann", "code": 42})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann", subject)
	assert.Equal(t, "Your code is 42", body)

	_, _, err = Render("Hi {{.missing}}", "", map[string]interface{}{})
	assert.Error(t, err)

	_, _, err = Render("{{", "", nil)
	assert.Error(t, err)
}

func TestCompositeEmailSender(t *testing.T) {
	ok := &recordingSender{}
	failing := &recordingSender{err: errors.New("boom")}

	cs := NewCompositeEmailSender(ok)
	cs.AddSender(nil)
	cs.AddSender(failing)

	err := cs.Send(context.Background(), []string{"a@example.com"}, "s", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, failing.calls)

	assert.Error(t, NewCompositeEmailSender().Send(context.Background(), nil, "", nil))
}

func TestFileEmailSender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "emails.log")
	s, err := NewFileEmailSender(path)
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), []string{"a@example.com"}, "First", []byte("one\r\n")))
	require.NoError(t, s.Send(context.Background(), []string{"b@example.com"}, "Second", []byte("two\r\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Subject: First")
	assert.Contains(t, string(data), "two")

	_, err = NewFileEmailSender("  ")
	assert.Error(t, err)
}

func TestMockInboxKey(t *testing.T) {
	assert.Equal(t, "mockemail:jane@example.com:welcome", MockInboxKey("Jane@Example.com", "welcome"))
	assert.Equal(t, "mockemail:jane@example.com:unknown", MockInboxKey("jane@example.com", ""))
}
