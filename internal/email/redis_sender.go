package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/config"
)

// MockInboxTTL is how long a mock email stays readable.
const MockInboxTTL = 5 * time.Minute

// MockInboxKey is the Redis key of the last mock email of a template sent to address.
func MockInboxKey(address, templateID string) string {
	if templateID == "" {
		templateID = "unknown"
	}
	return fmt.Sprintf("mockemail:%s:%s", strings.ToLower(address), templateID)
}

// MockEmail is what RedisSender stores.
type MockEmail struct {
	To         string `json:"to"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	TemplateID string `json:"template_id"`
	SentAt     string `json:"sent_at"`
}

// RedisSender stores emails in Redis so tests can read them back through the
// service API.
type RedisSender struct {
	client redis.UniversalClient
	cfg    *config.Config
}

func NewRedisSender(client redis.UniversalClient, cfg *config.Config) *RedisSender {
	return &RedisSender{client: client, cfg: cfg}
}

func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	templateID, body := SplitMessage(rawMessage)
	mail := MockEmail{
		To:         strings.Join(to, ", "),
		From:       s.cfg.SmtpFromAddress,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
		SentAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, addr := range to {
		pipe.Set(ctx, MockInboxKey(addr, templateID), data, MockInboxTTL)
		pipe.Set(ctx, MockInboxKey(addr, ""), data, MockInboxTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store mock email: %w", err)
	}
	logrus.WithFields(logrus.Fields{"to": to, "template_id": templateID}).Debug("Mock email stored in Redis")
	return nil
}

// ReadMockEmail fetches and deletes the last mock email for address.
// An empty templateID reads the most recent email regardless of template.
func ReadMockEmail(ctx context.Context, client redis.UniversalClient, address, templateID string) (*MockEmail, error) {
	raw, err := client.GetDel(ctx, MockInboxKey(address, templateID)).Result()
	if err != nil {
		return nil, err
	}
	var mail MockEmail
	if err := json.Unmarshal([]byte(raw), &mail); err != nil {
		return nil, fmt.Errorf("failed to parse stored email: %w", err)
	}
	return &mail, nil
}
