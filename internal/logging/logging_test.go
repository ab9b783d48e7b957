package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_JSON(t *testing.T) {
	logger := logrus.New()
	var buf bytes.Buffer
	require.NoError(t, configure(logger, &buf, "warn", "json"))

	logger.Info("hidden")
	Critical(logrus.NewEntry(logger).WithField("booking_id", "B1"), "refund failed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "refund failed", line["msg"])
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, true, line["critical"])
	assert.Equal(t, "B1", line["booking_id"])
}

func TestConfigure_Rejects(t *testing.T) {
	logger := logrus.New()
	assert.Error(t, configure(logger, &bytes.Buffer{}, "loud", "text"))
	assert.Error(t, configure(logger, &bytes.Buffer{}, "info", "xml"))
}
