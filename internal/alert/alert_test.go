package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAlerter_Emergency(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogAlerter(slog.New(slog.NewJSONHandler(&buf, nil)), Contacts{Phone: "+233551234567", Email: "security@campus.edu"})

	actions := l.Emergency(context.Background(), Alert{SenderID: "s1", RecipientID: "c1", CampusID: "ug", MessageID: "m1", Phrase: "end my life"})
	assert.Equal(t, []string{ActionConsoleLog}, actions)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "emergency alert", record["msg"])
	assert.Equal(t, "s1", record["sender_id"])
	assert.Equal(t, "+233551234567", record["contact_phone"])
	assert.Equal(t, "security@campus.edu", record["contact_email"])
	assert.NotContains(t, record, "message", "message bodies stay out of logs")
}

func TestLogAlerter_Misconduct(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogAlerter(slog.New(slog.NewJSONHandler(&buf, nil)), Contacts{})

	actions := l.Misconduct(context.Background(), Alert{SenderID: "c1", RecipientID: "s1", Kind: "personal_info_request"})
	assert.Equal(t, []string{ActionConsoleLog, ActionAdminNotification}, actions)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "personal_info_request", record["misconduct_type"])
	assert.Equal(t, "c1", record["counselor_id"])
}
