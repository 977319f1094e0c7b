package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeWrapsPayload(t *testing.T) {
	sent := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	raw, err := Encode("notification.created", map[string]string{"titre": "Marché public accepté"}, sent)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	require.Equal(t, "notification.created", msg.Event)
	require.JSONEq(t, `{"titre":"Marché public accepté"}`, string(msg.Payload))
	require.True(t, sent.Equal(msg.SentAt))
}

func TestPublishWithoutClient(t *testing.T) {
	var p *RedisPublisher
	require.Error(t, p.Publish(context.Background(), "user.1", "x", nil))
}
