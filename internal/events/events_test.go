package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSettlementRecord(t *testing.T) {
	e := domain.SettlementEvent{
		ContentID:    "post-1",
		EpochNumber:  123,
		Values:       map[string]int{"truth": 79},
		Contributors: 2,
		SettledAt:    time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC),
	}

	rec, err := settlementRecord("settlements", e)
	require.NoError(t, err)
	assert.Equal(t, "settlements", rec.Topic)
	assert.Equal(t, []byte("post-1"), rec.Key)

	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, EventTypeSettlement, headers["event_type"])
	assert.Equal(t, "123", headers["epoch"])

	var decoded domain.SettlementEvent
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, e, decoded)
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "", "veracity", zap.NewNop())
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	var p domain.EventPublisher = NewLogPublisher(zap.NewNop())
	assert.NoError(t, p.PublishSettlement(context.Background(), domain.SettlementEvent{ContentID: "post-1"}))
	assert.NoError(t, p.Close())
}
