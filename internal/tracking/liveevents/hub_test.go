package liveevents

import (
	"testing"
	"time"

	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamKey(t *testing.T) {
	assert.Equal(t, StreamUnattributed, StreamKey(trackingdomain.ConversionRecord{UTMCampaign: "summer"}))
	assert.Equal(t, StreamNoCampaign, StreamKey(trackingdomain.ConversionRecord{Attributed: true}))
	assert.Equal(t, "summer", StreamKey(trackingdomain.ConversionRecord{Attributed: true, UTMCampaign: " summer "}))
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	hub := NewHub()
	hub.Publish("summer", LiveEvent{OrderID: "o1"})

	sub, buffered, err := hub.Subscribe("summer")
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, buffered)
}

func TestSubscribeReceivesConversions(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("summer")
	require.NoError(t, err)
	defer sub.Close()

	hub.PublishConversion(trackingdomain.ConversionRecord{
		OrderID:     "o1",
		Attributed:  true,
		UTMCampaign: "summer",
		Revenue:     49.99,
		Currency:    "USD",
		Timestamp:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}, false)
	hub.PublishConversion(trackingdomain.ConversionRecord{OrderID: "o2"}, false)

	select {
	case evt := <-sub.Events():
		assert.Equal(t, "o1", evt.OrderID)
		assert.Equal(t, "2024-01-02T03:04:05Z", evt.RecordedAt)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}

	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected event %+v", evt)
	default:
	}
}

func TestLateSubscriberGetsReplayBuffer(t *testing.T) {
	hub := NewHub()
	first, _, err := hub.Subscribe(StreamUnattributed)
	require.NoError(t, err)
	defer first.Close()

	hub.PublishConversion(trackingdomain.ConversionRecord{OrderID: "o2"}, false)

	second, buffered, err := hub.Subscribe(StreamUnattributed)
	require.NoError(t, err)
	defer second.Close()
	require.Len(t, buffered, 1)
	assert.Equal(t, "o2", buffered[0].OrderID)
}

func TestCloseRemovesEmptyStream(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("summer")
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	hub.mu.RLock()
	_, ok := hub.streams["summer"]
	hub.mu.RUnlock()
	assert.False(t, ok)
}

func TestNilHubAndInvalidCampaign(t *testing.T) {
	var hub *Hub
	hub.Publish("summer", LiveEvent{})
	_, _, err := hub.Subscribe("summer")
	assert.ErrorIs(t, err, ErrHubUnavailable)

	_, _, err = NewHub().Subscribe("  ")
	assert.ErrorIs(t, err, ErrInvalidCampaign)
}
