package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelToTopicAndKey(t *testing.T) {
	tests := []struct {
		channel   string
		wantTopic string
		wantKey   string
		wantErr   bool
	}{
		{channel: SessionEventsChannel("S1"), wantTopic: "classroom-events", wantKey: "S1"},
		{channel: SessionEventsChannel("42"), wantTopic: "classroom-events", wantKey: "42"},
		{channel: "classroom:session::events", wantErr: true},
		{channel: "media:room:1:to_signal", wantErr: true},
		{channel: "garbage", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			topic, key, err := channelToTopicAndKey(tt.channel)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantTopic, topic)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestNewEventRoundTrip(t *testing.T) {
	ev, err := NewEvent(EventViewerJoined, "S1", &ViewerPayload{SessionID: "S1", Handle: "h", ViewerCount: 2})
	require.NoError(t, err)
	var got ViewerPayload
	require.NoError(t, ev.UnmarshalPayload(&got))
	assert.Equal(t, "h", got.Handle)
	assert.Equal(t, 2, got.ViewerCount)
	assert.Equal(t, "S1", ev.RoomID)
}

func TestNewPublisherDrivers(t *testing.T) {
	p, err := NewPublisher(Config{Driver: "none"})
	require.NoError(t, err)
	assert.NoError(t, p.Publish(context.Background(), SessionEventsChannel("S1"), &Event{}), "nop publish")

	_, err = NewPublisher(Config{Driver: "carrier-pigeon"})
	assert.Error(t, err, "expected error for unknown driver")
}
