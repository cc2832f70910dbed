package devicelog

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	event := Event{
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ConnectionID: "conn-1",
		Category:     CategoryMessage,
		Message:      &MessageEvent{Direction: DirectionOut, Kind: "send-event", Size: 42},
	}

	data, err := EncodeEvent(event)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, event.ConnectionID, got.ConnectionID)
	assert.Equal(t, event.Category, got.Category)
	assert.True(t, event.Timestamp.Equal(got.Timestamp))
	require.NotNil(t, got.Message)
	assert.Equal(t, *event.Message, *got.Message)
}

func TestStreamingEncoderDecoderRoundTrip(t *testing.T) {
	events := []Event{
		{ConnectionID: "a", Category: CategoryState, StateChange: &StateChangeEvent{NewState: "CONNECTED"}},
		{ConnectionID: "a", Category: CategoryError, Error: &ErrorEvent{Op: "open", Message: "boom"}},
		{ConnectionID: "a", Category: CategoryCredential, Credential: &CredentialEvent{Reconnected: false}},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, e := range events {
		require.NoError(t, enc.Encode(e))
	}

	dec := NewDecoder(&buf)
	for _, want := range events {
		var got Event
		require.NoError(t, dec.Decode(&got))
		assert.Equal(t, want.Category, got.Category)
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, err := DecodeEvent([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
