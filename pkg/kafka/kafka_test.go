package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexEvent struct {
	Version   string `json:"version"`
	Documents int    `json:"documents"`
}

func TestNewMessage(t *testing.T) {
	msg, err := newMessage(Event{Key: "v1", Value: indexEvent{Version: "v1", Documents: 3}})
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), msg.Key)
	assert.JSONEq(t, `{"version":"v1","documents":3}`, string(msg.Value))

	_, err = newMessage(Event{Key: "bad", Value: make(chan int)})
	assert.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	ev, err := DecodeJSON[indexEvent]([]byte(`{"version":"v2","documents":7}`))
	require.NoError(t, err)
	assert.Equal(t, indexEvent{Version: "v2", Documents: 7}, ev)

	_, err = DecodeJSON[indexEvent]([]byte(`{`))
	assert.ErrorContains(t, err, "decoding kafka message")
}
