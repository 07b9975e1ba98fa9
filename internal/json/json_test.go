package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Type string     `json:"type"`
	Data RawMessage `json:"data,omitempty"`
}

func TestRawMessageDeferred(t *testing.T) {
	var env envelope
	require.NoError(t, UnmarshalFromString(`{"type":"join","data":{"roomId":"tournament:1"}}`, &env))
	assert.Equal(t, "join", env.Type)

	var body struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, Unmarshal(env.Data, &body))
	assert.Equal(t, "tournament:1", body.RoomID)

	out, err := MarshalToString(envelope{Type: "leave"})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"leave"}`, out)
}
