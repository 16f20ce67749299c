package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Decode(t *testing.T) {
	raw := []byte(`{"event":"agent_token","data":{"session_id":"s1","message_id":"m1","token":"He"}}`)

	var ev Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, EventAgentToken, ev.Name)

	var p TokenPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, "He", p.Token)
}

func TestEvent_DecodeMalformed(t *testing.T) {
	ev := Event{Name: EventAgentToken, Data: []byte(`{"token": 42}`)}
	var p TokenPayload
	err := ev.Decode(&p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EventAgentToken)
}

func TestParseTime(t *testing.T) {
	ts := ParseTime("2026-08-30T12:00:00.5Z")
	assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 500000000, time.UTC), ts)

	assert.True(t, ParseTime("").IsZero())
	assert.True(t, ParseTime("not a time").IsZero())
}
