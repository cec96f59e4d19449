package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	m, err := Parse([]byte(`{"type":"message","session_id":"s1","prompt":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, KindMessage, m.Type)
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, "hi", m.Prompt)

	_, err = Parse([]byte(`{"prompt":"hi"}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestReplyHelpers(t *testing.T) {
	in := &Message{Type: KindMessage, SessionID: "s1", Prompt: "hi"}

	ok := in.Reply(KindResponse).Ok("hello")
	assert.Equal(t, &Message{Type: KindResponse, SessionID: "s1", Status: StatusSuccess, Text: "hello"}, ok)

	fail := in.Reply(KindResponse).Fail("nope")
	assert.Equal(t, StatusError, fail.Status)
	assert.Equal(t, "nope", fail.Error)
	assert.Empty(t, fail.Text)
}

func TestWithData(t *testing.T) {
	m, err := (&Message{Type: KindSystemMetrics}).WithData(map[string]int{"cpu": 12})
	require.NoError(t, err)

	b, err := m.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"system_metrics","data":{"cpu":12}}`, string(b))

	var back Message
	require.NoError(t, json.Unmarshal(b, &back))
	assert.JSONEq(t, `{"cpu":12}`, string(back.Data))
}
