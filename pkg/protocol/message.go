// Package protocol defines the JSON envelope exchanged over the /ws
// endpoint and a reconnecting client for it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindMessage       Kind = "message"
	KindResponse      Kind = "response"
	KindSentiment     Kind = "sentiment"
	KindClear         Kind = "clear"
	KindCleared       Kind = "cleared"
	KindSystemMetrics Kind = "system_metrics"
	KindError         Kind = "error"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Message struct {
	Type      Kind            `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Text      string          `json:"text,omitempty"`
	Status    string          `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func Parse(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if m.Type == "" {
		return nil, errors.New("missing message type")
	}
	return &m, nil
}

func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Reply starts a response envelope addressed to the same session.
func (m *Message) Reply(kind Kind) *Message {
	return &Message{Type: kind, SessionID: m.SessionID}
}

func (m *Message) Ok(text string) *Message {
	m.Status = StatusSuccess
	m.Text = text
	return m
}

func (m *Message) Fail(reason string) *Message {
	m.Status = StatusError
	m.Error = reason
	return m
}

// WithData marshals v into Data.
func (m *Message) WithData(v any) (*Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m.Data = b
	return m, nil
}
