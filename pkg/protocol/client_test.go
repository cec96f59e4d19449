package protocol

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every message with a system_metrics broadcast followed
// by a response that upper-cases the prompt.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			in, err := Parse(b)
			if err != nil {
				return
			}
			metrics, _ := (&Message{Type: KindSystemMetrics}).WithData(map[string]float64{"cpu": 1})
			mb, _ := metrics.Encode()
			_ = conn.WriteMessage(ws.TextMessage, mb)

			sid := in.SessionID
			if sid == "" {
				sid = "assigned"
			}
			out := (&Message{Type: KindResponse, SessionID: sid}).Ok(strings.ToUpper(in.Prompt))
			ob, _ := out.Encode()
			_ = conn.WriteMessage(ws.TextMessage, ob)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_AskRoutesResponseAndBroadcasts(t *testing.T) {
	srv := echoServer(t)

	broadcasts := make(chan *Message, 4)
	c, err := NewClient(ClientConfig{
		Url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		EmitOut: func(m *Message) { broadcasts <- m },
	})
	require.NoError(t, err)
	defer c.Close()
	go c.Run()

	resp, err := c.Ask("hello")
	require.NoError(t, err)
	assert.Equal(t, KindResponse, resp.Type)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "HELLO", resp.Text)
	assert.Equal(t, "assigned", c.Session())

	select {
	case m := <-broadcasts:
		assert.Equal(t, KindSystemMetrics, m.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast delivered")
	}
}

func TestClient_CloseUnblocksAsk(t *testing.T) {
	up := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Url: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)
	go c.Run()

	done := make(chan error, 1)
	go func() {
		_, err := c.Ask("anyone?")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Ask did not return after Close")
	}
}

func TestClient_AskFailsWhenConnectionDrops(t *testing.T) {
	up := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{
		Url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Reconn: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer c.Close()
	go c.Run()

	done := make(chan error, 1)
	go func() {
		_, err := c.Ask("still there?")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(3 * time.Second):
		t.Fatal("Ask still blocked after the server dropped the connection")
	}
}

func TestClient_AskTimesOut(t *testing.T) {
	up := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{
		Url:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReplyTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer c.Close()
	go c.Run()

	start := time.Now()
	_, err = c.Ask("hello?")
	assert.ErrorIs(t, err, ErrReplyTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}
