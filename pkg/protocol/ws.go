package protocol

import (
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

type WebSocket struct {
	mu      sync.Mutex
	conn    *ws.Conn
	url     string
	reconn  time.Duration
	timeout time.Duration
}

func NewWebSocket(url string, reconn, timeout time.Duration) (*WebSocket, error) {
	log.Debug("init websocket", "url", url)

	web := &WebSocket{
		url:     url,
		reconn:  reconn,
		timeout: timeout,
	}

	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	web.conn = conn

	return web, nil
}

func (web *WebSocket) Write(payload []byte) error {
	web.mu.Lock()
	defer web.mu.Unlock()

	log.Debug("Write ws", "msg", string(payload))
	if web.timeout > 0 {
		_ = web.conn.SetWriteDeadline(time.Now().Add(web.timeout))
	}
	return web.conn.WriteMessage(ws.TextMessage, payload)
}

type IncomeKind uint

const (
	IncomeClosed IncomeKind = iota
	IncomeFailure
	IncomeOK
)

type Income struct {
	Kind IncomeKind
	Msg  []byte
	Err  error
}

func (web *WebSocket) Read() Income {
	web.mu.Lock()
	conn := web.conn
	web.mu.Unlock()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		if IsClosed(err) {
			return Income{Kind: IncomeClosed, Err: err}
		}
		return Income{Kind: IncomeFailure, Err: err}
	}

	log.Debug("Read ws", "msg", string(msg))
	return Income{Kind: IncomeOK, Msg: msg}
}

// Reconnect dials until it succeeds or stop is closed.
func (web *WebSocket) Reconnect(stop <-chan struct{}) bool {
	for {
		conn, _, err := ws.DefaultDialer.Dial(web.url, nil)
		if err == nil {
			web.mu.Lock()
			_ = web.conn.Close()
			web.conn = conn
			web.mu.Unlock()
			return true
		}

		select {
		case <-stop:
			return false
		case <-time.After(web.reconn):
		}
	}
}

func (web *WebSocket) Close() error {
	web.mu.Lock()
	defer web.mu.Unlock()
	_ = web.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	return web.conn.Close()
}

func IsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure) || ws.IsUnexpectedCloseError(err)
}
