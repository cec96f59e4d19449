package server

import (
	"context"
	log "log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"jarvis/pkg/protocol"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	sendBuffer   = 16
	maxFrameSize = 1 << 20
)

// peer is one WebSocket connection. Every write goes through send so that
// only writeLoop touches the connection for writing.
type peer struct {
	conn    *websocket.Conn
	session string
	send    chan []byte
	done    chan struct{}
	once    sync.Once
}

func (p *peer) close() {
	p.once.Do(func() { close(p.done) })
}

type hub struct {
	mu     sync.Mutex
	peers  map[*peer]struct{}
	logger *log.Logger
}

func newHub(logger *log.Logger) *hub {
	return &hub{peers: make(map[*peer]struct{}), logger: logger}
}

func (h *hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
	p.close()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// broadcast drops the payload for peers whose buffer is full.
func (h *hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		select {
		case p.send <- payload:
		default:
			h.logger.Warn("Dropping broadcast for slow client", "session", p.session)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		p.close()
		delete(h.peers, p)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade websocket", "err", err)
		return
	}

	p := &peer{
		conn:    conn,
		session: uuid.NewString(),
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
	s.hub.add(p)
	s.logger.Info("Client connected", "session", p.session, "remote", r.RemoteAddr)

	go s.writeLoop(p)
	s.readLoop(r.Context(), p)
}

func (s *Server) readLoop(ctx context.Context, p *peer) {
	defer func() {
		s.hub.remove(p)
		s.logger.Info("Client disconnected", "session", p.session)
	}()

	p.conn.SetReadLimit(maxFrameSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Websocket read failed", "session", p.session, "err", err)
			}
			return
		}

		out := s.dispatch(ctx, p, raw)
		b, err := out.Encode()
		if err != nil {
			s.logger.Error("Failed to encode reply", "err", err)
			continue
		}
		select {
		case p.send <- b:
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, p *peer, raw []byte) *protocol.Message {
	in, err := protocol.Parse(raw)
	if err != nil {
		s.logger.Debug("Bad envelope", "session", p.session, "err", err)
		return (&protocol.Message{Type: protocol.KindError, SessionID: p.session}).Fail("Invalid message")
	}
	if in.SessionID == "" {
		in.SessionID = p.session
	}

	switch in.Type {
	case protocol.KindMessage:
		prompt := strings.TrimSpace(in.Prompt)
		if prompt == "" {
			return in.Reply(protocol.KindError).Fail("Prompt is required")
		}
		reply := s.Converse(ctx, in.SessionID, prompt)
		if !reply.OK() {
			return in.Reply(protocol.KindResponse).Fail(reply.Text)
		}
		return in.Reply(protocol.KindResponse).Ok(reply.Text)

	case protocol.KindSentiment:
		text := in.Text
		if text == "" {
			text = in.Prompt
		}
		if strings.TrimSpace(text) == "" {
			return in.Reply(protocol.KindError).Fail("Text is required")
		}
		out, err := in.Reply(protocol.KindSentiment).WithData(s.gen.AnalyzeSentiment(ctx, text))
		if err != nil {
			return in.Reply(protocol.KindError).Fail("Could not encode sentiment")
		}
		out.Status = protocol.StatusSuccess
		return out

	case protocol.KindClear:
		s.ClearSession(in.SessionID)
		out := in.Reply(protocol.KindCleared)
		out.Status = protocol.StatusSuccess
		return out

	default:
		return in.Reply(protocol.KindError).Fail("Unknown message type")
	}
}

func (s *Server) writeLoop(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case <-p.done:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case b := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pushMetrics broadcasts a system_metrics envelope every metricsInterval
// while at least one client is connected.
func (s *Server) pushMetrics(ctx context.Context) {
	if s.metrics == nil || s.metricsInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.count() == 0 {
				continue
			}
			s.broadcastMetrics(ctx)
		}
	}
}

func (s *Server) broadcastMetrics(ctx context.Context) {
	snap, err := s.metrics.Sample(ctx)
	if err != nil {
		s.logger.Warn("Failed to sample system", "err", err)
		return
	}
	msg, err := (&protocol.Message{Type: protocol.KindSystemMetrics}).WithData(snap)
	if err != nil {
		s.logger.Error("Failed to encode metrics", "err", err)
		return
	}
	msg.Status = protocol.StatusSuccess
	b, err := msg.Encode()
	if err != nil {
		s.logger.Error("Failed to encode metrics", "err", err)
		return
	}
	s.hub.broadcast(b)
}
