package protocol

import (
	"errors"
	log "log/slog"
	"sync"
	"time"
)

var (
	ErrClosed       = errors.New("client closed")
	ErrDisconnected = errors.New("connection lost before reply")
	ErrReplyTimeout = errors.New("no reply in time")
)

// DefaultReplyTimeout stays above the daemon's generation timeout.
const DefaultReplyTimeout = 90 * time.Second

type ClientConfig struct {
	Url       string
	SessionID string
	Reconn    time.Duration
	Timeout   time.Duration
	// ReplyTimeout bounds TransmitReceive. Zero means DefaultReplyTimeout.
	ReplyTimeout time.Duration
	// EmitOut receives messages nobody is waiting for, such as
	// system_metrics broadcasts.
	EmitOut func(*Message)
}

// Client sends prompts over /ws and matches each one with its reply.
type Client struct {
	ws      *WebSocket
	session string

	replyTimeout time.Duration

	waiterMu sync.Mutex
	waiter   chan answer

	emitOut func(*Message)
	stop    chan struct{}
	once    sync.Once
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Reconn <= 0 {
		cfg.Reconn = time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	ws, err := NewWebSocket(cfg.Url, cfg.Reconn, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	return &Client{
		ws:      ws,
		session: cfg.SessionID,

		replyTimeout: cfg.ReplyTimeout,
		emitOut:      cfg.EmitOut,
		stop:         make(chan struct{}),
	}, nil
}

// Ask sends prompt and waits for the matching response. Run must be active.
func (c *Client) Ask(prompt string) (*Message, error) {
	return c.TransmitReceive(&Message{Type: KindMessage, Prompt: prompt})
}

func (c *Client) Clear() (*Message, error) {
	return c.TransmitReceive(&Message{Type: KindClear})
}

func (c *Client) TransmitReceive(m *Message) (*Message, error) {
	w := c.installWaiter()
	defer c.clearWaiter()

	if err := c.Transmit(m); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.replyTimeout)
	defer timer.Stop()

	select {
	case a := <-w:
		return a.msg, a.err
	case <-timer.C:
		return nil, ErrReplyTimeout
	case <-c.stop:
		return nil, ErrClosed
	}
}

func (c *Client) Transmit(m *Message) error {
	if m.SessionID == "" {
		m.SessionID = c.Session()
	}
	b, err := m.Encode()
	if err != nil {
		return err
	}

	if err := c.ws.Write(b); err != nil {
		log.Error("Failed to transmit", "type", m.Type, "err", err)
		return err
	}
	return nil
}

// Run reads until Close, reconnecting when the server goes away.
func (c *Client) Run() {
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		in := c.ws.Read()
		switch in.Kind {
		case IncomeClosed, IncomeFailure:
			select {
			case <-c.stop:
				return
			default:
			}
			// The reply to an in-flight request died with the connection.
			c.answer(answer{err: ErrDisconnected})
			log.Warn("Trying to reconnect", "url", c.ws.url, "err", in.Err)
			if !c.ws.Reconnect(c.stop) {
				return
			}
			log.Info("Successfully reconnected")

		case IncomeOK:
			msg, err := Parse(in.Msg)
			if err != nil {
				log.Warn("Failed to parse", "msg", string(in.Msg), "err", err)
				continue
			}
			if msg.SessionID != "" {
				c.setSession(msg.SessionID)
			}

			if msg.Type != KindSystemMetrics && c.answer(answer{msg: msg}) {
				continue
			}
			if c.emitOut != nil {
				c.emitOut(msg)
			}
		}
	}
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		err = c.ws.Close()
	})
	return err
}

// Session is the id the server assigned or the one configured.
func (c *Client) Session() string {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	return c.session
}

func (c *Client) setSession(id string) {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	c.session = id
}

type answer struct {
	msg *Message
	err error
}

func (c *Client) installWaiter() chan answer {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	c.waiter = make(chan answer, 1)
	return c.waiter
}

func (c *Client) clearWaiter() {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	c.waiter = nil
}

// answer hands a to the pending request, if any. It reports whether a
// request took it.
func (c *Client) answer(a answer) bool {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	if c.waiter == nil {
		return false
	}
	select {
	case c.waiter <- a:
		return true
	default:
		return false
	}
}
