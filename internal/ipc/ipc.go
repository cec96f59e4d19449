// Package ipc carries control commands from jarvis-ctl to the daemon over a
// unix socket.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	CmdTrigger = "trigger"
	CmdClear   = "clear"
)

var DefaultSocketPath = filepath.Join(os.TempDir(), "jarvis.sock")

// ErrNotRunning wraps dial failures: nobody listens on the socket.
var ErrNotRunning = errors.New("daemon not running")

var (
	// connTimeout bounds one command exchange on either side.
	connTimeout   = 5 * time.Second
	acceptBackoff = 100 * time.Millisecond
)

type ControlMessage struct {
	Cmd     string `json:"cmd"`
	Session string `json:"session,omitempty"`
}

type Reply struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Handler returns an error to report back to the sender.
type Handler func(ControlMessage) error

type Server struct {
	ln   net.Listener
	path string
}

// StartServer listens on path and serves each connection on its own
// goroutine until Close.
func StartServer(path string, handler Handler) (*Server, error) {
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{ln: ln, path: path}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				time.Sleep(acceptBackoff)
				continue
			}
			go handleConn(conn, handler)
		}
	}()

	return s, nil
}

func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		return
	}

	reply := Reply{Ok: true}
	if err := handler(msg); err != nil {
		reply = Reply{Error: err.Error()}
	}
	_ = json.NewEncoder(conn).Encode(reply)
}

func SendCommand(path string, msg ControlMessage) error {
	conn, err := net.DialTimeout("unix", path, connTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return err
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if !reply.Ok {
		return errors.New(reply.Error)
	}
	return nil
}
