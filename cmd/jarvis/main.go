package main

import (
	"bufio"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"jarvis/internal/config"
	"jarvis/pkg/protocol"
)

func main() {
	url := cli.StringP("url", "u", "ws://localhost:8000/ws", "Url of the daemon websocket")
	session := cli.String("session", "", "Resume this conversation id")
	logLevel := cli.StringP("log", "l", "warn", "Log level")
	cli.Parse()

	log.SetDefault(config.NewLogger(*logLevel))

	client, err := protocol.NewClient(protocol.ClientConfig{
		Url:       *url,
		SessionID: *session,
		Reconn:    2 * time.Second,
		Timeout:   10 * time.Second,
		EmitOut: func(m *protocol.Message) {
			log.Debug("Broadcast", "type", m.Type, "data", string(m.Data))
		},
	})
	if err != nil {
		log.Error("Failed to connect", "url", *url, "err", err)
		os.Exit(1)
	}
	defer client.Close()
	go client.Run()

	fmt.Println("JARVIS online. /clear forgets the conversation, /quit exits.")

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())

		var resp *protocol.Message
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return
		case "/clear":
			resp, err = client.Clear()
		default:
			resp, err = client.Ask(line)
		}
		if err != nil {
			log.Error("Request failed", "err", err)
			if errors.Is(err, protocol.ErrClosed) {
				return
			}
			continue
		}
		show(resp)
	}
}

func show(m *protocol.Message) {
	switch {
	case m.Type == protocol.KindCleared:
		fmt.Println("(conversation cleared)")
	case m.Status == protocol.StatusError:
		fmt.Println("jarvis:", m.Error)
	default:
		fmt.Println("jarvis:", m.Text)
	}
}
