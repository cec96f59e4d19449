package main

import (
	"errors"
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"jarvis/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Daemon control socket")
	session := cli.String("session", "", "Conversation to act on (default: local)")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: jarvis-ctl [flags] trigger|clear\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := ipc.CmdTrigger
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	err := ipc.SendCommand(*socket, ipc.ControlMessage{Cmd: cmd, Session: *session})
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func describe(err error) string {
	if errors.Is(err, ipc.ErrNotRunning) {
		return "jarvis-daemon not running: " + err.Error()
	}
	return "jarvis-ctl: " + err.Error()
}
