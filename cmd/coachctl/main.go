// Command coachctl is a terminal client for the callcoach daemon. It shows
// transcripts and suggestions as they arrive and sends listening commands
// typed on stdin.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"callcoach/client"
	"callcoach/protocol"

	"golang.org/x/term"
)

var version = "dev"

var commands = map[string]string{
	"start":  protocol.CmdStartListening,
	"stop":   protocol.CmdStopListening,
	"status": protocol.CmdGetStatus,
	"clear":  protocol.CmdClearBuffer,
}

type view struct {
	p         *printer
	levels    bool
	autoStart bool
	started   atomic.Bool
	c         *client.Client
}

func (v *view) Connected() {
	v.p.println(v.p.render(dimStyle, "connected"))
	if v.autoStart && v.started.CompareAndSwap(false, true) {
		v.c.Send(protocol.CmdStartListening)
	}
}

func (v *view) Disconnected() {
	v.p.println(v.p.render(errorStyle, "disconnected, retrying"))
}

func (v *view) Message(msg any) {
	switch m := msg.(type) {
	case protocol.Transcript:
		v.p.println(v.p.transcript(m))
	case protocol.Suggestions:
		v.p.println(v.p.suggestions(m.Items))
	case protocol.Status:
		v.p.println(v.p.status(m))
	case protocol.Ack:
		if !m.Success {
			v.p.println(v.p.errLine(m.Command + " failed"))
		}
	case protocol.Error:
		v.p.println(v.p.errLine(m.Message))
	case protocol.AudioLevel:
		if v.levels {
			v.p.println(v.p.level(m))
		}
	}
}

func main() {
	url := flag.String("url", "ws://localhost:8765/ws", "daemon websocket URL")
	start := flag.Bool("start", false, "start listening once connected")
	levels := flag.Bool("levels", false, "show audio levels")
	plain := flag.Bool("plain", false, "disable styling")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("coachctl %s\n", version)
		return
	}

	p := &printer{out: os.Stdout, plain: *plain || !term.IsTerminal(int(os.Stdout.Fd()))}
	v := &view{p: p, levels: *levels, autoStart: *start}
	c := client.New(client.Config{URL: *url, Handler: v})
	v.c = c
	c.Mount()
	defer c.Unmount()

	if term.IsTerminal(int(os.Stdin.Fd())) {
		p.println(p.render(dimStyle, "commands: start, stop, status, clear, quit"))
	}
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		word := strings.ToLower(strings.TrimSpace(sc.Text()))
		switch word {
		case "":
			continue
		case "quit", "exit", "q":
			return
		case "help", "?":
			p.println("commands: start, stop, status, clear, quit")
			continue
		}
		cmd, ok := commands[word]
		if !ok {
			p.println(p.errLine("unknown command " + word))
			continue
		}
		if !c.Send(cmd) {
			p.println(p.errLine("not connected"))
		}
	}
}
