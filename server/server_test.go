package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"callcoach/protocol"

	"github.com/gorilla/websocket"
)

type fakeController struct {
	mu       sync.Mutex
	starts   int
	stops    int
	clears   int
	startErr error
}

func (f *fakeController) StartListening(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeController) StopListening() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeController) ClearBuffer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}

func (f *fakeController) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.clears
}

func startServer(t *testing.T, ctrl Controller) (*Server, string) {
	t.Helper()
	srv := New(ctrl, Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, ts.URL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string) {
	t.Helper()
	data, _ := protocol.Encode(protocol.NewCommand(typ))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next reads frames until match returns true.
func next(t *testing.T, conn *websocket.Conn, match func(any) bool) any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func isStatus(want State) func(any) bool {
	return func(m any) bool {
		st, ok := m.(protocol.Status)
		return ok && st == want.Frame()
	}
}

func isAck(cmd string) func(any) bool {
	return func(m any) bool {
		a, ok := m.(protocol.Ack)
		return ok && a.Command == cmd
	}
}

func TestConnectBroadcastsStatus(t *testing.T) {
	srv, url := startServer(t, &fakeController{})
	a := dial(t, url)
	next(t, a, isStatus(State{Connected: true}))

	b := dial(t, url)
	next(t, b, isStatus(State{Connected: true}))
	next(t, a, isStatus(State{Connected: true}))

	if n := srv.ClientCount(); n != 2 {
		t.Fatalf("clients = %d, want 2", n)
	}
}

func TestStartStopCommands(t *testing.T) {
	ctrl := &fakeController{}
	srv, url := startServer(t, ctrl)
	conn := dial(t, url)
	next(t, conn, isStatus(State{Connected: true}))

	send(t, conn, protocol.CmdStartListening)
	next(t, conn, isStatus(State{Connected: true, Listening: true}))
	ack := next(t, conn, isAck(protocol.CmdStartListening)).(protocol.Ack)
	if !ack.Success {
		t.Fatal("start ack should succeed")
	}

	// idempotent
	send(t, conn, protocol.CmdStartListening)
	next(t, conn, isAck(protocol.CmdStartListening))
	if starts, _, _ := ctrl.counts(); starts != 1 {
		t.Fatalf("controller started %d times", starts)
	}

	srv.MarkTranscribing()
	next(t, conn, isStatus(State{Connected: true, Listening: true, Transcribing: true}))

	send(t, conn, protocol.CmdStopListening)
	next(t, conn, isStatus(State{Connected: true}))
	next(t, conn, isAck(protocol.CmdStopListening))
	if st := srv.State(); st.Listening || st.Transcribing {
		t.Fatalf("state after stop = %+v", st)
	}
}

func TestStartFailure(t *testing.T) {
	ctrl := &fakeController{startErr: errors.New("no audio input available")}
	srv, url := startServer(t, ctrl)
	conn := dial(t, url)
	next(t, conn, isStatus(State{Connected: true}))

	send(t, conn, protocol.CmdStartListening)
	ack := next(t, conn, isAck(protocol.CmdStartListening)).(protocol.Ack)
	if ack.Success {
		t.Fatal("ack should report failure")
	}
	e := next(t, conn, func(m any) bool { _, ok := m.(protocol.Error); return ok }).(protocol.Error)
	if !strings.Contains(e.Message, "no audio input") {
		t.Fatalf("error = %q", e.Message)
	}
	if srv.State().Listening {
		t.Fatal("listening after failed start")
	}
}

func TestGetStatusAndClear(t *testing.T) {
	ctrl := &fakeController{}
	_, url := startServer(t, ctrl)
	conn := dial(t, url)
	next(t, conn, isStatus(State{Connected: true}))

	send(t, conn, protocol.CmdGetStatus)
	next(t, conn, isStatus(State{Connected: true}))

	send(t, conn, protocol.CmdClearBuffer)
	next(t, conn, isAck(protocol.CmdClearBuffer))
	if _, _, clears := ctrl.counts(); clears != 1 {
		t.Fatalf("clears = %d", clears)
	}
}

func TestBadFramesIgnored(t *testing.T) {
	_, url := startServer(t, &fakeController{})
	conn := dial(t, url)
	next(t, conn, isStatus(State{Connected: true}))

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`))
	send(t, conn, protocol.CmdGetStatus)
	next(t, conn, isStatus(State{Connected: true}))
}

func TestPublishFanOut(t *testing.T) {
	srv, url := startServer(t, &fakeController{})
	a := dial(t, url)
	next(t, a, isStatus(State{Connected: true}))
	b := dial(t, url)
	next(t, b, isStatus(State{Connected: true}))

	srv.PublishSuggestions([]string{"Ask about budget"})
	for _, conn := range []*websocket.Conn{a, b} {
		m := next(t, conn, func(m any) bool { _, ok := m.(protocol.Suggestions); return ok })
		if items := m.(protocol.Suggestions).Items; len(items) != 1 {
			t.Fatalf("items = %v", items)
		}
	}
}

func TestDisconnectUpdatesConnected(t *testing.T) {
	srv, url := startServer(t, &fakeController{})
	conn := dial(t, url)
	next(t, conn, isStatus(State{Connected: true}))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.State().Connected {
		if time.Now().After(deadline) {
			t.Fatal("connected never cleared")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthAndStatusRoutes(t *testing.T) {
	srv, url := startServer(t, &fakeController{})
	resp, err := http.Get(url + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	srv.transition(false, func(st State) State { st.Listening = true; return st })
	resp, err = http.Get(url + "/status")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"listening":true`) || !strings.Contains(string(body), `"clients":0`) {
		t.Fatalf("status body = %s", body)
	}
}
