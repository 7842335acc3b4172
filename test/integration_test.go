//go:build integration

package test_test

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"callcoach/client"
	"callcoach/protocol"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("CALLCOACH_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "CALLCOACH_TEST_BIN not set; build the daemon and point it at the binary")
		os.Exit(1)
	}

	silencePath := filepath.Join("data", "silence.wav")
	if err := os.MkdirAll("data", 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data dir: %v\n", err)
		os.Exit(1)
	}
	if err := generateSilenceWAV(silencePath, 16000, 1.0); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate silence.wav: %v\n", err)
		os.Exit(1)
	}
	code := m.Run()
	os.Remove(silencePath)
	os.Exit(code)
}

func generateSilenceWAV(path string, sampleRate int, durationS float64) error {
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	return os.WriteFile(path, buf, 0644)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().String()
}

type daemon struct {
	addr   string
	logDir string
	cmd    *exec.Cmd
	out    strings.Builder
}

// startDaemon runs the binary against a WAV file and waits until it serves.
func startDaemon(t *testing.T, wav string, env ...string) *daemon {
	t.Helper()
	d := &daemon{addr: freeAddr(t), logDir: t.TempDir()}
	d.cmd = exec.Command(testBinary, "-logpath", d.logDir, "-addr", d.addr, "-test-audio", wav)
	d.cmd.Env = append(os.Environ(), env...)
	d.cmd.Stdout = &d.out
	d.cmd.Stderr = &d.out
	if err := d.cmd.Start(); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(func() {
		if d.cmd.ProcessState == nil {
			d.cmd.Process.Kill()
			d.cmd.Wait()
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + d.addr + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return d
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon never became healthy: %v\noutput: %s", err, d.out.String())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (d *daemon) stop(t *testing.T) {
	t.Helper()
	d.cmd.Process.Signal(os.Interrupt)
	if err := d.cmd.Wait(); err != nil {
		t.Fatalf("daemon exited with error: %v\noutput: %s", err, d.out.String())
	}
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

type inbox struct {
	msgs chan any
}

func (i *inbox) Connected()      {}
func (i *inbox) Disconnected()   {}
func (i *inbox) Message(msg any) { i.msgs <- msg }

func (i *inbox) await(t *testing.T, match func(any) bool) any {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case m := <-i.msgs:
			if match(m) {
				return m
			}
		case <-timeout:
			t.Fatal("timed out waiting for message")
		}
	}
}

func connect(t *testing.T, d *daemon) (*client.Client, *inbox) {
	t.Helper()
	in := &inbox{msgs: make(chan any, 256)}
	c := client.New(client.Config{URL: "ws://" + d.addr + "/ws", Handler: in})
	c.Mount()
	t.Cleanup(c.Unmount)
	in.await(t, func(m any) bool {
		st, ok := m.(protocol.Status)
		return ok && st.Connected
	})
	return c, in
}

func isAck(cmd string) func(any) bool {
	return func(m any) bool {
		a, ok := m.(protocol.Ack)
		return ok && a.Command == cmd
	}
}

func requireDeepgramKey(t *testing.T) {
	t.Helper()
	if os.Getenv("DEEPGRAM_API_KEY") == "" {
		t.Skip("DEEPGRAM_API_KEY not set")
	}
}

func TestStatusRoundTrip(t *testing.T) {
	d := startDaemon(t, "data/silence.wav")
	c, in := connect(t, d)

	if !c.Send(protocol.CmdGetStatus) {
		t.Fatal("send failed")
	}
	st := in.await(t, func(m any) bool { _, ok := m.(protocol.Status); return ok }).(protocol.Status)
	if st.Listening || !st.Connected {
		t.Fatalf("status = %+v", st)
	}

	c.Unmount()
	d.stop(t)
	diag := readLog(t, d.logDir, "diagnostics_log.txt")
	if !strings.Contains(diag, "connected") {
		t.Error("expected client connect in diagnostics")
	}
}

func TestStartWithoutCredentials(t *testing.T) {
	d := startDaemon(t, "data/silence.wav", "DEEPGRAM_API_KEY=", "GEMINI_API_KEY=", "GOOGLE_API_KEY=")
	c, in := connect(t, d)

	c.Send(protocol.CmdStartListening)
	ack := in.await(t, isAck(protocol.CmdStartListening)).(protocol.Ack)
	if ack.Success {
		t.Fatal("start should fail without credentials")
	}
	e := in.await(t, func(m any) bool { _, ok := m.(protocol.Error); return ok }).(protocol.Error)
	if !strings.Contains(e.Message, "credentials") {
		t.Fatalf("error = %q", e.Message)
	}
	d.stop(t)
}

func TestStreamTranscribes(t *testing.T) {
	requireDeepgramKey(t)
	if _, err := os.Stat("data/short.wav"); err != nil {
		t.Skip("data/short.wav not present")
	}
	d := startDaemon(t, "data/short.wav")
	c, in := connect(t, d)

	c.Send(protocol.CmdStartListening)
	in.await(t, isAck(protocol.CmdStartListening))
	tr := in.await(t, func(m any) bool { _, ok := m.(protocol.Transcript); return ok }).(protocol.Transcript)
	if strings.TrimSpace(tr.Text) == "" {
		t.Fatal("empty transcript")
	}

	c.Send(protocol.CmdStopListening)
	in.await(t, isAck(protocol.CmdStopListening))
	d.stop(t)

	diag := readLog(t, d.logDir, "diagnostics_log.txt")
	if !strings.Contains(diag, "connect_ms") {
		t.Error("expected connect_ms in stream metrics")
	}
}
