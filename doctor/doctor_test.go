package doctor

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"

	"callcoach/audio"
	"callcoach/config"
	"callcoach/suggest"
	"callcoach/transcriber"
)

func tone(seconds float64) []byte {
	n := int(seconds * audio.SampleRate)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(12000 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func testConfig() config.Config {
	return config.Config{
		DeepgramKey:    "dg-0123456789",
		GeminiKey:      "gm-0123456789",
		FrameDuration:  audio.DefaultFrameDuration,
		Gain:           1,
		SuggestTimeout: time.Second,
		Playbook:       suggest.DefaultPlaybook(),
	}
}

func TestAllChecksPass(t *testing.T) {
	var out bytes.Buffer
	dialer := transcriber.NewFakeDialer()
	code := run(testConfig(), deps{
		out:        &out,
		audio:      audio.NewFakeContext(tone(2), false),
		dial:       dialer.Dial,
		suggester:  suggest.NewFakeService("Ask what budget they planned."),
		captureFor: 100 * time.Millisecond,
	})
	if code != 0 {
		t.Fatalf("exit code %d\n%s", code, out.String())
	}
	for _, want := range []string{"Fake Call Loopback", "PASS: audio signal present", "PASS: stream opened", "Ask what budget they planned."} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q\n%s", want, out.String())
		}
	}
	if dialer.Dials() != 1 {
		t.Errorf("dials = %d", dialer.Dials())
	}
}

func TestMissingKeyFails(t *testing.T) {
	var out bytes.Buffer
	cfg := testConfig()
	cfg.DeepgramKey = ""
	code := run(cfg, deps{
		out:        &out,
		audio:      audio.NewFakeContext(tone(1), false),
		captureFor: 50 * time.Millisecond,
	})
	if code != 1 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(out.String(), "FAIL: DEEPGRAM_API_KEY is not set") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestRejectedKey(t *testing.T) {
	var out bytes.Buffer
	dialer := transcriber.NewFakeDialer()
	dialer.FailNext(transcriber.ErrAuthentication)
	code := run(testConfig(), deps{
		out:        &out,
		audio:      audio.NewFakeContext(tone(1), false),
		dial:       dialer.Dial,
		captureFor: 50 * time.Millisecond,
	})
	if code != 1 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(out.String(), "key rejected") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestSilentDeviceWarns(t *testing.T) {
	var out bytes.Buffer
	code := run(testConfig(), deps{
		out:        &out,
		audio:      audio.NewFakeContext(make([]byte, audio.BytesPerSecond), false),
		dial:       transcriber.NewFakeDialer().Dial,
		captureFor: 100 * time.Millisecond,
	})
	if code != 0 {
		t.Fatalf("exit code %d\n%s", code, out.String())
	}
	if !strings.Contains(out.String(), "WARN: signal is silent") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestMask(t *testing.T) {
	if got := mask("abcd1234wxyz"); got != "abcd****wxyz" {
		t.Fatalf("mask = %q", got)
	}
	if got := mask("short"); got != "*****" {
		t.Fatalf("mask = %q", got)
	}
}
