package protocol

import (
	"errors"
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	for _, typ := range []string{CmdStartListening, CmdStopListening, CmdGetStatus, CmdClearBuffer} {
		cmd, err := DecodeCommand([]byte(`{"type":"` + typ + `"}`))
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if cmd.Type != typ {
			t.Fatalf("type = %q, want %q", cmd.Type, typ)
		}
	}
}

func TestDecodeCommandErrors(t *testing.T) {
	cases := []struct{ in, code string }{
		{`not json`, "bad_request"},
		{`{}`, "bad_request"},
		{`{"type":"  "}`, "bad_request"},
		{`{"type":"dance"}`, "unsupported"},
		{`{"type":"ack"}`, "unsupported"},
	}
	for _, c := range cases {
		in, code := c.in, c.code
		_, err := DecodeCommand([]byte(in))
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("%s: expected DecodeError, got %v", in, err)
		}
		if de.Code != code {
			t.Fatalf("%s: code = %q, want %q", in, de.Code, code)
		}
	}
}

func TestServerMessageWireShape(t *testing.T) {
	cases := []struct {
		msg  any
		want string
	}{
		{NewTranscript("hi", "prospect", true), `{"type":"transcript","text":"hi","speaker":"prospect","is_final":true}`},
		{NewSuggestions(nil), `{"type":"suggestions","items":[]}`},
		{NewStatus(true, true, false), `{"type":"status","listening":true,"connected":true,"transcribing":false}`},
		{NewAck("", true), `{"type":"ack","success":true}`},
		{NewAck(CmdStopListening, false), `{"type":"ack","success":false,"command":"stop_listening"}`},
		{NewError("boom"), `{"type":"error","message":"boom"}`},
	}
	for _, c := range cases {
		data, err := Encode(c.msg)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != c.want {
			t.Errorf("encode = %s, want %s", data, c.want)
		}
	}
}

func TestDecodeServerMessage(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"suggestions","items":["a","b"]}`))
	if err != nil {
		t.Fatal(err)
	}
	s, ok := msg.(Suggestions)
	if !ok {
		t.Fatalf("got %T, want Suggestions", msg)
	}
	if len(s.Items) != 2 || s.Items[0] != "a" || s.Items[1] != "b" {
		t.Fatalf("items = %v", s.Items)
	}

	msg, err = DecodeServerMessage([]byte(`{"type":"status","listening":true,"connected":true,"transcribing":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if st := msg.(Status); !st.Listening || !st.Connected || !st.Transcribing {
		t.Fatalf("status = %+v", st)
	}
}

func TestDecodeServerMessageErrors(t *testing.T) {
	for _, in := range []string{`{`, `{"type":"mystery"}`, `{"type":"status","listening":"yes"}`} {
		if _, err := DecodeServerMessage([]byte(in)); err == nil {
			t.Fatalf("%s: expected error", in)
		}
	}
}
