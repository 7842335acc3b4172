// Package protocol defines the JSON frames exchanged between the callcoach
// daemon and its presentation clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Server to client frame types.
const (
	TypeTranscript  = "transcript"
	TypeSuggestions = "suggestions"
	TypeStatus      = "status"
	TypeAck         = "ack"
	TypeError       = "error"
	TypeAudioLevel  = "audio_level"
)

// Client to server command types.
const (
	CmdStartListening = "start_listening"
	CmdStopListening  = "stop_listening"
	CmdGetStatus      = "get_status"
	CmdClearBuffer    = "clear_buffer"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

type Transcript struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
	IsFinal bool   `json:"is_final"`
}

type Suggestions struct {
	Type  string   `json:"type"`
	Items []string `json:"items"`
}

type Status struct {
	Type         string `json:"type"`
	Listening    bool   `json:"listening"`
	Connected    bool   `json:"connected"`
	Transcribing bool   `json:"transcribing"`
}

type Ack struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Command string `json:"command,omitempty"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type AudioLevel struct {
	Type     string  `json:"type"`
	Level    float64 `json:"level"`
	HasAudio bool    `json:"has_audio"`
}

type Command struct {
	Type string `json:"type"`
}

func NewTranscript(text, speaker string, isFinal bool) Transcript {
	return Transcript{Type: TypeTranscript, Text: text, Speaker: speaker, IsFinal: isFinal}
}

func NewSuggestions(items []string) Suggestions {
	if items == nil {
		items = []string{}
	}
	return Suggestions{Type: TypeSuggestions, Items: items}
}

func NewStatus(listening, connected, transcribing bool) Status {
	return Status{Type: TypeStatus, Listening: listening, Connected: connected, Transcribing: transcribing}
}

func NewAck(command string, success bool) Ack {
	return Ack{Type: TypeAck, Success: success, Command: command}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

func NewAudioLevel(level float64, hasAudio bool) AudioLevel {
	return AudioLevel{Type: TypeAudioLevel, Level: level, HasAudio: hasAudio}
}

func NewCommand(typ string) Command {
	return Command{Type: typ}
}

func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func envelopeType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return "", badRequest("missing type", "type")
	}
	return typ, nil
}

// DecodeCommand parses a client frame. Unknown types yield an unsupported
// DecodeError.
func DecodeCommand(data []byte) (Command, error) {
	typ, err := envelopeType(data)
	if err != nil {
		return Command{}, err
	}
	switch typ {
	case CmdStartListening, CmdStopListening, CmdGetStatus, CmdClearBuffer:
		return Command{Type: typ}, nil
	default:
		return Command{}, unsupported("unsupported command", typ)
	}
}

// DecodeServerMessage parses a server frame into one of the typed variants.
func DecodeServerMessage(data []byte) (any, error) {
	typ, err := envelopeType(data)
	if err != nil {
		return nil, err
	}

	var msg any
	switch typ {
	case TypeTranscript:
		msg = &Transcript{}
	case TypeSuggestions:
		msg = &Suggestions{}
	case TypeStatus:
		msg = &Status{}
	case TypeAck:
		msg = &Ack{}
	case TypeError:
		msg = &Error{}
	case TypeAudioLevel:
		msg = &AudioLevel{}
	default:
		return nil, unsupported("unsupported message type", typ)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, badRequest("invalid "+typ+" frame", typ)
	}
	switch m := msg.(type) {
	case *Transcript:
		return *m, nil
	case *Suggestions:
		return *m, nil
	case *Status:
		return *m, nil
	case *Ack:
		return *m, nil
	case *Error:
		return *m, nil
	case *AudioLevel:
		return *m, nil
	}
	return msg, nil
}
