// Package protocol defines the client-facing message envelopes for the
// relay websocket and the session configuration value object with its
// normalization rules. Everything here is JSON-shaped and free of I/O.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError describes a malformed or unsupported client frame. The relay
// logs it and skips the frame; it never ends the session by itself.
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

// Inbound message types.
const (
	TypeConfig    = "config"
	TypeAudio     = "audio"
	TypeImage     = "image"
	TypeInterrupt = "interrupt"
)

// ClientConfig carries a (possibly partial) session configuration. The relay
// normalizes it before use; omitted fields take documented defaults.
type ClientConfig struct {
	Type   string             `json:"type"`
	Config SessionConfigPatch `json:"config"`
}

// ClientAudio carries one base64 PCM chunk from the microphone.
type ClientAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ClientImage carries one base64 JPEG frame from the camera or screen.
type ClientImage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ClientInterrupt asks the relay to stop the current generation without
// ending the session.
type ClientInterrupt struct {
	Type string `json:"type"`
}

// UnknownMessage is returned for recognized-JSON frames of an unrecognized
// kind so the caller can log the type and continue.
type UnknownMessage struct {
	Type string
}

// DecodeClientMessage parses one inbound text frame into a typed envelope.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeConfig:
		var msg ClientConfig
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid config frame", "")
		}
		return msg, nil
	case TypeAudio:
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		return msg, nil
	case TypeImage:
		var msg ClientImage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid image frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("image.data is required", "data")
		}
		return msg, nil
	case TypeInterrupt:
		return ClientInterrupt{Type: typ}, nil
	default:
		return UnknownMessage{Type: typ}, nil
	}
}

// ServerAudio forwards one generated audio chunk to the client.
type ServerAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ServerTurnComplete signals that the current generation finished.
type ServerTurnComplete struct {
	Type string `json:"type"`
	Data bool   `json:"data"`
}

// ServerInterrupt acknowledges a client interrupt request. Success reports
// whether the upstream service accepted the cancellation signal.
type ServerInterrupt struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// ServerInterruptConfirmed reports that the upstream service confirmed the
// in-flight generation stopped.
type ServerInterruptConfirmed struct {
	Type string `json:"type"`
}

// ServerStopAudio instructs the client to discard any buffered playback.
type ServerStopAudio struct {
	Type string `json:"type"`
}

// ServerError reports a session-scoped failure to the client.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}
