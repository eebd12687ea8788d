package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame types of the graphql-ws subscription protocol, as spoken by the
// G-Portal endpoint.
const (
	TypeConnectionInit  = "connection_init"
	TypeConnectionAck   = "connection_ack"
	TypeConnectionError = "connection_error"
	TypeKeepAlive       = "ka"
	TypeStart           = "start"
	TypeData            = "data"
	TypeError           = "error"
	TypeComplete        = "complete"
	TypeStop            = "stop"
)

const maxFrameSize = 1 * 1024 * 1024 // 1MB max inbound frame

// Frame is the wire envelope for every protocol message.
//
// ID is empty for connection-level frames (init, ack, ka) and carries the
// subscription operation id for start/data/error/complete/stop.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeError reports a malformed inbound frame. It is never fatal: the
// receive loop logs it and keeps listening.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode frame: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeInit builds the connection_init frame carrying the bearer token.
func EncodeInit(token string) ([]byte, error) {
	payload := struct {
		Authorization string `json:"authorization"`
	}{Authorization: token}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode init payload: %w", err)
	}
	return json.Marshal(Frame{Type: TypeConnectionInit, Payload: raw})
}

// EncodeStart builds a subscription start frame. kind selects which of the
// three fixed GraphQL documents is embedded; serverID and region become the
// document's variables.
func EncodeStart(id string, serverID int, region string, kind QueryKind) ([]byte, error) {
	doc, opName, err := document(kind)
	if err != nil {
		return nil, err
	}

	payload := struct {
		OperationName string `json:"operationName"`
		Query         string `json:"query"`
		Variables     struct {
			SID    int    `json:"sid"`
			Region string `json:"region"`
		} `json:"variables"`
	}{OperationName: opName, Query: doc}
	payload.Variables.SID = serverID
	payload.Variables.Region = region

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode start payload: %w", err)
	}
	return json.Marshal(Frame{ID: id, Type: TypeStart, Payload: raw})
}

// EncodeStop builds the stop frame for a subscription operation id.
func EncodeStop(id string) ([]byte, error) {
	return json.Marshal(Frame{ID: id, Type: TypeStop})
}

// Decode parses a raw inbound frame.
//
// Malformed JSON, a missing type field or an oversized frame yields a
// *DecodeError; callers log it and continue reading.
func Decode(data []byte) (Frame, error) {
	if len(data) > maxFrameSize {
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("frame size %d exceeds maximum %d bytes", len(data), maxFrameSize)}
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if f.Type == "" {
		return Frame{}, &DecodeError{Reason: "missing type field"}
	}
	return f, nil
}
