// Package protocol implements the JSON envelope exchanged with game clients:
// {"type": "...", "payload": {...}}.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/cheese-relay/pkg/chessdto"
)

// Type discriminates envelopes.
type Type string

const (
	TypeInitGame   Type = "INIT_GAME"
	TypeMove       Type = "move"
	TypeGameOver   Type = "GAME_OVER"
	TypeResign     Type = "RESIGN"
	TypeLegalMoves Type = "LEGAL_MOVES"
	TypeWaiting    Type = "WAITING"
	TypeError      Type = "error"
)

// Envelope is one frame on the wire. Payload is kept raw so that it can be
// decoded once the type is known.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is a decoded client frame. Only the field matching Type is set.
type Inbound struct {
	Type   Type
	Move   *chessdto.MoveRequest
	Square string
}

// Errors
var (
	ErrMalformed   = staticErr("malformed message")
	ErrUnknownType = staticErr("unknown message type")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

// New builds an envelope with payload marshalled to JSON. A nil payload leaves
// Payload empty.
func New(t Type, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// MustNew is New for payloads that are known to marshal (the chessdto structs).
func MustNew(t Type, payload any) Envelope {
	env, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Encode returns the frame bytes of env.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses a client frame. Frames that are not JSON objects, lack a type,
// or carry an unusable payload fail with ErrMalformed; well-formed frames with a
// type the server does not accept fail with ErrUnknownType.
func Decode(raw []byte) (Inbound, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Inbound{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(string(env.Type)) == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	in := Inbound{Type: env.Type}
	switch env.Type {
	case TypeInitGame, TypeResign:
		return in, nil
	case TypeMove:
		var mv chessdto.MoveRequest
		if err := decodePayload(env.Payload, &mv); err != nil {
			return Inbound{}, err
		}
		mv.From = strings.ToLower(strings.TrimSpace(mv.From))
		mv.To = strings.ToLower(strings.TrimSpace(mv.To))
		mv.Promotion = strings.ToLower(strings.TrimSpace(mv.Promotion))
		if mv.From == "" || mv.To == "" {
			return Inbound{}, fmt.Errorf("%w: move needs from and to", ErrMalformed)
		}
		in.Move = &mv
		return in, nil
	case TypeLegalMoves:
		var req chessdto.LegalMovesRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			return Inbound{}, err
		}
		in.Square = strings.ToLower(strings.TrimSpace(req.Square))
		if in.Square == "" {
			return Inbound{}, fmt.Errorf("%w: square required", ErrMalformed)
		}
		return in, nil
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: payload required", ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	return nil
}

// Reject builds the "error" envelope sent to a single client.
func Reject(code, message string) Envelope {
	return MustNew(TypeError, chessdto.DomainError{Code: code, Message: message})
}
