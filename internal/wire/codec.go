package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coder/websocket"
	"github.com/fxamacker/cbor/v2"
)

const (
	SubprotocolJSON = "tavern.v1.json"
	SubprotocolCBOR = "tavern.v1.cbor"
)

// Subprotocols lists the websocket subprotocols the server speaks, in order of
// preference.
var Subprotocols = []string{SubprotocolJSON, SubprotocolCBOR}

// MaxFrameSize caps the size of a single inbound frame.
const MaxFrameSize = 64 << 10

var (
	JSON = NewJSONCodec()
	CBOR = NewCBORCodec()
)

// Header is the part of the frame read before the payload is decoded.
type Header struct {
	Type          Type   `json:"type"`
	Timestamp     Millis `json:"timestamp"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type frame struct {
	Type          Type    `json:"type"`
	Timestamp     int64   `json:"timestamp"`
	CorrelationID string  `json:"correlationId,omitempty"`
	Payload       Payload `json:"payload"`
}

type Codec struct {
	Name      string
	Frame     websocket.MessageType
	Marshal   func(v any) ([]byte, error)
	Unmarshal func(data []byte, v any) error

	split func(data []byte) (Header, []byte, error)
}

func NewJSONCodec() *Codec {
	return &Codec{
		Name:      SubprotocolJSON,
		Frame:     websocket.MessageText,
		Marshal:   json.Marshal,
		Unmarshal: json.Unmarshal,
		split: func(data []byte) (Header, []byte, error) {
			var raw struct {
				Header
				Payload json.RawMessage `json:"payload"`
			}
			if err := json.Unmarshal(data, &raw); err != nil {
				return Header{}, nil, err
			}
			if bytes.Equal(raw.Payload, []byte("null")) {
				raw.Payload = nil
			}
			return raw.Header, raw.Payload, nil
		},
	}
}

func NewCBORCodec() *Codec {
	return &Codec{
		Name:      SubprotocolCBOR,
		Frame:     websocket.MessageBinary,
		Marshal:   cbor.Marshal,
		Unmarshal: cbor.Unmarshal,
		split: func(data []byte) (Header, []byte, error) {
			var raw struct {
				Header
				Payload cbor.RawMessage `json:"payload"`
			}
			if err := cbor.Unmarshal(data, &raw); err != nil {
				return Header{}, nil, err
			}
			// 0xf6 is the CBOR encoding of null.
			if len(raw.Payload) == 1 && raw.Payload[0] == 0xf6 {
				raw.Payload = nil
			}
			return raw.Header, raw.Payload, nil
		},
	}
}

// CodecFor returns the codec matching a negotiated websocket subprotocol.
// JSON is used when nothing was negotiated.
func CodecFor(subprotocol string) *Codec {
	if subprotocol == SubprotocolCBOR {
		return CBOR
	}
	return JSON
}

func (c *Codec) Encode(m Message) ([]byte, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("encode %s: missing payload", m.Type)
	}
	if m.Type == "" {
		m.Type = m.Payload.Type()
	}
	return c.Marshal(frame{
		Type:          m.Type,
		Timestamp:     m.Timestamp,
		CorrelationID: m.CorrelationID,
		Payload:       m.Payload,
	})
}

// DecodeHeader reads the frame header and returns the still encoded payload.
func (c *Codec) DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) == 0 {
		return Header{}, nil, ErrMalformedFrame
	}
	h, raw, err := c.split(data)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	h.Type = Type(strings.TrimSpace(string(h.Type)))
	if h.Type == "" {
		return Header{}, nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return h, raw, nil
}

// DecodePayload decodes and validates the payload of a client frame.
func (c *Codec) DecodePayload(h Header, raw []byte) (Message, error) {
	newPayload, ok := inbound[h.Type]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
	return c.decodeInto(h, raw, newPayload())
}

// Decode decodes a whole client frame.
func (c *Codec) Decode(data []byte) (Message, error) {
	h, raw, err := c.DecodeHeader(data)
	if err != nil {
		return Message{}, err
	}
	return c.DecodePayload(h, raw)
}

// DecodeServer decodes a frame emitted by the server.
func (c *Codec) DecodeServer(data []byte) (Message, error) {
	h, raw, err := c.DecodeHeader(data)
	if err != nil {
		return Message{}, err
	}
	newPayload, ok := outbound[h.Type]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
	return c.decodeInto(h, raw, newPayload())
}

func (c *Codec) decodeInto(h Header, raw []byte, p Payload) (Message, error) {
	if len(raw) > 0 {
		if err := c.Unmarshal(raw, p); err != nil {
			return Message{}, &ValidationError{
				Code:    CodeInvalidPayload,
				Message: fmt.Sprintf("invalid %s payload", h.Type),
			}
		}
	}
	if v, ok := p.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return Message{}, verr
			}
			return Message{}, &ValidationError{Code: CodeInvalidPayload, Message: err.Error()}
		}
	}
	return Message{
		Type:          h.Type,
		Timestamp:     int64(h.Timestamp),
		CorrelationID: h.CorrelationID,
		Payload:       p,
	}, nil
}
