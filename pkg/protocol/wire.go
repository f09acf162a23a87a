package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marinhotg/mesh-lightning/pkg/protocol/codec"
)

// Format is a compact on-wire indicator of frame encoding.
// It is carried as the first byte of every frame.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatCBOR
	FormatMsgpack
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return ContentJSON
	case FormatCBOR:
		return ContentCBOR
	case FormatMsgpack:
		return ContentMsgpack
	default:
		return ContentUnknown
	}
}

// ParseFormat maps a config name (json/cbor/msgpack) to a Format.
func ParseFormat(name string) Format {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON
	case "cbor":
		return FormatCBOR
	case "msgpack":
		return FormatMsgpack
	default:
		return FormatUnknown
	}
}

// ErrMalformed marks frames that fail to decode into a valid envelope.
// The receive path drops these silently; nothing about a bad peer's bytes may
// propagate as an error.
var ErrMalformed = errors.New("malformed mesh frame")

// CodecFor returns a codec instance for a given format.
func CodecFor(r *codec.Registry, f Format) (codec.Codec, error) {
	switch f {
	case FormatJSON:
		if c := r.Get(ContentJSON); c != nil {
			return c, nil
		}
		return codec.JSON(), nil
	case FormatCBOR:
		if c := r.Get(ContentCBOR); c != nil {
			return c, nil
		}
		return codec.CBOR()
	case FormatMsgpack:
		if c := r.Get(ContentMsgpack); c != nil {
			return c, nil
		}
		return codec.Msgpack(), nil
	default:
		return nil, fmt.Errorf("unknown format: %d", f)
	}
}

// Encode serializes m using the codec for f and prefixes the frame with a
// single format byte.
func Encode(r *codec.Registry, f Format, m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	c, err := CodecFor(r, f)
	if err != nil {
		return nil, err
	}
	b, err := c.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(b))
	out[0] = byte(f)
	copy(out[1:], b)
	return out, nil
}

// Decode parses a frame produced by Encode and validates the envelope.
// Every failure wraps ErrMalformed so callers can drop without inspecting.
func Decode(r *codec.Registry, frame []byte) (*Message, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("%w: short frame (%d bytes)", ErrMalformed, len(frame))
	}
	f := Format(frame[0])
	c, err := CodecFor(r, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var m Message
	if err := c.Unmarshal(frame[1:], &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &m, nil
}
