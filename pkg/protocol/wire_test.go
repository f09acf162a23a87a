package protocol

import (
	"errors"
	"testing"

	"github.com/marinhotg/mesh-lightning/pkg/protocol/codec"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	reg := codec.NewRegistry()
	for _, f := range []Format{FormatJSON, FormatCBOR, FormatMsgpack} {
		in := NewRequest("node-a", "lnbc1xyz", 2100, "coffee", 7)
		in.Hops = []string{"node-a", "node-b"}

		frame, err := Encode(reg, f, in)
		if err != nil {
			t.Fatalf("%v encode: %v", f, err)
		}
		if frame[0] != byte(f) {
			t.Fatalf("%v format byte = %d", f, frame[0])
		}
		out, err := Decode(reg, frame)
		if err != nil {
			t.Fatalf("%v decode: %v", f, err)
		}
		if out.ID != in.ID || out.Type != in.Type || out.SenderID != in.SenderID {
			t.Fatalf("%v envelope mismatch: %+v", f, out)
		}
		if out.TTL != 7 || len(out.Hops) != 2 || out.Hops[1] != "node-b" {
			t.Fatalf("%v relay fields mismatch: ttl=%d hops=%v", f, out.TTL, out.Hops)
		}
		if out.Payload.Invoice != "lnbc1xyz" || out.Payload.Amount != 2100 {
			t.Fatalf("%v payload mismatch: %+v", f, out.Payload)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	reg := codec.NewRegistry()
	cases := map[string][]byte{
		"empty":       nil,
		"short":       {byte(FormatJSON)},
		"bad format":  {0xEE, '{', '}'},
		"garbage":     {byte(FormatJSON), 0x00, 0x01, 0x02},
		"not message": append([]byte{byte(FormatJSON)}, []byte(`{"id":""}`)...),
	}
	for name, frame := range cases {
		if _, err := Decode(reg, frame); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: err = %v, want ErrMalformed", name, err)
		}
	}
}

func TestDecodeRejectsInvalidEnvelope(t *testing.T) {
	reg := codec.NewRegistry()
	m := NewRequest("node-a", "inv", 1, "", 5)
	m.SenderID = ""
	c, err := CodecFor(reg, FormatJSON)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	body, err := c.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	frame := append([]byte{byte(FormatJSON)}, body...)
	if _, err := Decode(reg, frame); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("json") != FormatJSON || ParseFormat(" CBOR ") != FormatCBOR ||
		ParseFormat("msgpack") != FormatMsgpack || ParseFormat("xml") != FormatUnknown {
		t.Fatal("format parsing wrong")
	}
}
