package codec

import "testing"

func TestJSONCodec(t *testing.T) {
	c := JSON()
	in := map[string]any{"a": 1, "b": "x"}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["a"].(float64) != 1 || out["b"].(string) != "x" {
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestCBORCodec(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	in := map[string]any{"n": 42}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	switch n := out["n"].(type) {
	case uint64:
		if n != 42 {
			t.Fatalf("roundtrip mismatch: %#v", out)
		}
	case int64:
		if n != 42 {
			t.Fatalf("roundtrip mismatch: %#v", out)
		}
	case float64:
		if n != 42 {
			t.Fatalf("roundtrip mismatch: %#v", out)
		}
	default:
		t.Fatalf("unexpected number type %T", out["n"])
	}
}

func TestMsgpackCodec(t *testing.T) {
	c := Msgpack()
	type pt struct {
		X int    `msgpack:"x"`
		Y string `msgpack:"y"`
	}
	in := pt{X: 7, Y: "ok"}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out pt
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Get(JSON().ContentType()) == nil {
		t.Fatal("json not preloaded")
	}
	if r.Get(Msgpack().ContentType()) == nil {
		t.Fatal("msgpack not preloaded")
	}
	if r.Get("application/cbor") != nil {
		t.Fatal("cbor must require explicit registration")
	}
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	r.Register(c)
	if r.Get(c.ContentType()) == nil {
		t.Fatal("cbor not registered")
	}
}
