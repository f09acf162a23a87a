package memkv

import (
	"testing"
	"time"
)

func newIdle(t *testing.T) *Store {
	t.Helper()
	// Long sweep interval: expiry paths are exercised through the lazy checks
	// with a fake clock, not the background sweeper.
	s := New(Options{SweepInterval: time.Hour})
	t.Cleanup(s.Close)
	return s
}

func TestSetGet(t *testing.T) {
	s := newIdle(t)
	if created := s.Set("k", []byte("v1"), 0); !created {
		t.Fatal("first set must report created")
	}
	if created := s.Set("k", []byte("v2"), 0); created {
		t.Fatal("overwrite must not report created")
	}
	v, ok := s.Get("k")
	if !ok || string(v) != "v2" {
		t.Fatalf("get = %q ok=%v", v, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("missing key found")
	}
}

func TestValueIsolation(t *testing.T) {
	s := newIdle(t)
	in := []byte("abc")
	s.Set("k", in, 0)
	in[0] = 'x'
	v, _ := s.Get("k")
	if string(v) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", v)
	}
	v[0] = 'y'
	v2, _ := s.Get("k")
	if string(v2) != "abc" {
		t.Fatalf("returned value aliased store: %q", v2)
	}
}

func TestExpiry(t *testing.T) {
	s := newIdle(t)
	now := time.Now()
	s.nowFn = func() time.Time { return now }

	s.Set("k", []byte("v"), 100*time.Millisecond)
	if !s.Has("k") {
		t.Fatal("fresh key missing")
	}
	now = now.Add(150 * time.Millisecond)
	if s.Has("k") {
		t.Fatal("expired key still visible")
	}
	if _, ok := s.Get("k"); ok {
		t.Fatal("expired key readable")
	}
	// Expired slot behaves as absent for SetNX.
	if !s.SetNX("k", []byte("v2"), 0) {
		t.Fatal("setnx over expired key refused")
	}
}

func TestSetNX(t *testing.T) {
	s := newIdle(t)
	if !s.SetNX("k", []byte("a"), 0) {
		t.Fatal("first setnx refused")
	}
	if s.SetNX("k", []byte("b"), 0) {
		t.Fatal("second setnx accepted")
	}
	v, _ := s.Get("k")
	if string(v) != "a" {
		t.Fatalf("setnx overwrote: %q", v)
	}
}

func TestGetDelDelete(t *testing.T) {
	s := newIdle(t)
	s.Set("k", []byte("v"), 0)
	v, ok := s.GetDel("k")
	if !ok || string(v) != "v" {
		t.Fatalf("getdel = %q ok=%v", v, ok)
	}
	if s.Has("k") {
		t.Fatal("getdel left key behind")
	}
	s.Set("d", []byte("v"), 0)
	if !s.Delete("d") {
		t.Fatal("delete existing returned false")
	}
	if s.Delete("d") {
		t.Fatal("delete missing returned true")
	}
}

func TestUpdateKeepsTTL(t *testing.T) {
	s := newIdle(t)
	now := time.Now()
	s.nowFn = func() time.Time { return now }

	s.Set("k", []byte("1"), time.Minute)
	_ = s.Update("k", func(old []byte) []byte {
		return append(old, '2')
	})
	v, _ := s.Get("k")
	if string(v) != "12" {
		t.Fatalf("update result = %q", v)
	}
	d, ok := s.TTL("k")
	if !ok || d <= 0 || d > time.Minute {
		t.Fatalf("ttl after update = %v ok=%v", d, ok)
	}
}

func TestUpdateCreates(t *testing.T) {
	s := newIdle(t)
	_ = s.Update("fresh", func(old []byte) []byte {
		if old != nil {
			t.Fatalf("expected nil old, got %q", old)
		}
		return []byte("x")
	})
	v, ok := s.Get("fresh")
	if !ok || string(v) != "x" {
		t.Fatalf("upsert = %q ok=%v", v, ok)
	}
}

func TestExpireAndTTL(t *testing.T) {
	s := newIdle(t)
	s.Set("k", []byte("v"), 0)
	if d, ok := s.TTL("k"); !ok || d != 0 {
		t.Fatalf("no-expiry ttl = %v ok=%v", d, ok)
	}
	if !s.Expire("k", time.Minute) {
		t.Fatal("expire existing refused")
	}
	if d, ok := s.TTL("k"); !ok || d <= 0 {
		t.Fatalf("ttl = %v ok=%v", d, ok)
	}
	if s.Expire("missing", time.Minute) {
		t.Fatal("expire on missing key accepted")
	}
}

func TestKeysPrefix(t *testing.T) {
	s := newIdle(t)
	s.Set("peer:a", nil, 0)
	s.Set("peer:b", nil, 0)
	s.Set("seen:x", nil, 0)
	ks := s.Keys("peer:")
	if len(ks) != 2 {
		t.Fatalf("keys = %v", ks)
	}
	if len(s.Keys("")) != 3 {
		t.Fatal("empty prefix must match all")
	}
}

func TestSweeperRemovesExpired(t *testing.T) {
	s := New(Options{SweepInterval: 10 * time.Millisecond})
	defer s.Close()
	s.Set("k", []byte("v"), 20*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.MetricsSnapshot().Expired > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweeper never collected the expired key")
}

func TestMetrics(t *testing.T) {
	s := newIdle(t)
	s.Set("k", []byte("v"), 0)
	s.Get("k")
	s.Get("nope")
	m := s.MetricsSnapshot()
	if m.Keys != 1 || m.Sets != 1 || m.Hits != 1 || m.Misses != 1 {
		t.Fatalf("metrics = %+v", m)
	}
}
