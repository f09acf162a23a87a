package lightning

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Simulator is a deterministic in-process Executor. Hashes and preimages are
// derived with a non-cryptographic hash, mirroring the weak-hash behavior of
// the system it simulates; it is not suitable for real funds.
type Simulator struct {
	mu      sync.Mutex
	inited  atomic.Bool
	latency time.Duration
	seq     uint64

	// FailWith, when set, makes every PayInvoice return this error message
	// as a payment failure. Used by tests and demos.
	FailWith string
}

// NewSimulator creates a simulator with optional artificial latency.
func NewSimulator(latency time.Duration) *Simulator {
	return &Simulator{latency: latency}
}

func (s *Simulator) Init(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.inited.Store(true)
	return nil
}

// Ready reports whether Init has completed.
func (s *Simulator) Ready() bool { return s.inited.Load() }

func (s *Simulator) PayInvoice(ctx context.Context, invoice string) (Payment, error) {
	if !s.inited.Load() {
		return Payment{}, ErrNotInitialized
	}
	invoice = strings.TrimSpace(invoice)
	if invoice == "" {
		return Payment{}, fmt.Errorf("empty invoice")
	}
	if err := s.sleep(ctx); err != nil {
		return Payment{}, err
	}
	s.mu.Lock()
	fail := s.FailWith
	s.mu.Unlock()
	if fail != "" {
		return Payment{}, fmt.Errorf("%s", fail)
	}
	return Payment{
		Hash:     digest("hash:" + invoice),
		Preimage: digest("preimage:" + invoice),
	}, nil
}

func (s *Simulator) CreateInvoice(ctx context.Context, amountSats uint64, memo string, expiry time.Duration) (string, error) {
	if !s.inited.Load() {
		return "", ErrNotInitialized
	}
	if err := s.sleep(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.seq++
	n := s.seq
	s.mu.Unlock()
	// Shape resembles a bolt11 invoice enough for display; opaque to the mesh.
	return fmt.Sprintf("lnsim%d%s", amountSats, digest(fmt.Sprintf("%d:%s:%d", n, memo, expiry))), nil
}

// SetFailure arms or clears (empty string) failure injection.
func (s *Simulator) SetFailure(reason string) {
	s.mu.Lock()
	s.FailWith = reason
	s.mu.Unlock()
}

func (s *Simulator) sleep(ctx context.Context) error {
	if s.latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.latency):
		return nil
	}
}

func digest(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
