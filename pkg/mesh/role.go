package mesh

import "sync"

// Role is what a node does with a payment request it processes locally:
// a relay keeps flooding it, a gateway executes it.
type Role int32

const (
	RoleRelay Role = iota
	RoleGateway
)

func (r Role) String() string {
	if r == RoleGateway {
		return "gateway"
	}
	return "relay"
}

// Monitor reports wide-area connectivity. The engine derives its role from it:
// online means gateway, offline means relay. Subscribers are notified on every
// transition.
type Monitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

// ManualMonitor is a Monitor whose state is set programmatically. It backs
// tests and demo runs; a production build would wrap a real reachability probe
// behind the same interface.
type ManualMonitor struct {
	mu     sync.Mutex
	online bool
	seq    int
	subs   map[int]func(bool)
}

func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{online: online, subs: make(map[int]func(bool))}
}

func (m *ManualMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the state and notifies subscribers on change.
func (m *ManualMonitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

func (m *ManualMonitor) Subscribe(fn func(online bool)) (cancel func()) {
	m.mu.Lock()
	m.seq++
	id := m.seq
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
