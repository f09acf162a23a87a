package transport

import (
	"sort"
	"sync"
	"time"
)

// Manager keeps at most one canonical Link per peer and applies a policy to
// deduplicate concurrent inbound/outbound links.
type Manager struct {
	mu    sync.RWMutex
	peers map[PeerID]*peerEntry
}

type peerEntry struct {
	canonical Link
	addedAt   time.Time
}

func NewManager() *Manager { return &Manager{peers: make(map[PeerID]*peerEntry)} }

// AddLink registers a new link for a peer and applies the selection policy.
// If the link loses the election it is closed and (false, false) is returned.
// If it becomes canonical and replaced an existing one, (true, true); first
// link for the peer returns (true, false).
func (m *Manager) AddLink(l Link) (accepted bool, replaced bool) {
	pid := l.Peer().ID
	m.mu.Lock()
	defer m.mu.Unlock()

	pe := m.peers[pid]
	if pe == nil {
		m.peers[pid] = &peerEntry{canonical: l, addedAt: time.Now()}
		return true, false
	}

	if better(l, pe.canonical) {
		old := pe.canonical
		pe.canonical = l
		pe.addedAt = time.Now()
		go func() { _ = old.Close() }()
		return true, true
	}

	// reject new link politely
	_ = l.Close()
	return false, false
}

// Get returns the current canonical link for a peer (if any).
func (m *Manager) Get(id PeerID) Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pe := m.peers[id]; pe != nil {
		return pe.canonical
	}
	return nil
}

// Drop forgets the entry for id without closing the link; used when a link
// reports itself closed.
func (m *Manager) Drop(id PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
}

// ClosePeer closes the canonical link for a peer and clears it.
func (m *Manager) ClosePeer(id PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pe := m.peers[id]; pe != nil {
		if pe.canonical != nil {
			_ = pe.canonical.Close()
		}
		delete(m.peers, id)
	}
}

// CloseAll closes every link.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pe := range m.peers {
		if pe.canonical != nil {
			_ = pe.canonical.Close()
		}
		delete(m.peers, id)
	}
}

// ListPeers returns all peer ids with a canonical link, sorted.
func (m *Manager) ListPeers() []PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rebind moves the canonical link from oldID to newID once the real node
// identity becomes known (first mesh frame on an inbound link). If newID
// already has a canonical link, the policy decides which survives.
// Returns true when newID ends up holding the moved link.
func (m *Manager) Rebind(oldID, newID PeerID) bool {
	if oldID == newID || newID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.peers[oldID]
	if src == nil || src.canonical == nil {
		return false
	}
	moving := src.canonical
	delete(m.peers, oldID)

	if mp, ok := moving.(MutablePeer); ok {
		pi := moving.Peer()
		pi.ID = newID
		mp.SetPeer(pi)
	}

	dst := m.peers[newID]
	if dst == nil || dst.canonical == nil {
		m.peers[newID] = &peerEntry{canonical: moving, addedAt: time.Now()}
		return true
	}
	if better(moving, dst.canonical) {
		old := dst.canonical
		dst.canonical = moving
		dst.addedAt = time.Now()
		go func() { _ = old.Close() }()
		return true
	}
	go func() { _ = moving.Close() }()
	return false
}

// Preference order across kinds; higher is better.
func baseRank(k Kind) int {
	switch k {
	case KindMem:
		return 120
	case KindQUIC:
		return 100
	case KindTCP:
		return 90
	default:
		return 0
	}
}

// better decides whether a should replace b as canonical.
func better(a, b Link) bool {
	ra := baseRank(a.Peer().Kind)
	rb := baseRank(b.Peer().Kind)
	if ra != rb {
		return ra > rb
	}
	// Same kind: prefer the stronger signal when the hint is present.
	return a.Peer().RSSI > b.Peer().RSSI
}
