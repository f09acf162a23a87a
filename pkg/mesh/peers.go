package mesh

import (
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/marinhotg/mesh-lightning/pkg/memkv"
	"github.com/marinhotg/mesh-lightning/pkg/transport"
)

// PeerMeta is the stored view of a nearby peer, whether it came from a
// discovery scan or from an established link.
type PeerMeta struct {
	ID        transport.PeerID `json:"id"`
	Name      string           `json:"name,omitempty"`
	Addr      string           `json:"addr,omitempty"`
	Kind      string           `json:"kind,omitempty"`
	RSSI      int              `json:"rssi,omitempty"`
	Connected bool             `json:"connected"`
	LastSeen  int64            `json:"last_seen_unix_ms"`
	MsgsIn    uint64           `json:"msgs_in"`
	MsgsOut   uint64           `json:"msgs_out"`
}

// Info rebuilds the transport-level view used when dialing this peer.
func (p PeerMeta) Info() transport.PeerInfo {
	return transport.PeerInfo{
		ID:   p.ID,
		Name: p.Name,
		Addr: p.Addr,
		RSSI: p.RSSI,
		Kind: transport.ParseKind(p.Kind),
	}
}

// PeerTable holds nearby peers with a sliding freshness TTL. Peers that stop
// being observed age out; observing one again refreshes it. The table is the
// sole source of broadcast fan-out targets.
type PeerTable struct {
	kv  *memkv.Store
	ttl time.Duration
}

func NewPeerTable(kv *memkv.Store, ttl time.Duration) *PeerTable {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PeerTable{kv: kv, ttl: ttl}
}

func peerKey(id transport.PeerID) string { return "peer:" + string(id) }

// Observe upserts a peer seen in a discovery scan or on link establishment,
// refreshing its freshness TTL and signal data.
func (t *PeerTable) Observe(pi transport.PeerInfo) {
	if pi.ID == "" {
		return
	}
	t.mutate(pi.ID, func(m *PeerMeta) {
		m.ID = pi.ID
		if pi.Name != "" {
			m.Name = pi.Name
		}
		if pi.Addr != "" {
			m.Addr = pi.Addr
		}
		if pi.Kind != transport.KindUnknown {
			m.Kind = pi.Kind.String()
		}
		m.RSSI = pi.RSSI
		m.LastSeen = time.Now().UnixMilli()
	})
}

// MarkConnected flips the live-link flag for a peer.
func (t *PeerTable) MarkConnected(id transport.PeerID, connected bool) {
	t.mutate(id, func(m *PeerMeta) {
		m.ID = id
		m.Connected = connected
		m.LastSeen = time.Now().UnixMilli()
	})
}

// RecordExchange bumps the per-peer message counters.
func (t *PeerTable) RecordExchange(id transport.PeerID, in, out uint64) {
	t.mutate(id, func(m *PeerMeta) {
		m.ID = id
		m.MsgsIn += in
		m.MsgsOut += out
		m.LastSeen = time.Now().UnixMilli()
	})
}

// Rename moves a peer record to a new id, merging counters into any existing
// record under the new id. Used when a provisional link identity resolves to
// the real node id.
func (t *PeerTable) Rename(oldID, newID transport.PeerID) {
	if oldID == newID || newID == "" {
		return
	}
	raw, ok := t.kv.GetDel(peerKey(oldID))
	if !ok {
		return
	}
	var old PeerMeta
	if err := json.Unmarshal(raw, &old); err != nil {
		return
	}
	t.mutate(newID, func(m *PeerMeta) {
		m.ID = newID
		if m.Name == "" {
			m.Name = old.Name
		}
		if m.Addr == "" {
			m.Addr = old.Addr
		}
		if m.Kind == "" {
			m.Kind = old.Kind
		}
		m.Connected = m.Connected || old.Connected
		m.MsgsIn += old.MsgsIn
		m.MsgsOut += old.MsgsOut
		if old.LastSeen > m.LastSeen {
			m.LastSeen = old.LastSeen
		}
	})
}

// Remove drops a peer record.
func (t *PeerTable) Remove(id transport.PeerID) { t.kv.Delete(peerKey(id)) }

// Get returns the stored record for a peer.
func (t *PeerTable) Get(id transport.PeerID) (PeerMeta, bool) {
	raw, ok := t.kv.Get(peerKey(id))
	if !ok {
		return PeerMeta{}, false
	}
	var m PeerMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return PeerMeta{}, false
	}
	return m, true
}

// List returns all live peer records, ordered by id for stable output.
func (t *PeerTable) List() []PeerMeta {
	keys := t.kv.Keys("peer:")
	out := make([]PeerMeta, 0, len(keys))
	for _, k := range keys {
		raw, ok := t.kv.Get(k)
		if !ok {
			continue
		}
		var m PeerMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			zap.L().Warn("corrupt peer record dropped", zap.String("key", k), zap.Error(err))
			t.kv.Delete(k)
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Fanout returns broadcast targets: every live peer whose id is not in the
// exclusion list. Exclusion is exact id match; peers the message has already
// visited are filtered here so a flood never re-offers a frame to a hop.
func (t *PeerTable) Fanout(exclude []string) []PeerMeta {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	all := t.List()
	out := all[:0]
	for _, m := range all {
		if _, ok := skip[string(m.ID)]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (t *PeerTable) mutate(id transport.PeerID, fn func(*PeerMeta)) {
	key := peerKey(id)
	_ = t.kv.Update(key, func(old []byte) []byte {
		var m PeerMeta
		if old != nil {
			if err := json.Unmarshal(old, &m); err != nil {
				m = PeerMeta{}
			}
		}
		fn(&m)
		b, err := json.Marshal(m)
		if err != nil {
			return old
		}
		return b
	})
	// Update keeps the existing TTL; refresh the freshness window explicitly.
	t.kv.Expire(key, t.ttl)
}
