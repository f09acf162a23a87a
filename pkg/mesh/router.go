package mesh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/marinhotg/mesh-lightning/pkg/lightning"
	"github.com/marinhotg/mesh-lightning/pkg/protocol"
	"github.com/marinhotg/mesh-lightning/pkg/protocol/codec"
	"github.com/marinhotg/mesh-lightning/pkg/transport"
)

var (
	// ErrEmptyInvoice rejects origination without an invoice to pay.
	ErrEmptyInvoice = errors.New("mesh: empty invoice")
	// ErrNoIdentity rejects origination before the node identity is known.
	ErrNoIdentity = errors.New("mesh: node identity not initialized")
	// ErrClosed is returned by operations on a stopped engine.
	ErrClosed = errors.New("mesh: engine closed")
	// ErrPeerUnreachable marks a fan-out target with no link and no way to dial.
	ErrPeerUnreachable = errors.New("mesh: peer unreachable")
)

// Config tunes an Engine.
type Config struct {
	NodeID     string
	DefaultTTL int             // hop budget for originated messages
	Format     protocol.Format // wire encoding for outbound frames
	ScanWindow time.Duration   // discovery scan duration
	QueueSize  int             // routing event queue depth
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = protocol.DefaultTTL
	}
	if c.Format == protocol.FormatUnknown {
		c.Format = protocol.FormatJSON
	}
	if c.ScanWindow <= 0 {
		c.ScanWindow = 30 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Deps are the collaborators an Engine routes through.
type Deps struct {
	Registry *codec.Registry
	Ledger   *Ledger
	Peers    *PeerTable
	Links    *transport.Manager
	Tracker  *Tracker
	Executor lightning.Executor
	Monitor  Monitor
	Dialer   Dialer
	Logger   *zap.Logger
}

type evKind int

const (
	evInbound  evKind = iota // frame received from a peer link
	evOutbound               // locally created, direct link preferred
	evFanout                 // locally created, flood as-is
	evRole                   // connectivity transition
)

type event struct {
	kind   evKind
	from   transport.PeerID
	msg    *protocol.Message
	online bool
}

// Engine is the routing core. Every decision about a message, process, forward
// or drop, happens on its single loop goroutine; the ledger insert always lands
// before any operation that could yield, so a duplicate arriving mid-payment is
// still rejected.
type Engine struct {
	cfg     Config
	log     *zap.Logger
	reg     *codec.Registry
	ledger  *Ledger
	peers   *PeerTable
	links   *transport.Manager
	events  *Events
	tracker *Tracker
	bridge  *bridge
	dialer  Dialer

	role      atomic.Int32
	evCh      chan event
	done      chan struct{}
	closeOnce sync.Once
	monCancel func()

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine wires the engine and starts its routing loop. The initial role
// comes from the monitor; when it starts online the payment executor is warmed
// up immediately.
func NewEngine(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	log := deps.Logger
	if log == nil {
		log = zap.L()
	}
	log = log.With(zap.String("node_id", cfg.NodeID))

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		log:     log,
		reg:     deps.Registry,
		ledger:  deps.Ledger,
		peers:   deps.Peers,
		links:   deps.Links,
		events:  NewEvents(),
		tracker: deps.Tracker,
		dialer:  deps.Dialer,
		evCh:    make(chan event, cfg.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	if e.reg == nil {
		e.reg = codec.NewRegistry()
	}
	e.bridge = newBridge(deps.Executor, cfg.NodeID, cfg.DefaultTTL, log, e.emitOutbound)

	online := deps.Monitor != nil && deps.Monitor.Online()
	if online {
		e.role.Store(int32(RoleGateway))
		go e.bridge.warmup(e.ctx)
	}
	if deps.Monitor != nil {
		e.monCancel = deps.Monitor.Subscribe(func(on bool) {
			e.enqueue(event{kind: evRole, online: on})
		})
	}

	go e.loop()
	log.Info("routing engine started", zap.String("role", e.Role().String()),
		zap.Int("default_ttl", cfg.DefaultTTL), zap.String("format", cfg.Format.String()))
	return e
}

// NodeID returns this node's mesh identity.
func (e *Engine) NodeID() string { return e.cfg.NodeID }

// Role returns the current role snapshot.
func (e *Engine) Role() Role { return Role(e.role.Load()) }

// Subscribe registers a listener for locally processed messages.
func (e *Engine) Subscribe(fn Listener) (cancel func()) { return e.events.Subscribe(fn) }

// Close stops the routing loop and the monitor subscription. Links are owned
// by the caller and stay open.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.monCancel != nil {
			e.monCancel()
		}
		e.cancel()
		<-e.done
	})
}

// Originate creates a payment request for the given invoice and injects it
// into the mesh. It returns the message id as soon as the request is queued;
// fan-out happens on the routing loop and is never awaited.
func (e *Engine) Originate(invoice string, amountSats uint64, memo string) (string, error) {
	invoice = strings.TrimSpace(invoice)
	if invoice == "" {
		return "", ErrEmptyInvoice
	}
	if e.cfg.NodeID == "" {
		return "", ErrNoIdentity
	}
	m := protocol.NewRequest(e.cfg.NodeID, invoice, amountSats, memo, e.cfg.DefaultTTL)
	if e.tracker != nil {
		e.tracker.Track(m.ID, invoice, amountSats, memo)
	}
	if !e.enqueue(event{kind: evFanout, msg: m}) {
		return "", ErrClosed
	}
	return m.ID, nil
}

// Receive is the transport ingest path; it satisfies transport.Receiver.
// Malformed frames are dropped here and never reach the routing loop.
func (e *Engine) Receive(from transport.PeerID, frame []byte) {
	m, err := protocol.Decode(e.reg, frame)
	if err != nil {
		e.log.Debug("dropped malformed frame", zap.String("from", string(from)), zap.Error(err))
		return
	}
	e.enqueue(event{kind: evInbound, from: from, msg: m})
}

// AddLink registers an established link with the canonical-link policy and the
// peer table.
func (e *Engine) AddLink(l transport.Link) {
	pi := l.Peer()
	accepted, replaced := e.links.AddLink(l)
	if !accepted {
		e.log.Debug("redundant link rejected", zap.String("peer", string(pi.ID)))
		return
	}
	e.peers.Observe(pi)
	e.peers.MarkConnected(pi.ID, true)
	e.log.Info("peer link up", zap.String("peer", string(pi.ID)),
		zap.String("kind", pi.Kind.String()), zap.Bool("replaced", replaced))
}

// PeerClosed tells the engine a link went away.
func (e *Engine) PeerClosed(id transport.PeerID) {
	e.links.Drop(id)
	e.peers.MarkConnected(id, false)
	e.log.Info("peer link down", zap.String("peer", string(id)))
}

// Scan runs one time-boxed discovery pass and records everything it sees in
// the peer table. Returns the number of peers observed.
func (e *Engine) Scan(ctx context.Context, d transport.Discoverer) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ScanWindow)
	defer cancel()
	ch, err := d.Discover(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for pi := range ch {
		e.peers.Observe(pi)
		n++
	}
	e.log.Debug("discovery scan finished", zap.Int("peers", n))
	return n, nil
}

func (e *Engine) enqueue(ev event) bool {
	select {
	case <-e.ctx.Done():
		return false
	case e.evCh <- ev:
		return true
	default:
		// Best-effort mesh: shedding under overload beats blocking a
		// transport read loop.
		e.log.Warn("routing queue full, event dropped", zap.Int("queue", e.cfg.QueueSize))
		return false
	}
}

// emitOutbound is the bridge's path back into the loop.
func (e *Engine) emitOutbound(m *protocol.Message) {
	e.enqueue(event{kind: evOutbound, msg: m})
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev := <-e.evCh:
			switch ev.kind {
			case evInbound:
				e.route(ev.from, ev.msg)
			case evOutbound:
				e.sendAddressed(ev.msg)
			case evFanout:
				e.fanout(ev.msg)
			case evRole:
				e.switchRole(ev.online)
			}
		}
	}
}

// route applies the receive pipeline to one inbound message: identify the
// neighbor, reject duplicates, then either pass on a message addressed to
// someone else or process it locally.
func (e *Engine) route(from transport.PeerID, m *protocol.Message) {
	from = e.rebindTemp(from, m)
	if from != "" {
		e.peers.RecordExchange(from, 1, 0)
	}

	if e.ledger.Seen(m.ID) {
		e.log.Debug("dropped duplicate", zap.String("msg_id", m.ID))
		return
	}

	if m.RecipientID != "" && m.RecipientID != e.cfg.NodeID {
		e.forward(m)
		return
	}

	// Local processing. The ledger insert precedes the bridge handoff, so a
	// second copy arriving while the payment is in flight is a duplicate.
	e.ledger.Mark(m.ID)
	if e.tracker != nil && e.tracker.Resolve(m) {
		e.log.Info("transfer resolved", zap.String("msg_id", m.ID), zap.String("type", string(m.Type)))
	}
	e.events.notify(m)

	if m.Type == protocol.TypePaymentRequest {
		if e.Role() == RoleGateway {
			e.log.Info("executing payment request", zap.String("msg_id", m.ID),
				zap.String("origin", m.SenderID))
			go e.bridge.handle(e.ctx, m.Clone())
		} else {
			e.forward(m)
		}
	}
}

// forward relays a message that is not (or not only) ours to handle: drop on a
// hop-list loop or an exhausted budget, otherwise stamp this node into the
// path, spend one TTL unit and flood.
func (e *Engine) forward(m *protocol.Message) {
	if m.HasHop(e.cfg.NodeID) {
		e.log.Debug("dropped looped message", zap.String("msg_id", m.ID))
		return
	}
	if m.TTL <= 0 {
		e.log.Debug("dropped expired message", zap.String("msg_id", m.ID))
		return
	}
	e.ledger.Mark(m.ID)

	fwd := m.Clone()
	fwd.Hops = append(fwd.Hops, e.cfg.NodeID)
	fwd.TTL--
	e.fanout(fwd)
}

func (e *Engine) switchRole(online bool) {
	next := RoleRelay
	if online {
		next = RoleGateway
	}
	prev := Role(e.role.Swap(int32(next)))
	if prev == next {
		return
	}
	e.log.Info("role changed", zap.String("from", prev.String()), zap.String("to", next.String()))
	if next == RoleGateway {
		go e.bridge.warmup(e.ctx)
	}
}

// rebindTemp resolves a provisional inbound link identity using the sender
// path: the last hop of a well-formed message is the neighbor that sent it.
func (e *Engine) rebindTemp(from transport.PeerID, m *protocol.Message) transport.PeerID {
	if !transport.IsTemp(from) || len(m.Hops) == 0 {
		return from
	}
	neighbor := transport.PeerID(m.Hops[len(m.Hops)-1])
	if neighbor == "" || neighbor == transport.PeerID(e.cfg.NodeID) {
		return from
	}
	if e.links.Rebind(from, neighbor) {
		e.peers.Rename(from, neighbor)
		e.peers.MarkConnected(neighbor, true)
		e.log.Debug("inbound link identified", zap.String("temp", string(from)),
			zap.String("peer", string(neighbor)))
		return neighbor
	}
	return from
}
