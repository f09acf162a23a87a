package mesh

import (
	"sync"

	"go.uber.org/zap"

	"github.com/marinhotg/mesh-lightning/pkg/protocol"
)

// Listener observes messages the local node processed (delivered to it or
// broadcast without a recipient). Listeners run on the routing goroutine and
// must not block; a panicking listener is logged and does not disturb routing
// or other listeners.
type Listener func(*protocol.Message)

// Events is a minimal subscription hub for locally processed messages.
type Events struct {
	mu   sync.RWMutex
	seq  int
	subs map[int]Listener
}

func NewEvents() *Events {
	return &Events{subs: make(map[int]Listener)}
}

// Subscribe registers fn and returns its cancel function. Cancel is idempotent.
func (e *Events) Subscribe(fn Listener) (cancel func()) {
	e.mu.Lock()
	e.seq++
	id := e.seq
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// notify delivers m to every listener. Each listener gets its own defensive
// copy so one cannot mutate what another sees.
func (e *Events) notify(m *protocol.Message) {
	e.mu.RLock()
	fns := make([]Listener, 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		e.call(fn, m.Clone())
	}
}

func (e *Events) call(fn Listener, m *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("message listener panicked", zap.Any("panic", r), zap.String("msg_id", m.ID))
		}
	}()
	fn(m)
}
