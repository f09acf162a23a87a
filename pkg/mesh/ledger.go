package mesh

import (
	"time"

	"github.com/marinhotg/mesh-lightning/pkg/memkv"
)

// Ledger tracks message ids this node has already handled. It breaks
// forwarding loops and guarantees at-most-once local processing. Entries
// expire after the retention window, which bounds growth over a long-lived
// process; retention is far above any flood's lifetime, so expiry never
// reopens a live message to reprocessing.
type Ledger struct {
	kv        *memkv.Store
	retention time.Duration
}

func NewLedger(kv *memkv.Store, retention time.Duration) *Ledger {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Ledger{kv: kv, retention: retention}
}

func ledgerKey(id string) string { return "seen:" + id }

// Seen reports whether id was already handled.
func (l *Ledger) Seen(id string) bool { return l.kv.Has(ledgerKey(id)) }

// Mark records id as handled. Returns true on first insertion.
func (l *Ledger) Mark(id string) bool {
	return l.kv.SetNX(ledgerKey(id), []byte{1}, l.retention)
}
