package mesh

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/marinhotg/mesh-lightning/pkg/memkv"
	"github.com/marinhotg/mesh-lightning/pkg/protocol"
)

// TransferState is the lifecycle of an originated payment request.
type TransferState string

const (
	TransferPending   TransferState = "pending"
	TransferConfirmed TransferState = "confirmed"
	TransferFailed    TransferState = "failed"
)

// Transfer records one originated request and its eventual outcome.
// Correlation is by invoice: a terminal message carries the invoice's payment
// hash or failure for the request that named it.
type Transfer struct {
	MsgID       string        `json:"msg_id"`
	Invoice     string        `json:"invoice"`
	AmountSats  uint64        `json:"amount_sats"`
	Memo        string        `json:"memo,omitempty"`
	State       TransferState `json:"state"`
	PaymentHash string        `json:"payment_hash,omitempty"`
	Preimage    string        `json:"preimage,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	CreatedAt   int64         `json:"created_unix_ms"`
	UpdatedAt   int64         `json:"updated_unix_ms"`
}

// Tracker follows originated requests until a terminal message arrives.
// Terminal messages for invoices it never tracked are ignored, so a node only
// accounts for its own sends.
type Tracker struct {
	kv        *memkv.Store
	retention time.Duration
}

func NewTracker(kv *memkv.Store, retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Tracker{kv: kv, retention: retention}
}

func transferKey(invoice string) string { return "xfer:" + invoice }

// Track registers a freshly originated request as pending.
func (t *Tracker) Track(msgID, invoice string, amountSats uint64, memo string) {
	now := time.Now().UnixMilli()
	b, err := json.Marshal(Transfer{
		MsgID:      msgID,
		Invoice:    invoice,
		AmountSats: amountSats,
		Memo:       memo,
		State:      TransferPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return
	}
	t.kv.Set(transferKey(invoice), b, t.retention)
}

// Resolve applies a terminal message to the matching pending transfer, if any.
// Returns true when a transfer moved to a terminal state. Once terminal, a
// transfer never changes again, so late duplicates are harmless.
func (t *Tracker) Resolve(m *protocol.Message) bool {
	var (
		invoice string
		apply   func(*Transfer)
	)
	switch m.Type {
	case protocol.TypePaymentConfirmation:
		c, ok := m.Confirmation()
		if !ok {
			return false
		}
		invoice = c.Invoice
		apply = func(x *Transfer) {
			x.State = TransferConfirmed
			x.PaymentHash = c.PaymentHash
			x.Preimage = c.Preimage
		}
	case protocol.TypePaymentFailed:
		f, ok := m.Failure()
		if !ok {
			return false
		}
		invoice = f.Invoice
		apply = func(x *Transfer) {
			x.State = TransferFailed
			x.Reason = f.Reason
		}
	default:
		return false
	}

	if !t.kv.Has(transferKey(invoice)) {
		return false
	}
	resolved := false
	_ = t.kv.Update(transferKey(invoice), func(old []byte) []byte {
		var x Transfer
		if old == nil {
			return old
		}
		if err := json.Unmarshal(old, &x); err != nil || x.State != TransferPending {
			return old
		}
		apply(&x)
		x.UpdatedAt = time.Now().UnixMilli()
		b, err := json.Marshal(x)
		if err != nil {
			return old
		}
		resolved = true
		return b
	})
	return resolved
}

// Lookup returns the transfer tracked for an invoice.
func (t *Tracker) Lookup(invoice string) (Transfer, bool) {
	raw, ok := t.kv.Get(transferKey(invoice))
	if !ok || len(raw) == 0 {
		return Transfer{}, false
	}
	var x Transfer
	if err := json.Unmarshal(raw, &x); err != nil {
		return Transfer{}, false
	}
	return x, true
}

// Snapshot returns all tracked transfers, newest first.
func (t *Tracker) Snapshot() []Transfer {
	keys := t.kv.Keys("xfer:")
	out := make([]Transfer, 0, len(keys))
	for _, k := range keys {
		raw, ok := t.kv.Get(k)
		if !ok || len(raw) == 0 {
			continue
		}
		var x Transfer
		if err := json.Unmarshal(raw, &x); err != nil {
			continue
		}
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}
