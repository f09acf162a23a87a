package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the hop budget assigned to locally originated messages.
const DefaultTTL = 10

// Message is the relay protocol's unit of transmission. A message is created
// once by its originator and then carried peer to peer; only Hops and TTL are
// touched in flight.
type Message struct {
	// ID is globally unique, assigned at creation, never regenerated in relay.
	// It is the dedup key for at-most-once local processing.
	ID string `json:"id" cbor:"id" msgpack:"id"`
	// Type selects the payload variant and the routing behavior.
	Type Type `json:"type" cbor:"type" msgpack:"type"`
	// Timestamp is creation time in unix milliseconds. Informational only;
	// the protocol neither orders nor expires by it.
	Timestamp int64 `json:"timestamp" cbor:"timestamp" msgpack:"timestamp"`
	// SenderID is the identity of the originating node.
	SenderID string `json:"senderId" cbor:"senderId" msgpack:"senderId"`
	// RecipientID, when set, addresses the message to exactly one node; every
	// other node forwards and never processes.
	RecipientID string `json:"recipientId,omitempty" cbor:"recipientId,omitempty" msgpack:"recipientId,omitempty"`
	// Payload carries the variant fields for Type.
	Payload Payload `json:"payload" cbor:"payload" msgpack:"payload"`
	// Hops is the ordered list of node identities that already handled the
	// message; loop prevention and fan-out exclusion both read it.
	Hops []string `json:"hops" cbor:"hops" msgpack:"hops"`
	// TTL is the remaining forward budget; it only ever decreases.
	TTL int `json:"ttl" cbor:"ttl" msgpack:"ttl"`
}

// Payload is the wire shape of the per-type payload object. One flat struct
// keeps the frame identical across JSON/CBOR/msgpack; typed accessors on
// Message expose the variant views.
type Payload struct {
	Invoice     string `json:"invoice,omitempty" cbor:"invoice,omitempty" msgpack:"invoice,omitempty"`
	Amount      uint64 `json:"amount,omitempty" cbor:"amount,omitempty" msgpack:"amount,omitempty"`
	Memo        string `json:"memo,omitempty" cbor:"memo,omitempty" msgpack:"memo,omitempty"`
	PaymentHash string `json:"paymentHash,omitempty" cbor:"paymentHash,omitempty" msgpack:"paymentHash,omitempty"`
	Preimage    string `json:"preimage,omitempty" cbor:"preimage,omitempty" msgpack:"preimage,omitempty"`
	Reason      string `json:"reason,omitempty" cbor:"reason,omitempty" msgpack:"reason,omitempty"`
}

// PaymentRequest asks any gateway to settle an invoice.
type PaymentRequest struct {
	Invoice string
	Amount  uint64
	Memo    string
}

// PaymentConfirmation proves a request's invoice was paid.
type PaymentConfirmation struct {
	PaymentHash string
	Invoice     string
	Preimage    string
}

// PaymentFailed reports a terminal payment failure back to the originator.
type PaymentFailed struct {
	Invoice string
	Reason  string
}

// NewID returns a fresh message identifier.
func NewID() string { return "msg-" + uuid.NewString() }

// NewRequest builds a locally originated payment request with hops seeded to
// the origin and the given hop budget.
func NewRequest(sender, invoice string, amount uint64, memo string, ttl int) *Message {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Message{
		ID:        NewID(),
		Type:      TypePaymentRequest,
		Timestamp: time.Now().UnixMilli(),
		SenderID:  sender,
		Payload:   Payload{Invoice: invoice, Amount: amount, Memo: memo},
		Hops:      []string{sender},
		TTL:       ttl,
	}
}

// NewConfirmation builds a confirmation addressed to the request's originator.
func NewConfirmation(sender, recipient string, c PaymentConfirmation, ttl int) *Message {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Message{
		ID:          NewID(),
		Type:        TypePaymentConfirmation,
		Timestamp:   time.Now().UnixMilli(),
		SenderID:    sender,
		RecipientID: recipient,
		Payload:     Payload{PaymentHash: c.PaymentHash, Invoice: c.Invoice, Preimage: c.Preimage},
		Hops:        []string{sender},
		TTL:         ttl,
	}
}

// NewFailed builds a failure notice addressed to the request's originator.
func NewFailed(sender, recipient string, f PaymentFailed, ttl int) *Message {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Message{
		ID:          NewID(),
		Type:        TypePaymentFailed,
		Timestamp:   time.Now().UnixMilli(),
		SenderID:    sender,
		RecipientID: recipient,
		Payload:     Payload{Invoice: f.Invoice, Reason: f.Reason},
		Hops:        []string{sender},
		TTL:         ttl,
	}
}

// Validate checks the required envelope fields. A message failing Validate is
// dropped at the receive path, never surfaced as an error to peers.
func (m *Message) Validate() error {
	if m == nil {
		return errors.New("nil message")
	}
	if m.ID == "" {
		return errors.New("missing id")
	}
	if m.SenderID == "" {
		return errors.New("missing senderId")
	}
	if m.Type == "" {
		return errors.New("missing type")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("unknown type %q", m.Type)
	}
	if m.TTL < 0 {
		return fmt.Errorf("negative ttl %d", m.TTL)
	}
	return nil
}

// Request returns the PaymentRequest view of the payload.
func (m *Message) Request() (PaymentRequest, bool) {
	if m.Type != TypePaymentRequest || m.Payload.Invoice == "" {
		return PaymentRequest{}, false
	}
	return PaymentRequest{Invoice: m.Payload.Invoice, Amount: m.Payload.Amount, Memo: m.Payload.Memo}, true
}

// Confirmation returns the PaymentConfirmation view of the payload.
func (m *Message) Confirmation() (PaymentConfirmation, bool) {
	if m.Type != TypePaymentConfirmation || m.Payload.PaymentHash == "" {
		return PaymentConfirmation{}, false
	}
	return PaymentConfirmation{PaymentHash: m.Payload.PaymentHash, Invoice: m.Payload.Invoice, Preimage: m.Payload.Preimage}, true
}

// Failure returns the PaymentFailed view of the payload.
func (m *Message) Failure() (PaymentFailed, bool) {
	if m.Type != TypePaymentFailed {
		return PaymentFailed{}, false
	}
	return PaymentFailed{Invoice: m.Payload.Invoice, Reason: m.Payload.Reason}, true
}

// HasHop reports whether id already appears in the hop list.
func (m *Message) HasHop(id string) bool {
	for _, h := range m.Hops {
		if h == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy; forwarding mutates Hops/TTL on the copy so the
// caller's message stays untouched.
func (m *Message) Clone() *Message {
	out := *m
	out.Hops = append([]string(nil), m.Hops...)
	return &out
}
