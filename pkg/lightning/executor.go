// Package lightning defines the payment executor boundary a gateway node
// calls into, plus an in-process simulator for development and tests.
package lightning

import (
	"context"
	"errors"
	"time"
)

// ErrNotInitialized is returned when paying or issuing invoices before Init.
var ErrNotInitialized = errors.New("lightning: executor not initialized")

// Payment is the proof a successful invoice settlement produces.
type Payment struct {
	Hash     string
	Preimage string
}

// Executor is the external payment capability. A node only calls it while in
// gateway role; Init is triggered by the relay→gateway transition so the
// executor is ready before the next request needs local execution.
type Executor interface {
	// Init prepares the executor (wallet/channel state). Idempotent.
	Init(ctx context.Context) error
	// PayInvoice settles an invoice and returns the payment proof.
	PayInvoice(ctx context.Context, invoice string) (Payment, error)
	// CreateInvoice issues an invoice for the given amount. Used by the
	// gateway side to originate its own requests for receiving funds.
	CreateInvoice(ctx context.Context, amountSats uint64, memo string, expiry time.Duration) (string, error)
}
