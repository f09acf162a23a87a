package mesh

import (
	"context"

	"go.uber.org/zap"

	"github.com/marinhotg/mesh-lightning/pkg/lightning"
	"github.com/marinhotg/mesh-lightning/pkg/protocol"
)

// bridge executes a delivered payment request against the lightning executor
// and turns the outcome into exactly one terminal message addressed back to
// the request's originator. It runs off the routing loop; the engine marks the
// request in the ledger before handing it over.
type bridge struct {
	exec lightning.Executor
	node string
	ttl  int
	log  *zap.Logger
	emit func(*protocol.Message)
}

func newBridge(exec lightning.Executor, node string, ttl int, log *zap.Logger, emit func(*protocol.Message)) *bridge {
	return &bridge{exec: exec, node: node, ttl: ttl, log: log, emit: emit}
}

// warmup prepares the executor on entry to gateway role so the first request
// does not pay the initialization cost.
func (b *bridge) warmup(ctx context.Context) {
	if b.exec == nil {
		return
	}
	if err := b.exec.Init(ctx); err != nil {
		b.log.Warn("lightning executor init failed", zap.Error(err))
		return
	}
	b.log.Info("lightning executor ready")
}

// handle settles one request. Success produces a PaymentConfirmation carrying
// hash and preimage; any execution error produces a PaymentFailed carrying the
// reason. Both are addressed to the originator and re-enter the routing loop
// as outbound messages.
func (b *bridge) handle(ctx context.Context, req *protocol.Message) {
	pr, ok := req.Request()
	if !ok {
		b.log.Warn("payment request without invoice dropped", zap.String("msg_id", req.ID))
		return
	}
	if b.exec == nil {
		b.emit(protocol.NewFailed(b.node, req.SenderID,
			protocol.PaymentFailed{Invoice: pr.Invoice, Reason: "no payment executor configured"}, b.ttl))
		return
	}

	pay, err := b.exec.PayInvoice(ctx, pr.Invoice)
	if err != nil {
		b.log.Warn("payment failed", zap.String("msg_id", req.ID),
			zap.String("origin", req.SenderID), zap.Error(err))
		b.emit(protocol.NewFailed(b.node, req.SenderID,
			protocol.PaymentFailed{Invoice: pr.Invoice, Reason: err.Error()}, b.ttl))
		return
	}

	b.log.Info("payment settled", zap.String("msg_id", req.ID),
		zap.String("origin", req.SenderID), zap.String("payment_hash", pay.Hash))
	b.emit(protocol.NewConfirmation(b.node, req.SenderID, protocol.PaymentConfirmation{
		PaymentHash: pay.Hash,
		Invoice:     pr.Invoice,
		Preimage:    pay.Preimage,
	}, b.ttl))
}
