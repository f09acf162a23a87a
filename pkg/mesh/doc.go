// Package mesh implements the relay core: the routing engine deciding whether
// a message is executed locally, forwarded or dropped; the dedup ledger giving
// at-most-once local processing; the peer table driving broadcast fan-out; and
// the payment bridge turning a request into exactly one terminal outcome.
//
// All routing decisions run on a single goroutine fed by an event channel, so
// check-then-insert against the ledger needs no locking of its own. The only
// suspending operations, dialing a peer and executing a payment, run off that
// goroutine and re-enter it through the same channel.
package mesh
