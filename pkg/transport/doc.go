// Package transport defines the peer-link interfaces the mesh core consumes
// and provides basic implementations (mem, tcp, quic) plus a link manager that
// enforces a single canonical link per peer.
//
// Key concepts:
//   - Transport: dials/listens for Links of a specific Kind (mem/tcp/quic)
//   - Link: an opaque send capability for one nearby peer; the native
//     connection object is never exposed
//   - Receiver: callback invoked with each inbound frame and its source link
//   - Discoverer: emits nearby peers; a scan is time-boxed by its context
//   - Manager: deduplicates concurrent inbound/outbound links and keeps one
//     canonical link per peer
package transport
