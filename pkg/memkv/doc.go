// Package memkv provides a thread-safe in-memory key-value store with
// Redis-like basics: Set/Get, GetDel, TTL/Expire, in-place updates and cheap
// atomic metrics.
//
// Properties:
//   - Sharded map with RW mutexes (default 64 shards)
//   - Per-key TTL with a background sweeper removing expired keys
//   - Values are copied on Set and Get, so callers cannot alias store memory
//   - Minimal allocations on the hot path
//
// The dedup ledger, peer table and transfer tracker are all backed by this
// store; TTL is what bounds their growth over a long-lived process.
package memkv
