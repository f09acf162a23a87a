package config

import "time"

// MeshConfig contains relay protocol tuning options.
type MeshConfig struct {
	// DefaultTTL is the hop budget assigned to locally originated messages.
	DefaultTTL int `mapstructure:"default_ttl"`
	// ScanWindowSec bounds a single discovery scan.
	ScanWindowSec int `mapstructure:"scan_window_sec"`
	// DedupRetentionSec bounds how long processed message ids are remembered.
	DedupRetentionSec int `mapstructure:"dedup_retention_sec"`
	// PeerTTLSec expires discovered peers that have not been seen again.
	PeerTTLSec int `mapstructure:"peer_ttl_sec"`
	// WireFormat selects the payload codec for outbound frames: json, cbor or msgpack.
	WireFormat string `mapstructure:"wire_format"`
}

// ScanWindow returns the discovery scan window as a duration.
func (m MeshConfig) ScanWindow() time.Duration {
	return time.Duration(m.ScanWindowSec) * time.Second
}

// DedupRetention returns the dedup ledger retention as a duration.
func (m MeshConfig) DedupRetention() time.Duration {
	return time.Duration(m.DedupRetentionSec) * time.Second
}

// PeerTTL returns the discovered-peer expiry as a duration.
func (m MeshConfig) PeerTTL() time.Duration {
	return time.Duration(m.PeerTTLSec) * time.Second
}
