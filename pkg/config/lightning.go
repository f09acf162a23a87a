package config

// LightningConfig describes the payment executor backing a gateway node.
type LightningConfig struct {
	// Mode selects the executor implementation. Only "simulator" is built in.
	Mode string `mapstructure:"mode"`
	// Network is the Lightning network label (regtest/testnet/mainnet).
	Network string `mapstructure:"network"`
	// SimLatencyMS adds artificial latency to simulated payments.
	SimLatencyMS int `mapstructure:"sim_latency_ms"`
}
