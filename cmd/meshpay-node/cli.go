package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
	ConfigPath string
	Gateway    bool
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("meshpay-node", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.BoolVar(&opts.Gateway, "gateway", false, "Start with wide-area connectivity (gateway role)")
	_ = fs.Parse(args)
	return opts
}
