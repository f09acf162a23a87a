package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/marinhotg/mesh-lightning/pkg/config"
	"github.com/marinhotg/mesh-lightning/pkg/identity"
	"github.com/marinhotg/mesh-lightning/pkg/lightning"
	"github.com/marinhotg/mesh-lightning/pkg/memkv"
	"github.com/marinhotg/mesh-lightning/pkg/mesh"
	"github.com/marinhotg/mesh-lightning/pkg/observability"
	"github.com/marinhotg/mesh-lightning/pkg/protocol"
	"github.com/marinhotg/mesh-lightning/pkg/protocol/codec"
	"github.com/marinhotg/mesh-lightning/pkg/transport"
	"github.com/marinhotg/mesh-lightning/pkg/transport/quic"
	"github.com/marinhotg/mesh-lightning/pkg/transport/tcp"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("meshpay-node started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	if cfg.NodeID == "" {
		id, err := identity.LoadOrGen(cfg.DataDir)
		if err != nil {
			zap.L().Error("failed to init identity", zap.Error(err))
			return 1
		}
		cfg.NodeID = id
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv := memkv.New(memkv.Options{})
	defer kv.Close()

	mgr := transport.NewManager()
	defer mgr.CloseAll()

	monitor := mesh.NewManualMonitor(opts.Gateway)

	// Transports are created before the engine; the receive closures resolve
	// the engine reference at call time.
	var eng *mesh.Engine
	rx := func(from transport.PeerID, frame []byte) {
		if eng != nil {
			eng.Receive(from, frame)
		}
	}
	onClosed := func(id transport.PeerID) {
		if eng != nil {
			eng.PeerClosed(id)
		}
	}

	byKind, err := buildTransports(cfg.Transports, rx, onClosed)
	if err != nil {
		zap.L().Error("failed to build transports", zap.Error(err))
		return 1
	}

	eng = mesh.NewEngine(mesh.Config{
		NodeID:     cfg.NodeID,
		DefaultTTL: cfg.Mesh.DefaultTTL,
		Format:     protocol.ParseFormat(cfg.Mesh.WireFormat),
		ScanWindow: cfg.Mesh.ScanWindow(),
	}, mesh.Deps{
		Registry: codec.NewRegistry(),
		Ledger:   mesh.NewLedger(kv, cfg.Mesh.DedupRetention()),
		Peers:    mesh.NewPeerTable(kv, cfg.Mesh.PeerTTL()),
		Links:    mgr,
		Tracker:  mesh.NewTracker(kv, 0),
		Executor: lightning.NewSimulator(time.Duration(cfg.Lightning.SimLatencyMS) * time.Millisecond),
		Monitor:  monitor,
		Dialer: mesh.DialerFunc(func(ctx context.Context, pi transport.PeerInfo) (transport.Link, error) {
			tr := byKind[pi.Kind]
			if tr == nil {
				return nil, fmt.Errorf("no transport configured for kind %s", pi.Kind)
			}
			return tr.Dial(ctx, pi.Addr, pi)
		}),
		Logger: logger,
	})
	defer eng.Close()

	if err := startEndpoints(ctx, cfg.Transports, byKind, eng); err != nil {
		zap.L().Error("failed to start transports", zap.Error(err))
		return 1
	}

	zap.L().Info("node is running; press Ctrl+C to exit",
		zap.String("node_id", cfg.NodeID), zap.String("role", eng.Role().String()))
	<-ctx.Done()
	zap.L().Info("shutting down")
	return 0
}

// buildTransports instantiates one transport per configured kind.
func buildTransports(cfgs []config.TransportConfig, rx transport.Receiver, onClosed func(transport.PeerID)) (map[transport.Kind]transport.Transport, error) {
	out := make(map[transport.Kind]transport.Transport)
	for _, tc := range cfgs {
		kind := transport.ParseKind(tc.Kind)
		if _, ok := out[kind]; ok {
			continue
		}
		switch kind {
		case transport.KindTCP:
			out[kind] = tcp.New(rx, onClosed)
		case transport.KindQUIC:
			q, err := quic.New(rx, onClosed)
			if err != nil {
				return nil, fmt.Errorf("quic transport: %w", err)
			}
			out[kind] = q
		default:
			zap.L().Warn("unsupported transport kind skipped", zap.String("kind", tc.Kind))
		}
	}
	return out, nil
}

// startEndpoints opens every configured listener and dials every static peer.
func startEndpoints(ctx context.Context, cfgs []config.TransportConfig, byKind map[transport.Kind]transport.Transport, eng *mesh.Engine) error {
	for _, tc := range cfgs {
		tr := byKind[transport.ParseKind(tc.Kind)]
		if tr == nil {
			continue
		}
		for _, addr := range tc.Listen {
			l, err := tr.Listen(ctx, addr)
			if err != nil {
				return fmt.Errorf("listen %s %s: %w", tc.Kind, addr, err)
			}
			zap.L().Info("listening", zap.String("kind", tc.Kind), zap.String("addr", l.Addr().String()))
			go acceptLoop(ctx, l, eng)
		}
		for _, d := range tc.Dial {
			pi := transport.PeerInfo{ID: transport.PeerID(d.PeerID), Addr: d.Address}
			lk, err := tr.Dial(ctx, d.Address, pi)
			if err != nil {
				zap.L().Warn("static peer dial failed", zap.String("addr", d.Address), zap.Error(err))
				continue
			}
			eng.AddLink(lk)
		}
	}
	return nil
}

func acceptLoop(ctx context.Context, l transport.Listener, eng *mesh.Engine) {
	for {
		lk, err := l.Accept(ctx)
		if err != nil {
			return
		}
		eng.AddLink(lk)
	}
}
