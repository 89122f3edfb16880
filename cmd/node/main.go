// Command hopper wires up and runs a single mixnet node. Boot-argument
// parsing, privilege-drop, and log-file initialization are the launcher's
// responsibility (spec Out-of-scope); this entrypoint only binds the
// already-loaded Config to the in-process components and runs them until
// signaled to stop.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/substratum-mix/hopper/core"
	"github.com/substratum-mix/hopper/internal/actor"
	"github.com/substratum-mix/hopper/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "hopper"}
	root.AddCommand(startCmd())
	root.AddCommand(descriptorCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(env)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config overlay name")
	return cmd
}

func descriptorCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "descriptor",
		Short: "print this node's node descriptor and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				return err
			}
			cryptde := core.NewCryptDENull()
			if err := cryptde.GenerateKeyPair(); err != nil {
				return err
			}
			ip := net.ParseIP(cfg.IP)
			if ip == nil {
				return fmt.Errorf("invalid ip %q in config", cfg.IP)
			}
			addr := core.NewNodeAddr(ip, []uint16{cfg.ClandestinePort})
			desc := core.NodeDescriptor{PublicKey: cryptde.PublicKey(), NodeAddr: addr}
			fmt.Println(desc.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config overlay name")
	return cmd
}

// runNode wires every component together and runs until ctx is cancelled by
// SIGINT/SIGTERM. The wiring order matters: mailboxes are registered before
// the transport starts accepting connections, and routingService is
// assigned before the actor system starts draining the Hopper mailbox that
// references it.
func runNode(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	entry := logrus.NewEntry(log)

	cryptde := core.NewCryptDENull()
	if err := cryptde.GenerateKeyPair(); err != nil {
		return fmt.Errorf("generate node keypair: %w", err)
	}

	wallet, err := loadOrGenerateEarningWallet(cfg.WalletAddress, log)
	if err != nil {
		return fmt.Errorf("earning wallet: %w", err)
	}

	selfRecord, err := core.NewNodeRecord(cryptde.PublicKey(), wallet, defaultRatePack(), cfg.IsBootstrap(), 0, cryptde)
	if err != nil {
		return fmt.Errorf("build self node record: %w", err)
	}
	db := core.NewNeighborhoodDatabase(selfRecord, cryptde)
	neighbors, err := parseConfiguredNeighbors(cfg.Neighbors)
	if err != nil {
		return fmt.Errorf("parse configured neighbors: %w", err)
	}
	for _, n := range neighbors {
		selfRecord.AddHalfNeighborKey(n.PublicKey)
	}
	if len(neighbors) > 0 {
		if err := db.ResignNode(selfRecord); err != nil {
			return fmt.Errorf("resign self record after seeding neighbors: %w", err)
		}
	}
	gossipEngine, err := core.NewGossipEngine(db, cryptde)
	if err != nil {
		return fmt.Errorf("gossip engine: %w", err)
	}
	_ = core.NewRouteBuilder(db) // wired into a future client-request-origination path; not yet driven by an inbound source in this entrypoint

	registry := prometheus.NewRegistry()
	accountant := core.NewAccountant(registry, nil, entry)

	system := actor.NewSystem(entry)

	var routingService *core.RoutingService
	system.Register("Hopper", 0, func(ctx context.Context, msg any) error {
		icd, ok := msg.(core.InboundClientData)
		if !ok {
			return nil
		}
		routingService.Route(icd)
		return nil
	})
	system.Register("Neighborhood", 0, func(ctx context.Context, msg any) error {
		pkg, ok := msg.(core.ExpiredCoresPackage)
		if !ok {
			return nil
		}
		gossipMsg, ok := pkg.Payload.(core.GossipMessage)
		if !ok {
			return nil
		}
		_, err := gossipEngine.Ingest(gossipMsg.Gossip, nil)
		return err
	})
	// ProxyClient/ProxyServer mailboxes are registered with no-op handlers:
	// the proxy front-ends themselves are external collaborators (spec
	// Out-of-scope), so this node only guarantees delivery into their
	// mailbox, not processing beyond it.
	system.Register("ProxyClient", 0, func(ctx context.Context, msg any) error { return nil })
	system.Register("ProxyServer", 0, func(ctx context.Context, msg any) error { return nil })
	system.Register("ProxyServer.dns_failure", 0, func(ctx context.Context, msg any) error { return nil })
	inbox := core.NewActorInbox(system, "Hopper")

	hopperMailbox, err := system.Mailbox("Hopper")
	if err != nil {
		return err
	}
	transportCfg := core.TransportConfig{
		ListenAddr:      fmt.Sprintf("/ip4/%s/tcp/0", cfg.IP),
		ClandestinePort: cfg.ClandestinePort,
		DiscoveryTag:    "hopper-mixnet",
		DialTimeout:     10 * time.Second,
		KeepAlive:       30 * time.Second,
	}
	transport, err := core.NewClandestineTransport(transportCfg, func(peerIP net.IP, data []byte) {
		hopperMailbox.Send(core.InboundClientDataFromWire(peerIP, data, true))
	}, entry)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer transport.Close()

	// Configured neighbors are known addresses to dial, not yet verified
	// NodeRecords — the neighborhood database only learns their signed
	// gossip once they answer back (spec §4.3's eventual-consistency model).
	for _, n := range neighbors {
		transport.RegisterPeerAddr(n.PublicKey, n.NodeAddr)
	}

	dispatcher := core.NewDispatcher(transport, transport, accountant, entry)
	routingService = core.NewRoutingService(cryptde, cfg.IsBootstrap(), defaultRatePack().RoutingServiceRate, defaultRatePack().RoutingByteRate, accountant, dispatcher, inbox, entry)

	// The metrics handler is built here but neither mounted nor returned:
	// this entrypoint starts no HTTP server (spec Out-of-scope: "the
	// HTTP/TLS proxy front-ends"), so nothing serves the registry.
	_ = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Infof("hopper node starting, bootstrap=%v clandestine_port=%d", cfg.IsBootstrap(), cfg.ClandestinePort)
	return system.Run(ctx)
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// defaultRatePack is a conservative placeholder until a rate-pack
// configuration surface exists; SPEC_FULL names no such surface, so these
// values only need to be nonzero enough to exercise the payable curve.
func defaultRatePack() core.RatePack {
	return core.RatePack{
		RoutingByteRate:    1,
		RoutingServiceRate: 100,
		ExitByteRate:       2,
		ExitServiceRate:    200,
	}
}

// parseConfiguredNeighbors turns the config's neighbor descriptor strings
// into NodeDescriptors, erroring on the first malformed one rather than
// silently skipping a typo'd boot argument.
func parseConfiguredNeighbors(descriptors []string) ([]core.NodeDescriptor, error) {
	out := make([]core.NodeDescriptor, 0, len(descriptors))
	for _, s := range descriptors {
		d, err := core.ParseNodeDescriptor(s)
		if err != nil {
			return nil, fmt.Errorf("neighbor descriptor %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// loadOrGenerateEarningWallet returns the configured wallet_address when one
// is set. Otherwise it stands in for persistent wallet storage (the SQLite
// accountant DAOs are out of scope, but that Non-goal covers account
// balances, not wallet identity): it generates a fresh HD wallet on every
// such boot, which is not stored.
func loadOrGenerateEarningWallet(configured string, log *logrus.Logger) (core.Wallet, error) {
	if configured != "" {
		return core.NewWallet(configured)
	}
	hd, _, err := core.NewRandomWallet(128, log)
	if err != nil {
		return core.Wallet{}, err
	}
	return hd.NewEarningWallet(0, 0)
}
