package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meshcompute/coordinator/internal/ae"
	"github.com/meshcompute/coordinator/internal/api"
	"github.com/meshcompute/coordinator/internal/chainclient"
	"github.com/meshcompute/coordinator/internal/config"
	"github.com/meshcompute/coordinator/internal/ebg"
	"github.com/meshcompute/coordinator/internal/jlm"
	"github.com/meshcompute/coordinator/internal/pd"
	"github.com/meshcompute/coordinator/internal/ra"
	"github.com/meshcompute/coordinator/internal/rhr"
	"github.com/meshcompute/coordinator/internal/telemetry"
	"github.com/meshcompute/coordinator/internal/transport/wsgossip"
)

const tickInterval = 250 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "client/admin HTTP API listen address")
	serveCmd.Flags().StringVar(&gossipAddr, "gossip-addr", ":7946", "gossip WebSocket listen address")
	serveCmd.Flags().StringSliceVar(&peers, "peer", nil, "gossip peer URL to dial (repeatable), e.g. ws://10.0.0.2:7946/gossip")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Valid(); err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	metrics := telemetry.New(prometheus.DefaultRegisterer)
	now := time.Now

	reg := rhr.New(cfg, log, metrics, now)
	aeEngine := ae.New(cfg, log, metrics, reg, now)
	raAgg := ra.New(cfg, log, metrics, reg, nil, now)
	chain := chainclient.NewBreakerClient(chainclient.NewMockClient())

	selfID := os.Getenv("COORDINATOR_NODE_ID")
	if selfID == "" {
		selfID = gossipAddr
	}
	hub := wsgossip.New(log, selfID)
	for _, peerURL := range peers {
		if err := hub.DialPeer(context.Background(), peerURL); err != nil {
			log.Warn("gossip: failed to dial peer", zap.String("peer", peerURL), zap.Error(err))
		}
	}
	fabric := ebg.New(cfg, log, hub, selfID, now)

	mgr := jlm.New(cfg, log, metrics, reg, aeEngine, raAgg, chain, fabric, now)
	directory := pd.New(cfg, log, reg, mgr, now)

	gossipMux := http.NewServeMux()
	gossipMux.HandleFunc("/gossip", hub.HandleUpgrade)
	gossipSrv := &http.Server{Addr: gossipAddr, Handler: gossipMux}

	apiServer := api.New(mgr, reg, mgr, log)
	httpSrv := &http.Server{Addr: httpAddr, Handler: apiServer.Router()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		expireTicker := time.NewTicker(cfg.HeartbeatTimeout)
		defer expireTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mgr.Tick()
			case <-expireTicker.C:
				directory.ExpireStale()
			}
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		log.Info("coordinatord: api listening", zap.String("http_addr", httpAddr))
		errCh <- httpSrv.ListenAndServe()
	}()
	go func() {
		log.Info("coordinatord: gossip listening", zap.String("gossip_addr", gossipAddr))
		errCh <- gossipSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpErr := httpSrv.Shutdown(shutdownCtx)
		gossipErr := gossipSrv.Shutdown(shutdownCtx)
		if httpErr != nil {
			return httpErr
		}
		return gossipErr
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
