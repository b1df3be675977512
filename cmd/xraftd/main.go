// Command xraftd runs a single xraft node: consensus core, grpc
// transport, durable walstore, and an HTTP API in front of the
// replicated KV store. Wiring follows the teacher's cmd/server/main.go,
// swapping its bare flag/log setup for cobra + yaml config + zap.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xlpha/xraft/internal/config"
	"github.com/xlpha/xraft/internal/metrics"
	"github.com/xlpha/xraft/pkg/api"
	"github.com/xlpha/xraft/pkg/grpcconn"
	"github.com/xlpha/xraft/pkg/kv"
	"github.com/xlpha/xraft/pkg/raft"
	"github.com/xlpha/xraft/pkg/walstore"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "xraftd",
		Short: "xraftd runs a single node of an xraft cluster",
		RunE:  run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "xraftd.yaml", "path to node config file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := walstore.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open walstore: %w", err)
	}
	defer store.Close()

	sm := kv.New()
	raftCfg := cfg.RaftConfig()

	grpcServer := grpc.NewServer()
	// Connector needs a node to deliver results to, and the node needs a
	// Connector to construct; build the Connector handler-less, build the
	// node, then bind it back.
	connector := grpcconn.NewConnector(raftCfg.Self.Id, nil, raftCfg.ElectionTimeoutMin)
	node := raft.New(raftCfg, cfg.PeerEndpoints(), store, store, connector, raft.NewRealScheduler(), sm, logger)
	connector.SetHandler(node)
	grpcconn.RegisterServer(grpcServer, node)

	rec := metrics.NewRecorder(raftCfg.Self.Id)

	node.Start()
	defer node.Stop()
	defer connector.Close()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()
	defer grpcServer.GracefulStop()

	mux := http.NewServeMux()
	mux.Handle("/", api.NewHandler(node, sm))
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()
	defer httpServer.Close()

	go reportRoleForever(node, rec)

	logger.Info("xraftd started",
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("data_dir", cfg.DataDir),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("xraftd shutting down")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		var l zap.AtomicLevel
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", level, err)
		}
		cfg.Level = l
	}
	return cfg.Build()
}

func reportRoleForever(node *raft.NodeImpl, rec *metrics.Recorder) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		rec.ObserveRole(node.GetRoleState())
	}
}
