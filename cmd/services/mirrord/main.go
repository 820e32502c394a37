package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metadata"
	"github.com/ThinkParQ/beegfs-sub011/internal/models"
	"github.com/ThinkParQ/beegfs-sub011/internal/queue"
	"github.com/ThinkParQ/beegfs-sub011/internal/registry"
	"github.com/ThinkParQ/beegfs-sub011/internal/router"
	"github.com/ThinkParQ/beegfs-sub011/internal/server"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directories: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Mirror server starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime,
		"node_id", cfg.Node.NodeID, "targets", cfg.Node.Targets)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Connect to etcd; the coordinator state lives there
	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: cfg.Etcd.DialTimeout,
		Username:    cfg.Etcd.Username,
		Password:    cfg.Etcd.Password,
	})
	if err != nil {
		logger.Fatal("Failed to connect to etcd", "error", err)
	}
	defer func() { _ = etcdClient.Close() }()
	meta := metadata.NewEtcdManagerWithClient(etcdClient, cfg.Etcd.Prefix)
	defer func() { _ = meta.Close() }()
	logger.Info("Connected to etcd", "endpoints", cfg.Etcd.Endpoints)

	// 4. Event queue (optional)
	events, err := queue.NewPublisher(cfg.Queue)
	if err != nil {
		logger.Fatal("Failed to connect to queue", "error", err)
	}
	if events != nil {
		defer func() { _ = events.Close() }()
		logger.Info("Publishing events", "type", cfg.Queue.Type, "subject", cfg.Queue.Subject)
	}

	// 5. Build the node: targets, executors, resyncer, peer transport
	node, err := server.NewNode(server.Deps{
		Config:   cfg,
		Metadata: meta,
		Events:   events,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Failed to create node", "error", err)
	}

	// 6. Register node and target mappings with etcd
	advertise := resolveAdvertiseAddress(logger, &cfg.Server)
	registration := registry.NewNodeRegistration(
		etcdClient,
		meta,
		cfg.Etcd.Prefix,
		models.NodeInfo{
			ID:        cfg.Node.NodeID,
			Address:   advertise,
			Version:   Version,
			UpdatedAt: time.Now(),
		},
		cfg.Node.Targets,
		registry.NewTargetScanner(cfg.Node.DataDir, logger),
		logger,
	)
	if err := registration.Register(ctx); err != nil {
		logger.Fatal("Failed to register node", "error", err)
	}
	defer func() {
		deregCtx, deregCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer deregCancel()
		if err := registration.Deregister(deregCtx); err != nil {
			logger.Error("Failed to deregister node", "error", err)
		}
	}()

	// 7. Start serving peers
	if err := node.Start(ctx); err != nil {
		logger.Fatal("Failed to start node", "error", err)
	}
	defer node.Stop()

	// 8. Admin API
	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - all admin requests will be allowed")
	}
	app := router.New(logger, node, cfg, Version)
	go func() {
		addr := cfg.GetServerAddress()
		logger.Info("Admin API listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Error("Admin API stopped", "error", err)
		}
	}()

	logger.Info("Mirror server started successfully",
		"node_id", cfg.Node.NodeID,
		"bind_address", node.Addr(),
		"advertise_address", advertise,
		"data_dir", cfg.Node.DataDir,
	)

	// 9. Wait for shutdown signal
	waitForShutdown(logger, cancel)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Admin API forced to shutdown", "error", err)
	}

	logger.Info("Mirror server stopped")
}

// waitForShutdown waits for interrupt signal and triggers graceful shutdown
func waitForShutdown(logger *logging.Logger, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())
	cancel()
}

// getOutboundIP returns the address of the interface used for outbound
// traffic, or "" when detection fails. No packet is sent.
func getOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer func() { _ = conn.Close() }()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// resolveAdvertiseAddress picks the peer transport address buddies and the
// coordinator use to reach this node
func resolveAdvertiseAddress(logger *logging.Logger, serverCfg *config.ServerConfig) string {
	if serverCfg.GRPCHost != "" && serverCfg.GRPCHost != "0.0.0.0" {
		return fmt.Sprintf("%s:%d", serverCfg.GRPCHost, serverCfg.GRPCPort)
	}
	if serverCfg.Host != "" && serverCfg.Host != "0.0.0.0" {
		return fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.GRPCPort)
	}

	ip := getOutboundIP()
	if ip == "" {
		logger.Fatal("Failed to auto-detect IP address and no grpc_host configured. Please set server.grpc_host in config",
			"bind_address", serverCfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", ip, serverCfg.GRPCPort)
	logger.Info("Auto-detected machine IP address for peer discovery",
		"bind_address", serverCfg.Host, "advertise_address", addr)
	return addr
}
