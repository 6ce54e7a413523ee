// Package cli builds the otter-raft command line interface.
//
// Commands:
//
//	otter run  -c config.yaml   start a node from a YAML config
//	otter demo                  run a local in-memory 3-node cluster
//
// The run command starts the gRPC server and, when configured, the
// Prometheus metrics endpoint, then blocks until SIGINT or SIGTERM and
// shuts the node down gracefully.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/otterlog/otter-raft/internal/config"
	"github.com/otterlog/otter-raft/internal/metrics"
	"github.com/otterlog/otter-raft/internal/node"
	"github.com/otterlog/otter-raft/internal/rsm"
	"github.com/otterlog/otter-raft/internal/server"
	"github.com/otterlog/otter-raft/internal/storage/wal"
	"github.com/otterlog/otter-raft/internal/transport"
)

// BuildCLI assembles the command tree.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:           "otter",
		Short:         "otter-raft: a Raft consensus node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand())
	root.AddCommand(demoCommand())
	return root
}

func runCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a node from a YAML config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runNode(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/node.yaml", "config file path")
	return cmd
}

func runNode(cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := wal.Open(filepath.Join(cfg.WALDir, cfg.ID, "log.wal"))
	if err != nil {
		return err
	}
	defer store.Close()
	states := wal.NewStateFile(filepath.Join(cfg.WALDir, cfg.ID, "state.json"))

	trans := transport.NewGRPC(cfg.PeerAddresses())
	defer trans.Close()

	var collector *metrics.Collector
	if cfg.MetricsPort > 0 {
		collector = metrics.NewCollector(prometheus.DefaultRegisterer)
		go func() {
			if err := metrics.StartServer(cfg.MetricsPort); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	n, err := node.New(node.Options{
		Config:    cfg.Engine(),
		Store:     store,
		Machine:   rsm.NewKV(),
		Transport: trans,
		States:    states,
		Logger:    logger,
		Metrics:   collector,
	})
	if err != nil {
		return err
	}
	n.Start()
	defer n.Stop()

	srv := server.New(n)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(cfg.Listen)
	}()
	logger.Info("node started", "id", cfg.ID, "listen", cfg.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		srv.Shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}

func demoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a local in-memory 3-node cluster and replicate a few commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.OutOrStdout())
		},
	}
}

func runDemo(out io.Writer) error {
	cluster, err := node.NewLocalCluster([]string{"n0", "n1", "n2"})
	if err != nil {
		return err
	}
	defer cluster.Stop()
	cluster.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	leader, err := cluster.WaitForLeader(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "leader elected: %s\n", leader)

	set, err := rsm.EncodeSet("demo", 1)
	if err != nil {
		return err
	}
	if _, err := cluster.Submit(ctx, leader, "demo-client", set); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		incr, err := rsm.EncodeIncr("demo")
		if err != nil {
			return err
		}
		if _, err := cluster.Submit(ctx, leader, "demo-client", incr); err != nil {
			return err
		}
	}

	snapshot, err := cluster.Read(ctx, leader, "demo-client")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "replicated state: %s\n", snapshot)
	return nil
}
