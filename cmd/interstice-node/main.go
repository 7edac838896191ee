// Package main provides the entry point for the Interstice node daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"github.com/interstice-network/interstice-core/internal/config"
	"github.com/interstice-network/interstice-core/internal/node"
)

var log = logging.Logger("interstice")

var rootCmd = &cobra.Command{
	Use:   "interstice-node",
	Short: "Interstice node daemon",
	Long: `interstice-node runs a single node of the Interstice distributed
application platform: it loads a set of WASM modules, exposes their
reducers and queries over the host-call ABI, and journals every table
mutation to an append-only transaction log.`,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the node daemon",
	Long:  `Loads the configured modules, recovers the transaction log, and runs until signalled.`,
	RunE:  runDaemon,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long:  `Writes a config.yaml with default values to the given path (or the default location).`,
	RunE:  runInit,
}

var (
	configPath string
	debug      bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	cobra.OnInitialize(func() {
		if debug {
			logging.SetAllLoggers(logging.LevelDebug)
		} else {
			logging.SetAllLoggers(logging.LevelInfo)
		}
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	n, err := node.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	log.Infof("node %s running, %d module(s) loaded", cfg.NodeID, len(cfg.Modules))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down...")
	stopCtx, stopCancel := context.WithCancel(context.Background())
	defer stopCancel()
	return n.Stop(stopCtx)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.Save(path, config.Default()); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	log.Infof("wrote default config to %s", path)
	return nil
}
