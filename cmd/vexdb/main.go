// Package main provides the VexDB CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/appcorner/vexdb/pkg/config"
	"github.com/appcorner/vexdb/pkg/server"
	"github.com/appcorner/vexdb/pkg/vectorstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vexdb",
		Short: "VexDB - Vector Index Service",
		Long: `VexDB is a standalone vector index service written in Go.

Features:
  • HNSW approximate nearest neighbor search
  • SIMD-accelerated distance kernels (AVX-512 / AVX2 / scalar)
  • Multiple named collections with per-collection metrics
  • Single-file snapshots with CRC-verified atomic persistence
  • Batch insert and batch search over HTTP (JSON or msgpack)`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("VexDB v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the VexDB server",
		Long:  "Start the VexDB server, load persisted collections, and serve the RPC API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", "", "Listen address (default 0.0.0.0:50052)")
	serveCmd.Flags().String("data-dir", "", "Data directory for snapshots")
	serveCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serveCmd.Flags().String("config", "", "YAML config file")
	serveCmd.Flags().Bool("no-load", false, "Skip loading snapshots on start")
	serveCmd.Flags().Bool("strict-load", false, "Fail startup on a corrupt snapshot")
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new VexDB data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return err
		}
	}
	cfg.LoadFromEnv()

	// Flags override file and environment.
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.ListenAddress = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetBool("no-load"); v {
		cfg.SkipSnapshotLoad = true
	}
	if v, _ := cmd.Flags().GetBool("strict-load"); v {
		cfg.StrictSnapshotLoad = true
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Printf("🚀 Starting VexDB v%s\n", version)
	fmt.Printf("   Data directory: %s\n", cfg.DataDir)
	fmt.Printf("   Listening:      %s\n", cfg.ListenAddress)
	fmt.Println()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	storage := vectorstore.New(cfg.DataDir, vectorstore.Options{
		StrictLoad: cfg.StrictSnapshotLoad,
	})

	if !cfg.SkipSnapshotLoad {
		fmt.Println("📂 Loading collections...")
		if err := storage.LoadAll(); err != nil {
			return fmt.Errorf("loading collections: %w", err)
		}
		for _, info := range storage.ListCollections() {
			fmt.Printf("   ✅ %s: %d vectors, dim=%d, metric=%s\n",
				info.Name, info.Count, info.Dimension, info.Metric)
		}
	} else {
		fmt.Println("⚠️  Snapshot loading skipped")
	}

	serverConfig := server.DefaultConfig()
	serverConfig.ListenAddress = cfg.ListenAddress
	serverConfig.MaxRequestSize = cfg.MaxRequestBytes
	serverConfig.EnableCORS = cfg.EnableCORS
	serverConfig.Version = version

	srv, err := server.New(storage, serverConfig)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	fmt.Println()
	fmt.Println("✅ VexDB is ready!")
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Printf("  • Health:       GET  http://%s/health\n", srv.Addr())
	fmt.Printf("  • Collections:  GET  http://%s/collections\n", srv.Addr())
	fmt.Printf("  • Search:       POST http://%s/collections/{name}/search\n", srv.Addr())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}

	fmt.Println("💾 Saving collections...")
	if err := storage.SaveAll(); err != nil {
		return fmt.Errorf("saving collections: %w", err)
	}

	fmt.Println("✅ Server stopped gracefully")
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("📂 Initializing VexDB data directory in %s\n", dataDir)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dataDir, "vexdb.yaml")
	configContent := `# VexDB Configuration
listen_address: 0.0.0.0:50052
data_dir: ./data
log_level: info

# Persistence
skip_snapshot_load: false
strict_snapshot_load: false

# Server
max_request_bytes: 104857600
enable_cors: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("✅ Data directory initialized")
	fmt.Printf("   Config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Start the server:  vexdb serve --config", configPath)
	fmt.Println("  2. Create a collection over the HTTP API")

	return nil
}
