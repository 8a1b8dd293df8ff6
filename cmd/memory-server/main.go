// Package main provides the entry point for the memory service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/agentmemory/internal/api"
	"github.com/anthropics/agentmemory/internal/core"
	"github.com/anthropics/agentmemory/internal/embedding"
	"github.com/anthropics/agentmemory/internal/events"
	"github.com/anthropics/agentmemory/internal/search"
	"github.com/anthropics/agentmemory/internal/session"
	"github.com/anthropics/agentmemory/pkg/types"
)

func main() {
	config := parseFlags()

	printBanner(config)

	hierarchy, pooler, searchEngine, sessions, embedder, emitter, err := initComponents(config)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	server := api.NewServer(
		config.Server,
		hierarchy,
		pooler,
		searchEngine,
		sessions,
		embedder,
		emitter,
	)

	stopRotation := make(chan struct{})
	go rotateEventsDaily(emitter, stopRotation)

	shutdownDone := make(chan struct{})
	go handleShutdown(server, hierarchy, sessions, emitter, config.Server.ShutdownTimeout, shutdownDone, stopRotation)

	log.Printf("Starting memory service on port %d", config.Server.Port)
	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	<-shutdownDone
	log.Println("Memory service stopped")
}

func parseFlags() *types.Config {
	config := types.DefaultConfig()

	flag.IntVar(&config.Server.Port, "port", config.Server.Port, "HTTP port")
	flag.IntVar(&config.Server.Port, "p", config.Server.Port, "HTTP port (shorthand)")

	flag.StringVar(&config.Storage.DataDir, "data-dir", config.Storage.DataDir, "Data directory")
	flag.StringVar(&config.Storage.DataDir, "d", config.Storage.DataDir, "Data directory (shorthand)")
	flag.BoolVar(&config.Storage.SyncWrites, "sync", config.Storage.SyncWrites, "Sync writes to disk")
	maxNodes := flag.Uint("max-nodes", uint(config.Storage.MaxNodeCount), "Arena capacity per level")

	flag.StringVar(&config.Embedding.ModelPath, "model", config.Embedding.ModelPath, "ONNX model path")
	flag.StringVar(&config.Embedding.ModelPath, "m", config.Embedding.ModelPath, "ONNX model path (shorthand)")
	flag.StringVar(&config.Embedding.Provider, "provider", config.Embedding.Provider, "Embedding provider (cpu, cuda, coreml, stub)")
	flag.IntVar(&config.Embedding.BatchSize, "batch-size", config.Embedding.BatchSize, "Embedding batch size")

	flag.StringVar(&config.Log.Level, "log-level", config.Log.Level, "Log level (trace, debug, info, warn, error)")
	flag.StringVar(&config.Log.Level, "l", config.Log.Level, "Log level (shorthand)")
	flag.StringVar(&config.Log.Format, "log-format", config.Log.Format, "Log format (text, json)")

	help := flag.Bool("help", false, "Show help")
	flag.BoolVar(help, "h", false, "Show help (shorthand)")

	flag.Parse()
	config.Storage.MaxNodeCount = uint32(*maxNodes)

	if *help {
		printUsage()
		os.Exit(0)
	}

	return config
}

func printUsage() {
	fmt.Print(`Memory Service - Hierarchical memory store for AI agents

Usage:
  memory-server [options]

Options:
  -p, --port PORT          HTTP port (default: 8080)
  -d, --data-dir DIR       Data directory (default: ./data)
  --max-nodes N            Arena capacity per level (default: 1000000)
  -m, --model PATH         ONNX model path
  --provider PROVIDER      Embedding provider: cpu, cuda, coreml, stub (default: cpu)
  --batch-size SIZE        Embedding batch size (default: 32)
  --sync                   Sync writes to disk
  -l, --log-level LEVEL    Log level: trace, debug, info, warn, error (default: info)
  --log-format FORMAT      Log format: text, json (default: text)
  -h, --help               Show this help

Examples:
  # Start with default settings
  memory-server

  # Start on custom port with CUDA
  memory-server -p 9090 --provider cuda

  # Start with custom data directory
  memory-server -d /var/lib/memory
`)
}

func printBanner(config *types.Config) {
	fmt.Println(`
╔══════════════════════════════════════════════════════════════╗
║                     Memory Service                           ║
║         Hierarchical Memory Store for AI Agents              ║
╚══════════════════════════════════════════════════════════════╝`)
	fmt.Printf("  Port:      %d\n", config.Server.Port)
	fmt.Printf("  Data Dir:  %s\n", config.Storage.DataDir)
	fmt.Printf("  Provider:  %s\n", config.Embedding.Provider)
	fmt.Println()
}

func initComponents(config *types.Config) (
	*core.Hierarchy,
	*core.Pooler,
	*search.Engine,
	*session.Manager,
	embedding.Engine,
	*events.Emitter,
	error,
) {
	if err := os.MkdirAll(config.Storage.DataDir, 0755); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	log.Println("Opening hierarchy store...")
	hierarchy, err := core.Open(config.Storage.DataDir, config.Storage.MaxNodeCount, config.Storage.SyncWrites)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to open hierarchy: %w", err)
	}

	log.Println("Initializing embedding engine...")
	var embedder embedding.Engine
	if config.Embedding.ModelPath == "" || config.Embedding.Provider == "stub" || config.Embedding.Provider == "" {
		log.Println("Using stub embedding engine (for testing)")
		embedder = embedding.NewStubEngine()
	} else {
		embedder, err = embedding.NewEngine(config.Embedding)
		if err != nil {
			log.Printf("Warning: Failed to initialize ONNX engine: %v, using stub", err)
			embedder = embedding.NewStubEngine()
		}
	}

	log.Println("Initializing pooler...")
	pooler := core.NewPooler(hierarchy, embedder)

	log.Println("Initializing session manager...")
	sessions, err := session.NewManager(hierarchy)
	if err != nil {
		hierarchy.Close()
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to load session registry: %w", err)
	}

	log.Println("Initializing search engine...")
	searchEngine, err := search.NewEngine(hierarchy, embedder, config.Search)
	if err != nil {
		hierarchy.Close()
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to create search engine: %w", err)
	}

	log.Println("Initializing event emitter...")
	eventsDir := filepath.Join(config.Storage.DataDir, "events")
	emitter, err := events.NewEmitter(eventsDir)
	if err != nil {
		hierarchy.Close()
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to create event emitter: %w", err)
	}

	log.Println("All components initialized successfully")

	return hierarchy, pooler, searchEngine, sessions, embedder, emitter, nil
}

// rotateEventsDaily starts a new events_YYYYMMDD_HHMMSS.jsonl file once a
// day so a long-running server doesn't keep appending to the file it opened
// at startup.
func rotateEventsDaily(emitter *events.Emitter, stop <-chan struct{}) {
	if emitter == nil {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := emitter.RotateFile(); err != nil {
				log.Printf("event log rotation failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}

func handleShutdown(server *api.Server, hierarchy *core.Hierarchy, sessions *session.Manager, emitter *events.Emitter, timeout interface{}, done chan struct{}, stopRotation chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, stopping server...")
	close(stopRotation)

	ctx, cancel := context.WithTimeout(context.Background(), types.DefaultConfig().Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if emitter != nil {
		emitter.Flush()
		emitter.Close()
	}

	if sessions != nil {
		log.Println("Syncing session registry...")
		if err := sessions.Close(); err != nil {
			log.Printf("Session registry sync error: %v", err)
		}
	}

	if hierarchy != nil {
		log.Println("Syncing hierarchy...")
		if err := hierarchy.Sync(); err != nil {
			log.Printf("Hierarchy sync error: %v", err)
		}
		if err := hierarchy.Close(); err != nil {
			log.Printf("Hierarchy close error: %v", err)
		}
	}

	log.Println("Shutdown complete")
	close(done)
}
