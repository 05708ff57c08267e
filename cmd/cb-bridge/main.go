package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CaptureBridge/internal/api"
	"CaptureBridge/internal/config"
	"CaptureBridge/internal/console"
	"CaptureBridge/internal/engine/manager"
	"CaptureBridge/internal/metrics"
	"CaptureBridge/internal/query"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	endpoint := flag.String("endpoint", "", "Agent WebSocket endpoint, overrides bridge.endpoint.")
	printPairs := flag.Bool("print", false, "Print completed pairs to stdout.")
	flag.Parse()

	log.Println("Starting cb-bridge...")

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *endpoint != "" {
		cfg.Bridge.Endpoint = *endpoint
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid endpoint: %v", err)
		}
	}
	log.Println("Configuration loaded successfully.")

	// 2. Build the manager with its sinks
	mgr, err := manager.NewManager(cfg)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}
	if *printPairs {
		mgr.AddPairListener(console.NewPrinter(os.Stdout).PairListener())
	}

	// 3. History is served only when a ClickHouse writer is configured
	var querier query.Querier
	if chCfg, ok := cfg.ClickHouse(); ok {
		querier, err = query.NewClickHouseQuerier(chCfg)
		if err != nil {
			log.Printf("History queries disabled: %v", err)
			querier = nil
		}
	}

	// 4. Metrics, HTTP API and gRPC health
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(mgr),
	)

	health := api.NewHealthServer()
	mgr.AddStateListener(health.SetState)

	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewRouter(mgr, querier, registry),
	}
	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	if cfg.API.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.API.GRPCAddr)
		if err != nil {
			log.Fatalf("Failed to listen on %s: %v", cfg.API.GRPCAddr, err)
		}
		go func() {
			if err := health.Serve(lis); err != nil {
				log.Printf("gRPC health server stopped: %v", err)
			}
		}()
	}

	// 5. Start the bridge
	mgr.Start()

	// 6. Wait for a shutdown signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, stopping...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("API server forced to shutdown: %v", err)
	}
	health.Stop()
	mgr.Stop()
	if querier != nil {
		querier.Close()
	}
	log.Println("Shutdown complete.")
}
