package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"CaptureBridge/internal/config"
	"CaptureBridge/internal/console"
	"CaptureBridge/internal/model"
	"CaptureBridge/internal/probe"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	natsURL := flag.String("nats", "", "NATS server URL, overrides nats.url.")
	subject := flag.String("subject", "", "Subject to subscribe to, overrides nats.subject.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if *subject != "" {
		cfg.NATS.Subject = *subject
	}

	log.Println("Starting cb-probe in SUBSCRIBER mode...")
	sub, err := probe.NewSubscriber(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	printer := console.NewPrinter(os.Stdout)
	var received atomic.Int64
	handler := func(rec model.PairRecord) {
		printer.Print(rec)
		received.Add(1)
	}

	if err := sub.Start(handler); err != nil {
		log.Fatalf("Failed to start subscriber: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Printf("Shutdown signal received after %d pairs, cleaning up...", received.Load())
}
