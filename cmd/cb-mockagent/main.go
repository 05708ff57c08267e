package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CaptureBridge/internal/engine/protocol"
	"CaptureBridge/internal/mockagent"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	listen := flag.String("listen", "127.0.0.1:28257", "Address to serve the agent WebSocket on.")
	pcapPath := flag.String("pcap", "", "Replay HTTP/1 payloads from this pcap file instead of synthetic traffic.")
	count := flag.Int("n", 50, "Number of synthetic exchanges.")
	host := flag.String("host", "shop.example", "Host header of synthetic requests.")
	interval := flag.Duration("interval", 200*time.Millisecond, "Delay between events.")
	heartbeat := flag.Duration("heartbeat", 5*time.Second, "Delay between heartbeats.")
	loop := flag.Bool("loop", false, "Replay the events forever.")
	flag.Parse()

	var events []*protocol.Event
	if *pcapPath != "" {
		var err error
		events, err = mockagent.LoadPcap(*pcapPath)
		if err != nil {
			log.Fatalf("Failed to load pcap: %v", err)
		}
		log.Printf("Loaded %d events from %s", len(events), *pcapPath)
	} else {
		events = mockagent.Synthetic(*count, *host, time.Now())
	}

	agent := mockagent.NewAgent(events, mockagent.Options{
		EventInterval:     *interval,
		HeartbeatInterval: *heartbeat,
		Loop:              *loop,
	})
	server := &http.Server{Addr: *listen, Handler: agent}
	go func() {
		log.Printf("Mock agent listening on ws://%s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", *listen, err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	log.Printf("Mock agent stopped after serving %d clients.", agent.Clients())
}
