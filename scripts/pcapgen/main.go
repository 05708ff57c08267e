package main

import (
	"flag"
	"log"
	"time"

	"CaptureBridge/internal/engine/correlator"
	"CaptureBridge/internal/engine/protocol"
	"CaptureBridge/internal/mockagent"
	"CaptureBridge/internal/transport"
	"CaptureBridge/internal/writer"
)

// pcapgen writes a sample capture of synthetic exchanges, suitable for
// Wireshark or for replay through cb-mockagent -pcap.
func main() {
	out := flag.String("out", "./output/pcap", "Directory for the generated pcap file.")
	count := flag.Int("n", 20, "Number of exchanges.")
	host := flag.String("host", "shop.example", "Host header of the requests.")
	flag.Parse()

	// Pair the synthetic events exactly as the bridge would.
	engine := correlator.New(correlator.Options{})
	dispatcher := transport.NewDispatcher(engine)
	for _, ev := range mockagent.Synthetic(*count, *host, time.Now()) {
		dispatcher.HandleFrame(&protocol.Frame{LogType: protocol.LogTypeEvent, Event: ev})
	}

	w, err := writer.NewPcapWriter(*out, time.Second)
	if err != nil {
		log.Fatalf("Failed to create pcap writer: %v", err)
	}
	timestamp := time.Now().Format(writer.SnapshotTimeFormat)
	if err := w.Write(engine.Pairs(), timestamp); err != nil {
		log.Fatalf("Failed to write pcap: %v", err)
	}
	log.Printf("Successfully generated %d pairs into %s/%s.pcap", len(engine.Pairs()), *out, timestamp)
}
