package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"time"

	"CaptureBridge/internal/engine/correlator"
	"CaptureBridge/internal/mockagent"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/pcapana/main.go <path_to_pcap_file>")
		os.Exit(1)
	}

	events, err := mockagent.LoadPcap(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	for i, ev := range events {
		line := ev.Payload
		if j := bytes.IndexByte(line, '\n'); j >= 0 {
			line = line[:j]
		}
		fmt.Printf("[%s] #%d conn=%s %s:%d -> %s:%d type=%d len=%d %q\n",
			time.Unix(ev.Timestamp, 0).Format("15:04:05"), i+1,
			correlator.ConnectionKey(ev.UUID),
			ev.SrcIP, ev.SrcPort, ev.DstIP, ev.DstPort,
			ev.Type, ev.Length, bytes.TrimSpace(line),
		)
	}
}
