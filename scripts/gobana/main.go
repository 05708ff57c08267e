package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"CaptureBridge/internal/console"
	"CaptureBridge/internal/writer"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <snapshot_dir>")
		os.Exit(1)
	}
	dir := os.Args[1]

	records, err := writer.ReadGobSnapshot(dir)
	if err != nil {
		log.Fatalf("Failed to decode gob snapshot: %v", err)
	}

	printer := console.NewPrinter(os.Stdout)
	for _, rec := range records {
		printer.Print(rec)
	}

	summary, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		log.Printf("No summary found: %v", err)
		return
	}
	var data writer.SummaryData
	if err := json.Unmarshal(summary, &data); err != nil {
		log.Fatalf("Failed to decode summary: %v", err)
	}
	fmt.Printf("Snapshot %s: %d pairs (%d complete), %d request bytes, %d response bytes, %d hosts\n",
		data.Timestamp, data.TotalPairs, data.CompletedPairs, data.RequestBytes, data.ResponseBytes, len(data.Hosts))
}
