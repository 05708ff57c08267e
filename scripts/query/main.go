package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"CaptureBridge/internal/config"
	"CaptureBridge/internal/console"
	"CaptureBridge/internal/model"
	"CaptureBridge/internal/query"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' via the HTTP API, 'direct' against ClickHouse, 'health' via gRPC.")
	apiAddr := flag.String("api", "http://localhost:8080", "Base URL of the bridge API.")
	grpcAddr := flag.String("addr", "localhost:50051", "The gRPC health server address.")
	configPath := flag.String("config", "configs/config.yaml", "Configuration file for direct mode.")
	host := flag.String("host", "", "Only pairs of this host.")
	method := flag.String("method", "", "Only pairs with this request method.")
	status := flag.Int("status", 0, "Only pairs with this status code.")
	since := flag.Duration("since", time.Hour, "How far back to look.")
	limit := flag.Int("limit", 20, "Maximum number of pairs.")
	flag.Parse()

	req := query.HistoryRequest{
		Host:       *host,
		Method:     *method,
		StatusCode: *status,
		Since:      time.Now().Add(-*since).UTC(),
		Limit:      *limit,
	}

	log.Printf("Running in '%s' mode.", *mode)
	switch *mode {
	case "api":
		printRecords(queryViaAPI(*apiAddr, req))
	case "direct":
		printRecords(directQueryClickHouse(*configPath, req))
	case "health":
		checkHealth(*grpcAddr)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api', 'direct' or 'health'.", *mode)
	}
}

func queryViaAPI(base string, req query.HistoryRequest) []model.PairRecord {
	params := url.Values{}
	if req.Host != "" {
		params.Set("host", req.Host)
	}
	if req.Method != "" {
		params.Set("method", req.Method)
	}
	if req.StatusCode > 0 {
		params.Set("status", strconv.Itoa(req.StatusCode))
	}
	params.Set("since", req.Since.Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(req.Limit))

	resp, err := http.Get(base + "/api/v1/history?" + params.Encode())
	if err != nil {
		log.Fatalf("Error sending request to API: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status: %s\nBody: %s", resp.Status, string(body))
	}

	var records []model.PairRecord
	if err := json.Unmarshal(body, &records); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}
	return records
}

func directQueryClickHouse(configPath string, req query.HistoryRequest) []model.PairRecord {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	chCfg, ok := cfg.ClickHouse()
	if !ok {
		log.Fatalf("No enabled ClickHouse writer found in %s", configPath)
	}
	querier, err := query.NewClickHouseQuerier(chCfg)
	if err != nil {
		log.Fatalf("Failed to create querier: %v", err)
	}
	defer querier.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := querier.History(ctx, req)
	if err != nil {
		log.Fatalf("Failed to query history: %v", err)
	}
	return records
}

func checkHealth(addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}
	fmt.Printf("Bridge health: %s\n", resp.GetStatus())
}

func printRecords(records []model.PairRecord) {
	printer := console.NewPrinter(os.Stdout)
	for _, rec := range records {
		printer.Print(rec)
	}
	fmt.Printf("--- %d pairs ---\n", len(records))
}
