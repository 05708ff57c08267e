package writer

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"CaptureBridge/internal/config"
	"CaptureBridge/internal/factory"
	"CaptureBridge/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func testPair(id, clientIP, serverIP string, request, response string) *model.MatchedHttpPair {
	req := &model.CapturedEvent{
		Timestamp: 1700000000,
		UUID:      "sock:1_2_curl_0_1_x_0",
		Type:      model.EventTypeHTTP1Request,
		SrcIP:     clientIP,
		SrcPort:   51000,
		DstIP:     serverIP,
		DstPort:   80,
		PID:       1234,
		Payload:   []byte(request),
	}
	pair := model.NewMatchedHttpPair(id, req, time.Unix(1700000000, 0))
	if response != "" {
		pair.AttachResponse(&model.CapturedEvent{
			Type:    model.EventTypeHTTP1Response,
			SrcIP:   serverIP,
			SrcPort: 80,
			DstIP:   clientIP,
			DstPort: 51000,
			Payload: []byte(response),
		})
	}
	return pair
}

const (
	sampleRequest  = "GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n"
	sampleResponse = "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
)

func TestGobWriter_WriteAndRead(t *testing.T) {
	root := t.TempDir()
	w := NewGobWriter(root, time.Second)

	pairs := []*model.MatchedHttpPair{
		testPair("p1", "10.0.0.2", "10.0.0.1", sampleRequest, sampleResponse),
		testPair("p2", "10.0.0.2", "10.0.0.1", sampleRequest, ""),
	}
	// 1. Write the snapshot.
	if err := w.Write(pairs, "2024-01-01_00-00-00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// 2. Read the records back.
	snapshotDir := filepath.Join(root, "2024-01-01_00-00-00")
	records, err := ReadGobSnapshot(snapshotDir)
	if err != nil {
		t.Fatalf("ReadGobSnapshot failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != "p1" || !records[0].Complete || records[1].Complete {
		t.Errorf("Unexpected records: %+v", records)
	}
	if string(records[0].Response) != sampleResponse {
		t.Errorf("Response payload lost: %q", records[0].Response)
	}

	// 3. Verify the summary.
	data, err := os.ReadFile(filepath.Join(snapshotDir, "summary.json"))
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("Invalid summary json: %v", err)
	}
	if summary.TotalPairs != 2 || summary.CompletedPairs != 1 || summary.Hosts["example.com"] != 2 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if summary.RequestBytes != uint64(2*len(sampleRequest)) || summary.ResponseBytes != uint64(len(sampleResponse)) {
		t.Errorf("Unexpected byte counts: %+v", summary)
	}
}

func TestGobWriter_EmptyBatchWritesNothing(t *testing.T) {
	root := t.TempDir()
	if err := NewGobWriter(root, time.Second).Write(nil, "ts"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("Expected no output, found %d entries", len(entries))
	}
}

func readPcap(t *testing.T, path string) []gopacket.Packet {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open pcap: %v", err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf("Failed to read pcap header: %v", err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		t.Fatalf("Unexpected link type %s", r.LinkType())
	}
	var packets []gopacket.Packet
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		packets = append(packets, gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default))
	}
	return packets
}

func TestPcapWriter_Write(t *testing.T) {
	root := t.TempDir()
	w, err := NewPcapWriter(root, time.Second)
	if err != nil {
		t.Fatalf("NewPcapWriter failed: %v", err)
	}
	pair := testPair("p1", "10.0.0.2", "10.0.0.1", sampleRequest, sampleResponse)
	if err := w.Write([]*model.MatchedHttpPair{pair}, "snap"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	packets := readPcap(t, filepath.Join(root, "snap.pcap"))
	if len(packets) != 2 {
		t.Fatalf("Expected 2 packets, got %d", len(packets))
	}

	reqTCP := packets[0].Layer(layers.LayerTypeTCP).(*layers.TCP)
	reqIP := packets[0].Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if reqIP.SrcIP.String() != "10.0.0.2" || reqIP.DstIP.String() != "10.0.0.1" || reqTCP.DstPort != 80 || reqTCP.SrcPort != 51000 {
		t.Errorf("Unexpected request addressing %s:%d -> %s:%d", reqIP.SrcIP, reqTCP.SrcPort, reqIP.DstIP, reqTCP.DstPort)
	}
	if string(reqTCP.Payload) != sampleRequest {
		t.Errorf("Unexpected request payload %q", reqTCP.Payload)
	}

	respTCP := packets[1].Layer(layers.LayerTypeTCP).(*layers.TCP)
	if respTCP.SrcPort != 80 || string(respTCP.Payload) != sampleResponse {
		t.Errorf("Unexpected response segment: port %d payload %q", respTCP.SrcPort, respTCP.Payload)
	}
	if respTCP.Ack != reqTCP.Seq+uint32(len(sampleRequest)) {
		t.Errorf("Response ack %d does not follow the request", respTCP.Ack)
	}
}

func TestPairPackets_Segmentation(t *testing.T) {
	body := strings.Repeat("x", 3000)
	rec := testPair("big", "10.0.0.2", "10.0.0.1", "POST /u HTTP/1.1\r\nHost: h\r\n\r\n"+body, "").Record()

	packets, err := PairPackets(rec)
	if err != nil {
		t.Fatalf("PairPackets failed: %v", err)
	}
	if len(packets) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(packets))
	}
	var joined []byte
	var nextSeq uint32
	for i, p := range packets {
		tcp := gopacket.NewPacket(p.Data, layers.LayerTypeEthernet, gopacket.Default).Layer(layers.LayerTypeTCP).(*layers.TCP)
		if i > 0 && tcp.Seq != nextSeq {
			t.Errorf("Segment %d seq %d, want %d", i, tcp.Seq, nextSeq)
		}
		nextSeq = tcp.Seq + uint32(len(tcp.Payload))
		joined = append(joined, tcp.Payload...)
	}
	if !bytes.Equal(joined, rec.Request) {
		t.Error("Segments do not reassemble to the request")
	}
}

func TestPairPackets_IPv6AndUnknownAddresses(t *testing.T) {
	rec := testPair("v6", "fe80::1", "2001:db8::2", sampleRequest, "").Record()
	packets, err := PairPackets(rec)
	if err != nil || len(packets) != 1 {
		t.Fatalf("PairPackets = %d packets, %v", len(packets), err)
	}
	pkt := gopacket.NewPacket(packets[0].Data, layers.LayerTypeEthernet, gopacket.Default)
	ip, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	if !ok || ip.DstIP.String() != "2001:db8::2" {
		t.Errorf("Expected an IPv6 packet to 2001:db8::2, got %v", pkt)
	}

	rec = testPair("unknown", "", "", sampleRequest, "").Record()
	if _, err := PairPackets(rec); err != nil {
		t.Errorf("Missing addresses should fall back to placeholders: %v", err)
	}
}

func TestClickHouseRow(t *testing.T) {
	snap := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	row := clickhouseRow(snap, testPair("p1", "10.0.0.2", "10.0.0.1", sampleRequest, sampleResponse).Record())
	if len(row) != 19 {
		t.Fatalf("Expected 19 columns, got %d", len(row))
	}
	if status, ok := row[6].(*uint16); !ok || status == nil || *status != 200 {
		t.Errorf("Unexpected status column %v", row[6])
	}
	if row[7].(uint16) != 80 || row[10].(int64) != 1234 || row[15].(uint32) != uint32(len(sampleRequest)) {
		t.Errorf("Unexpected numeric columns %v", row)
	}

	row = clickhouseRow(snap, testPair("p2", "10.0.0.2", "10.0.0.1", sampleRequest, "").Record())
	if status := row[6].(*uint16); status != nil {
		t.Errorf("Expected NULL status for an incomplete pair, got %d", *status)
	}
}

func TestRegisteredWriters(t *testing.T) {
	names := strings.Join(factory.Registered(), ",")
	for _, want := range []string{"clickhouse", "gob", "pcap"} {
		if !strings.Contains(names, want) {
			t.Errorf("Writer %q not registered (have %s)", want, names)
		}
	}

	root := t.TempDir()
	writers, err := factory.Create(&config.Config{Writers: []config.WriterDef{
		{Type: "gob", Enabled: true, SnapshotInterval: "15s", Gob: config.GobConfig{RootPath: root}},
		{Type: "pcap", Enabled: true, SnapshotInterval: "1m", Pcap: config.PcapConfig{RootPath: filepath.Join(root, "pcap")}},
	}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(writers) != 2 || writers[0].GetInterval() != 15*time.Second || writers[1].Name() != "pcap" {
		t.Errorf("Unexpected writers %v", writers)
	}

	_, err = factory.Create(&config.Config{Writers: []config.WriterDef{{Type: "gob", Enabled: true, SnapshotInterval: "never"}}})
	if err == nil {
		t.Error("Expected an interval error")
	}
}
