// Package mockagent stands in for the capture agent: it serves agent frames
// over WebSocket, built from a pcap file or from synthetic traffic.
package mockagent

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"CaptureBridge/internal/engine/protocol"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	mockPID   = 4242
	mockPName = "mock"
)

// endpoint is one side of a TCP conversation.
type endpoint struct {
	ip   string
	port uint16
}

type conversation struct {
	a, b endpoint
}

// stream tracks the event being reassembled for one conversation.
type stream struct {
	index int
	seq   int
	last  *protocol.Event
	from  endpoint
}

// LoadPcap reads TCP payloads from a pcap file and folds consecutive segments
// of one direction into a single event.
func LoadPcap(path string) ([]*protocol.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file: %w", err)
	}
	defer f.Close()
	return ReadPcap(f)
}

// ReadPcap is LoadPcap over an open reader.
func ReadPcap(r io.Reader) ([]*protocol.Event, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}

	var events []*protocol.Event
	streams := make(map[conversation]*stream)

	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)
		if len(tcp.Payload) == 0 {
			continue
		}
		var srcIP, dstIP string
		switch ip := packet.NetworkLayer().(type) {
		case *layers.IPv4:
			srcIP, dstIP = ip.SrcIP.String(), ip.DstIP.String()
		case *layers.IPv6:
			srcIP, dstIP = ip.SrcIP.String(), ip.DstIP.String()
		default:
			continue
		}

		from := endpoint{srcIP, uint16(tcp.SrcPort)}
		to := endpoint{dstIP, uint16(tcp.DstPort)}
		key := conversationKey(from, to)
		s, ok := streams[key]
		if !ok {
			s = &stream{index: len(streams) + 1}
			streams[key] = s
		}

		if s.last != nil && s.from == from {
			s.last.Payload = append(s.last.Payload, tcp.Payload...)
			s.last.Length = uint32(len(s.last.Payload))
			continue
		}

		s.seq++
		ev := &protocol.Event{
			Timestamp: ci.Timestamp.Unix(),
			UUID:      streamUUID(s.index, s.seq, from, to),
			SrcIP:     from.ip,
			SrcPort:   uint32(from.port),
			DstIP:     to.ip,
			DstPort:   uint32(to.port),
			PID:       mockPID,
			PName:     mockPName,
			Type:      declaredType(tcp.Payload),
			Payload:   append([]byte(nil), tcp.Payload...),
		}
		ev.Length = uint32(len(ev.Payload))
		s.last, s.from = ev, from
		events = append(events, ev)
	}
	return events, nil
}

func conversationKey(x, y endpoint) conversation {
	if x.ip < y.ip || (x.ip == y.ip && x.port < y.port) {
		return conversation{x, y}
	}
	return conversation{y, x}
}

// streamUUID follows the agent layout "sock:<pid>_<fd>_<comm>_<...>"; the
// first three segments name the connection.
func streamUUID(index, seq int, from, to endpoint) string {
	return fmt.Sprintf("sock:%d_%d_%s_0_%d_%s:%d-%s:%d_%d",
		mockPID, index, mockPName, seq%2, from.ip, from.port, to.ip, to.port, seq)
}

var httpMethods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("DELETE "),
	[]byte("HEAD "), []byte("OPTIONS "), []byte("PATCH "), []byte("CONNECT "), []byte("TRACE "),
}

// declaredType labels HTTP/1 payloads the way the agent does and leaves the
// rest for the bridge to sniff.
func declaredType(payload []byte) uint32 {
	if bytes.HasPrefix(payload, []byte("HTTP/1.")) {
		return 3
	}
	for _, m := range httpMethods {
		if bytes.HasPrefix(payload, m) {
			return 1
		}
	}
	return 0
}

// Synthetic builds n request/response exchanges against host, each on its own
// connection.
func Synthetic(n int, host string, start time.Time) []*protocol.Event {
	client := endpoint{"10.0.0.2", 0}
	server := endpoint{"10.0.0.1", 80}
	events := make([]*protocol.Event, 0, 2*n)
	for i := 1; i <= n; i++ {
		client.port = uint16(40000 + i%20000)
		ts := start.Add(time.Duration(i) * time.Second).Unix()
		status := "200 OK"
		if i%10 == 0 {
			status = "404 Not Found"
		}
		req := fmt.Sprintf("GET /item/%d HTTP/1.1\r\nHost: %s\r\nUser-Agent: mockagent\r\n\r\n", i, host)
		body := fmt.Sprintf(`{"item":%d}`, i)
		resp := fmt.Sprintf("HTTP/1.1 %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", status, len(body), body)

		events = append(events,
			&protocol.Event{
				Timestamp: ts, UUID: streamUUID(i, 1, client, server),
				SrcIP: client.ip, SrcPort: uint32(client.port), DstIP: server.ip, DstPort: uint32(server.port),
				PID: mockPID, PName: mockPName, Type: 1, Length: uint32(len(req)), Payload: []byte(req),
			},
			&protocol.Event{
				Timestamp: ts, UUID: streamUUID(i, 2, server, client),
				SrcIP: server.ip, SrcPort: uint32(server.port), DstIP: client.ip, DstPort: uint32(client.port),
				PID: mockPID, PName: mockPName, Type: 3, Length: uint32(len(resp)), Payload: []byte(resp),
			})
	}
	return events
}
