package writer

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"CaptureBridge/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	pcapSnapLen = 65536
	// segmentSize is the TCP payload carried per synthesised packet.
	segmentSize = 1400
)

var (
	clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	serverMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// PcapWriter exports pairs as a Wireshark readable capture. The agent only
// reports decrypted payloads, so every pair is rebuilt as plaintext TCP
// segments between the captured endpoints.
type PcapWriter struct {
	rootPath string
	interval time.Duration
}

// NewPcapWriter creates a writer that emits one pcap file per snapshot.
func NewPcapWriter(rootPath string, interval time.Duration) (model.Writer, error) {
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pcap directory: %w", err)
	}
	return &PcapWriter{rootPath: rootPath, interval: interval}, nil
}

func (w *PcapWriter) GetInterval() time.Duration { return w.interval }

func (w *PcapWriter) Name() string { return "pcap" }

// Write creates <root>/<timestamp>.pcap holding the segments of every pair.
func (w *PcapWriter) Write(pairs []*model.MatchedHttpPair, timestamp string) error {
	if len(pairs) == 0 {
		return nil
	}
	path := filepath.Join(w.rootPath, timestamp+".pcap")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create pcap file: %w", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}

	written := 0
	for _, p := range pairs {
		packets, err := PairPackets(p.Record())
		if err != nil {
			log.Printf("PcapWriter: skipping pair %s: %v", p.ID(), err)
			continue
		}
		for _, pkt := range packets {
			ci := gopacket.CaptureInfo{
				Timestamp:     pkt.Timestamp,
				CaptureLength: len(pkt.Data),
				Length:        len(pkt.Data),
			}
			if err := pcapWriter.WritePacket(ci, pkt.Data); err != nil {
				return fmt.Errorf("failed to write packet: %w", err)
			}
			written++
		}
	}
	log.Printf("PcapWriter: wrote %d packets for %d pairs to %s", written, len(pairs), path)
	return nil
}

// Packet is one serialised frame with its capture time.
type Packet struct {
	Timestamp time.Time
	Data      []byte
}

// PairPackets rebuilds the request and response of rec as Ethernet frames.
func PairPackets(rec model.PairRecord) ([]Packet, error) {
	client, server := net.ParseIP(rec.ClientIP), net.ParseIP(rec.ServerIP)
	v4 := (client == nil || client.To4() != nil) && (server == nil || server.To4() != nil)
	client, server = normaliseIP(client, v4), normaliseIP(server, v4)

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = rec.CreatedAt
	}

	up := flow{srcMAC: clientMAC, dstMAC: serverMAC, srcIP: client, dstIP: server,
		srcPort: layers.TCPPort(rec.ClientPort), dstPort: layers.TCPPort(rec.ServerPort), v4: v4, seq: 1, ack: 1}
	down := flow{srcMAC: serverMAC, dstMAC: clientMAC, srcIP: server, dstIP: client,
		srcPort: layers.TCPPort(rec.ServerPort), dstPort: layers.TCPPort(rec.ClientPort), v4: v4, seq: 1,
		ack: 1 + uint32(len(rec.Request))}

	var packets []Packet
	reqPackets, err := up.segments(rec.Request, ts)
	if err != nil {
		return nil, err
	}
	packets = append(packets, reqPackets...)

	respPackets, err := down.segments(rec.Response, ts.Add(time.Millisecond))
	if err != nil {
		return nil, err
	}
	return append(packets, respPackets...), nil
}

func normaliseIP(ip net.IP, v4 bool) net.IP {
	if ip == nil {
		if v4 {
			return net.IPv4zero.To4()
		}
		return net.IPv6zero
	}
	if v4 {
		return ip.To4()
	}
	return ip.To16()
}

type flow struct {
	srcMAC, dstMAC   net.HardwareAddr
	srcIP, dstIP     net.IP
	srcPort, dstPort layers.TCPPort
	v4               bool
	seq, ack         uint32
}

func (f *flow) segments(payload []byte, ts time.Time) ([]Packet, error) {
	var out []Packet
	for off := 0; off < len(payload); off += segmentSize {
		chunk := payload[off:min(off+segmentSize, len(payload))]
		data, err := f.serialize(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, Packet{Timestamp: ts, Data: data})
		f.seq += uint32(len(chunk))
	}
	return out, nil
}

func (f *flow) serialize(payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{SrcMAC: f.srcMAC, DstMAC: f.dstMAC}
	tcp := &layers.TCP{
		SrcPort: f.srcPort,
		DstPort: f.dstPort,
		Seq:     f.seq,
		Ack:     f.ack,
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}

	var network gopacket.SerializableLayer
	if f.v4 {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: f.srcIP, DstIP: f.dstIP}
		tcp.SetNetworkLayerForChecksum(ip)
		network = ip
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolTCP, SrcIP: f.srcIP, DstIP: f.dstIP}
		tcp.SetNetworkLayerForChecksum(ip)
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network, tcp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}
	return buf.Bytes(), nil
}
