package protocol

import "google.golang.org/protobuf/encoding/protowire"

// The builders below produce agent frames in wire format. They exist for
// tests and for the mock agent; the bridge itself only ever decodes.

// AppendEvent appends an encoded Event message body to b.
func AppendEvent(b []byte, ev *Event) []byte {
	b = appendVarintField(b, 1, uint64(ev.Timestamp))
	b = appendStringField(b, 2, ev.UUID)
	b = appendStringField(b, 3, ev.SrcIP)
	b = appendVarintField(b, 4, uint64(ev.SrcPort))
	b = appendStringField(b, 5, ev.DstIP)
	b = appendVarintField(b, 6, uint64(ev.DstPort))
	b = appendVarintField(b, 7, uint64(ev.PID))
	b = appendStringField(b, 8, ev.PName)
	b = appendVarintField(b, 9, uint64(ev.Type))
	b = appendVarintField(b, 10, uint64(ev.Length))
	if len(ev.Payload) > 0 {
		b = protowire.AppendTag(b, 11, protowire.BytesType)
		b = protowire.AppendBytes(b, ev.Payload)
	}
	return b
}

// EventFrame encodes a LogEntry carrying ev.
func EventFrame(ev *Event) []byte {
	b := appendVarintField(nil, fieldLogType, uint64(LogTypeEvent))
	b = protowire.AppendTag(b, fieldEvent, protowire.BytesType)
	return protowire.AppendBytes(b, AppendEvent(nil, ev))
}

// HeartbeatFrame encodes a LogEntry carrying a heartbeat.
func HeartbeatFrame(hb *Heartbeat) []byte {
	var body []byte
	body = appendVarintField(body, 1, uint64(hb.Timestamp))
	body = appendVarintField(body, 2, uint64(hb.Count))
	body = appendStringField(body, 3, hb.Message)

	b := protowire.AppendTag(nil, fieldLogType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(LogTypeHeartbeat))
	b = protowire.AppendTag(b, fieldHeartbeat, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// RunLogFrame encodes a LogEntry carrying a runtime log line.
func RunLogFrame(line string) []byte {
	b := appendVarintField(nil, fieldLogType, uint64(LogTypeProcessLog))
	b = protowire.AppendTag(b, fieldRunLog, protowire.BytesType)
	return protowire.AppendString(b, line)
}

// Zero values are omitted, as a proto3 encoder would.
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
