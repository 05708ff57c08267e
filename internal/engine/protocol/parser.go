package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// LogType is the discriminant of a top level LogEntry frame.
type LogType int32

const (
	LogTypeHeartbeat  LogType = 0
	LogTypeProcessLog LogType = 1
	LogTypeEvent      LogType = 2
	LogTypeUnknown    LogType = -1
)

func (t LogType) String() string {
	switch t {
	case LogTypeHeartbeat:
		return "HEARTBEAT"
	case LogTypeProcessLog:
		return "PROCESS_LOG"
	case LogTypeEvent:
		return "EVENT"
	default:
		return "UNRECOGNIZED"
	}
}

func logTypeFor(v uint64) LogType {
	switch v {
	case 0, 1, 2:
		return LogType(v)
	default:
		return LogTypeUnknown
	}
}

// Field numbers of the LogEntry message.
const (
	fieldLogType   protowire.Number = 1
	fieldEvent     protowire.Number = 2
	fieldHeartbeat protowire.Number = 3
	fieldRunLog    protowire.Number = 4
)

var (
	logEntryFields = fieldTypes{
		fieldLogType:   protowire.VarintType,
		fieldEvent:     protowire.BytesType,
		fieldHeartbeat: protowire.BytesType,
		fieldRunLog:    protowire.BytesType,
	}
	eventFields = fieldTypes{
		1: protowire.VarintType, 2: protowire.BytesType, 3: protowire.BytesType,
		4: protowire.VarintType, 5: protowire.BytesType, 6: protowire.VarintType,
		7: protowire.VarintType, 8: protowire.BytesType, 9: protowire.VarintType,
		10: protowire.VarintType, 11: protowire.BytesType,
	}
	heartbeatFields = fieldTypes{
		1: protowire.VarintType, 2: protowire.VarintType, 3: protowire.BytesType,
	}
)

// Frame is one decoded LogEntry. At most one of Event, Heartbeat and RunLog is
// expected to be set, selected by LogType.
type Frame struct {
	LogType   LogType
	Event     *Event
	Heartbeat *Heartbeat
	RunLog    string
	HasRunLog bool
}

// Event is the raw event message as sent by the agent.
type Event struct {
	Timestamp int64
	UUID      string
	SrcIP     string
	SrcPort   uint32
	DstIP     string
	DstPort   uint32
	PID       int64
	PName     string
	Type      uint32
	Length    uint32
	Payload   []byte
}

// Heartbeat is the keep-alive message of the agent.
type Heartbeat struct {
	Timestamp int64
	Count     int64
	Message   string
}

// Decode parses a single LogEntry frame. Errors wrap ErrMalformedFrame.
func Decode(data []byte) (*Frame, error) {
	c := newCursor(data, "LogEntry")
	frame := &Frame{LogType: LogTypeHeartbeat}
	for {
		num, typ, ok, err := c.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return frame, nil
		}
		if !logEntryFields.known(num, typ) {
			if err := c.skip(num, typ); err != nil {
				return nil, err
			}
			continue
		}
		switch num {
		case fieldLogType:
			v, err := c.varint(num)
			if err != nil {
				return nil, err
			}
			frame.LogType = logTypeFor(v)
		case fieldEvent:
			b, err := c.bytes(num)
			if err != nil {
				return nil, err
			}
			if frame.Event, err = parseEvent(b); err != nil {
				return nil, err
			}
		case fieldHeartbeat:
			b, err := c.bytes(num)
			if err != nil {
				return nil, err
			}
			if frame.Heartbeat, err = parseHeartbeat(b); err != nil {
				return nil, err
			}
		case fieldRunLog:
			if frame.RunLog, err = c.string(num); err != nil {
				return nil, err
			}
			frame.HasRunLog = true
		}
	}
}

func parseEvent(data []byte) (*Event, error) {
	c := newCursor(data, "Event")
	ev := &Event{}
	for {
		num, typ, ok, err := c.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return ev, nil
		}
		if !eventFields.known(num, typ) {
			if err := c.skip(num, typ); err != nil {
				return nil, err
			}
			continue
		}
		switch num {
		case 1:
			ev.Timestamp, err = c.int64(num)
		case 2:
			ev.UUID, err = c.string(num)
		case 3:
			ev.SrcIP, err = c.string(num)
		case 4:
			ev.SrcPort, err = c.uint32(num)
		case 5:
			ev.DstIP, err = c.string(num)
		case 6:
			ev.DstPort, err = c.uint32(num)
		case 7:
			ev.PID, err = c.int64(num)
		case 8:
			ev.PName, err = c.string(num)
		case 9:
			ev.Type, err = c.uint32(num)
		case 10:
			ev.Length, err = c.uint32(num)
		case 11:
			var b []byte
			if b, err = c.bytes(num); err == nil {
				ev.Payload = append([]byte(nil), b...)
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func parseHeartbeat(data []byte) (*Heartbeat, error) {
	c := newCursor(data, "Heartbeat")
	hb := &Heartbeat{}
	for {
		num, typ, ok, err := c.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return hb, nil
		}
		if !heartbeatFields.known(num, typ) {
			if err := c.skip(num, typ); err != nil {
				return nil, err
			}
			continue
		}
		switch num {
		case 1:
			hb.Timestamp, err = c.int64(num)
		case 2:
			hb.Count, err = c.int64(num)
		case 3:
			hb.Message, err = c.string(num)
		}
		if err != nil {
			return nil, err
		}
	}
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	return fmt.Sprintf("LogEntry{logType=%s, event=%t, heartbeat=%t, runLog=%t}",
		f.LogType, f.Event != nil, f.Heartbeat != nil, f.HasRunLog)
}
