package transport

import (
	"testing"

	"CaptureBridge/internal/engine/protocol"
	"CaptureBridge/internal/model"
)

type heartbeatCall struct {
	timestamp, count int64
	message          string
}

type fakeEngine struct {
	events     []*model.CapturedEvent
	heartbeats []heartbeatCall
	logs       []string
}

func (e *fakeEngine) OnEvent(ev *model.CapturedEvent) { e.events = append(e.events, ev) }
func (e *fakeEngine) OnHeartbeat(ts, count int64, msg string) {
	e.heartbeats = append(e.heartbeats, heartbeatCall{ts, count, msg})
}
func (e *fakeEngine) OnRuntimeLog(line string) { e.logs = append(e.logs, line) }

func TestDispatcher_Routes(t *testing.T) {
	engine := &fakeEngine{}
	d := NewDispatcher(engine)

	d.HandleFrame(&protocol.Frame{LogType: protocol.LogTypeHeartbeat, Heartbeat: &protocol.Heartbeat{Timestamp: 5, Count: 6, Message: "m"}})
	d.HandleFrame(&protocol.Frame{LogType: protocol.LogTypeHeartbeat})
	d.HandleFrame(&protocol.Frame{LogType: protocol.LogTypeProcessLog, RunLog: "line", HasRunLog: true})
	d.HandleFrame(&protocol.Frame{LogType: protocol.LogTypeProcessLog, HasRunLog: true})
	d.HandleFrame(&protocol.Frame{LogType: protocol.LogTypeUnknown})
	d.HandleFrame(&protocol.Frame{LogType: protocol.LogTypeEvent})

	if len(engine.heartbeats) != 1 || engine.heartbeats[0] != (heartbeatCall{5, 6, "m"}) {
		t.Errorf("Unexpected heartbeats: %+v", engine.heartbeats)
	}
	if len(engine.logs) != 1 || engine.logs[0] != "line" {
		t.Errorf("Expected one non-empty log line, got %v", engine.logs)
	}
	if d.UnknownFrames() != 1 {
		t.Errorf("Expected 1 unknown frame, got %d", d.UnknownFrames())
	}
	if len(engine.events) != 0 {
		t.Errorf("An event frame without payload must not reach the engine")
	}
}

func TestDispatcher_EmptyMessageIsNotAHeartbeat(t *testing.T) {
	engine := &fakeEngine{}
	d := NewDispatcher(engine)

	// 1. An empty binary message decodes to a heartbeat frame without payload.
	frame, err := protocol.Decode(nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	d.HandleFrame(frame)
	if len(engine.heartbeats) != 0 {
		t.Fatalf("Empty message refreshed liveness: %+v", engine.heartbeats)
	}

	// 2. A heartbeat message with all fields at zero still counts.
	frame, err = protocol.Decode(protocol.HeartbeatFrame(&protocol.Heartbeat{}))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	d.HandleFrame(frame)
	if len(engine.heartbeats) != 1 || engine.heartbeats[0] != (heartbeatCall{}) {
		t.Errorf("Expected one empty heartbeat, got %+v", engine.heartbeats)
	}
}

func TestDispatcher_ClassifiesEvents(t *testing.T) {
	engine := &fakeEngine{}
	d := NewDispatcher(engine)

	events := []*protocol.Event{
		{UUID: "a", PName: "curl", PID: 7, Type: 3, Payload: []byte("HTTP/1.1 200 OK\r\n")},
		{UUID: "b", Type: 0, Payload: []byte("POST /x HTTP/1.1\r\n")},
		{UUID: "c", Type: 0, Payload: []byte("\x16\x03\x01 binary noise")},
		{UUID: "d", Type: 0},
	}
	for _, ev := range events {
		d.HandleFrame(&protocol.Frame{LogType: protocol.LogTypeEvent, Event: ev})
	}

	if len(engine.events) != 2 {
		t.Fatalf("Expected 2 classified events, got %d", len(engine.events))
	}
	first := engine.events[0]
	if first.Type != model.EventTypeHTTP1Response || first.ProcessName != "curl" || first.PID != 7 || first.ReceivedAt.IsZero() {
		t.Errorf("Unexpected first event: %s", first)
	}
	if engine.events[1].Type != model.EventTypeAutoRequest {
		t.Errorf("Expected sniffed request, got %s", engine.events[1].Type)
	}
	if d.Unclassified() != 2 {
		t.Errorf("Expected 2 unclassified events, got %d", d.Unclassified())
	}
}
