package transport

import (
	"log"
	"sync/atomic"
	"time"

	"CaptureBridge/internal/engine/classifier"
	"CaptureBridge/internal/engine/protocol"
	"CaptureBridge/internal/model"
)

// Engine receives the routed agent messages.
type Engine interface {
	OnEvent(ev *model.CapturedEvent)
	OnHeartbeat(timestamp, count int64, message string)
	OnRuntimeLog(line string)
}

// Dispatcher routes decoded frames to an Engine by log type.
type Dispatcher struct {
	engine Engine
	now    func() time.Time

	unclassified atomic.Uint64
	unknownTypes atomic.Uint64
}

// NewDispatcher creates a Dispatcher for engine.
func NewDispatcher(engine Engine) *Dispatcher {
	return &Dispatcher{engine: engine, now: time.Now}
}

// HandleFrame implements FrameHandler.
func (d *Dispatcher) HandleFrame(frame *protocol.Frame) {
	switch frame.LogType {
	case protocol.LogTypeHeartbeat:
		// Empty binary messages decode as heartbeats without payload; only a
		// heartbeat message counts for liveness.
		if hb := frame.Heartbeat; hb != nil {
			d.engine.OnHeartbeat(hb.Timestamp, hb.Count, hb.Message)
		}
	case protocol.LogTypeProcessLog:
		if frame.RunLog != "" {
			d.engine.OnRuntimeLog(frame.RunLog)
		}
	case protocol.LogTypeEvent:
		if frame.Event != nil {
			d.dispatchEvent(frame.Event)
		}
	default:
		d.unknownTypes.Add(1)
		log.Printf("Dispatcher: ignoring frame with unknown log type")
	}
}

func (d *Dispatcher) dispatchEvent(raw *protocol.Event) {
	typ := classifier.Detect(raw.Type, raw.Payload)
	if typ.Kind() == model.KindUnknown {
		d.unclassified.Add(1)
		return
	}
	d.engine.OnEvent(&model.CapturedEvent{
		Timestamp:   raw.Timestamp,
		UUID:        raw.UUID,
		SrcIP:       raw.SrcIP,
		SrcPort:     raw.SrcPort,
		DstIP:       raw.DstIP,
		DstPort:     raw.DstPort,
		PID:         raw.PID,
		ProcessName: raw.PName,
		Type:        typ,
		Length:      raw.Length,
		Payload:     raw.Payload,
		ReceivedAt:  d.now(),
	})
}

// Unclassified returns how many events were dropped because they were
// neither requests nor responses.
func (d *Dispatcher) Unclassified() uint64 { return d.unclassified.Load() }

// UnknownFrames returns how many frames carried an unrecognised log type.
func (d *Dispatcher) UnknownFrames() uint64 { return d.unknownTypes.Load() }
