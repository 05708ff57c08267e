package model

import "time"

// PairRecord is the flat, immutable export form of a MatchedHttpPair used by
// the sinks, the NATS feed and the API.
type PairRecord struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Timestamp   time.Time `json:"timestamp"`
	Method      string    `json:"method"`
	Host        string    `json:"host"`
	URL         string    `json:"url"`
	StatusCode  string    `json:"status_code"`
	Port        int       `json:"port"`
	HTTPS       bool      `json:"https"`
	Complete    bool      `json:"complete"`
	ProcessName string    `json:"process_name"`
	PID         int64     `json:"pid"`
	ClientIP    string    `json:"client_ip"`
	ClientPort  uint32    `json:"client_port"`
	ServerIP    string    `json:"server_ip"`
	ServerPort  uint32    `json:"server_port"`
	Request     []byte    `json:"request,omitempty"`
	Response    []byte    `json:"response,omitempty"`
}

// Record snapshots p. Payloads are shared with the underlying events, which
// are never modified.
func (p *MatchedHttpPair) Record() PairRecord {
	req, resp := p.Request(), p.Response()
	r := PairRecord{
		ID:         p.ID(),
		CreatedAt:  p.CreatedAt(),
		Timestamp:  p.Timestamp(),
		Method:     p.Method(),
		Host:       p.Host(),
		URL:        p.URL(),
		StatusCode: p.StatusCode(),
		Port:       p.Port(),
		HTTPS:      p.IsHTTPS(),
		Complete:   req != nil && resp != nil,
	}
	switch {
	case req != nil:
		r.ProcessName, r.PID = req.ProcessName, req.PID
		r.ClientIP, r.ClientPort = req.SrcIP, req.SrcPort
		r.ServerIP, r.ServerPort = req.DstIP, req.DstPort
		r.Request = req.Payload
	case resp != nil:
		r.ProcessName, r.PID = resp.ProcessName, resp.PID
		r.ClientIP, r.ClientPort = resp.DstIP, resp.DstPort
		r.ServerIP, r.ServerPort = resp.SrcIP, resp.SrcPort
	}
	if resp != nil {
		r.Response = resp.Payload
	}
	return r
}
