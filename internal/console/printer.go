// Package console prints pair records for operators.
package console

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"CaptureBridge/internal/model"

	"github.com/fatih/color"
)

var (
	timeColor    = color.New(color.FgCyan)
	methodColor  = color.New(color.Bold)
	okColor      = color.New(color.FgGreen)
	redirColor   = color.New(color.FgBlue)
	clientColor  = color.New(color.FgYellow)
	serverColor  = color.New(color.FgRed)
	pendingColor = color.New(color.Faint)
)

// Printer writes one line per record. It is safe for concurrent use.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Print writes rec as
// "15:04:05 GET example.com/path -> 200 [curl (123)] 10.0.0.2:51000 -> 10.0.0.1:80".
func (p *Printer) Print(rec model.PairRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = rec.CreatedAt
	}
	timeColor.Fprint(p.w, ts.Format("15:04:05"))
	fmt.Fprint(p.w, " ")
	methodColor.Fprint(p.w, rec.Method)
	fmt.Fprintf(p.w, " %s%s -> ", rec.Host, rec.URL)
	statusColor(rec.StatusCode).Fprint(p.w, rec.StatusCode)
	fmt.Fprintf(p.w, " [%s (%d)] %s:%d -> %s:%d\n",
		rec.ProcessName, rec.PID, rec.ClientIP, rec.ClientPort, rec.ServerIP, rec.ServerPort)
}

// PairListener adapts the printer to pair notifications, printing each pair
// once it is complete.
func (p *Printer) PairListener() model.PairListener {
	return func(pair *model.MatchedHttpPair) {
		if pair.IsComplete() {
			p.Print(pair.Record())
		}
	}
}

func statusColor(status string) *color.Color {
	code, err := strconv.Atoi(status)
	switch {
	case err != nil:
		return pendingColor
	case code >= 500:
		return serverColor
	case code >= 400:
		return clientColor
	case code >= 300:
		return redirColor
	default:
		return okColor
	}
}
