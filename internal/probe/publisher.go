package probe

import (
	"fmt"
	"log"

	"CaptureBridge/internal/config"
	"CaptureBridge/internal/model"

	"github.com/nats-io/nats.go"
)

// Publisher is responsible for publishing pair records to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("capturebridge-publisher"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish serializes a pair and publishes it to the configured subject.
func (p *Publisher) Publish(pair *model.MatchedHttpPair) error {
	return p.nc.Publish(p.subject, MarshalRecord(pair.Record()))
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
