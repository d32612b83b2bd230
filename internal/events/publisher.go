package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aquaflow/sensorhub/internal/sensor"
)

const DefaultSubject = "sensors.readings"

// ReadingPublisher forwards accepted readings to NATS so downstream
// consumers (alerting, long-term analytics) can react without touching
// the ingestion path. Publishing is best effort with a bounded retry.
type ReadingPublisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewReadingPublisher(conn *nats.Conn, subject string, maxRetries int) *ReadingPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &ReadingPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

func (p *ReadingPublisher) Publish(r sensor.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
