package sensor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricReadingsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_readings_accepted_total",
		Help: "Total readings that passed validation",
	})

	metricReadingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_readings_rejected_total",
		Help: "Total readings rejected by validation, by reason code",
	}, []string{"reason"})

	metricHistoryLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensor_history_length",
		Help: "Current number of readings held in the history buffer",
	})

	metricPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_persist_failures_total",
		Help: "Total failed durable-store inserts (best effort, never surfaced)",
	})
)

// ReadingStore persists accepted readings durably, insert-only. A
// failed insert is logged and swallowed: the in-memory history is the
// system of record for live behavior.
type ReadingStore interface {
	Insert(ctx context.Context, r *Reading) error
}

// Broadcaster fans an accepted reading out to live subscribers.
type Broadcaster interface {
	Broadcast(r Reading)
	Count() int
}

// Publisher forwards accepted readings to an external event bus,
// best effort.
type Publisher interface {
	Publish(r Reading) error
}

const persistTimeout = 5 * time.Second

// Service owns the accept path and the process-wide history buffer.
// It is the only writer to the buffer; broadcast happens inside the
// same critical section as the append so subscribers observe readings
// in exact acceptance order.
type Service struct {
	mu          sync.Mutex
	history     *HistoryStore
	hub         Broadcaster
	store       ReadingStore // nil disables persistence
	events      Publisher    // nil disables event publishing
	trendWindow int
}

type ServiceOption func(*Service)

// WithStore enables durable persistence of accepted readings.
func WithStore(store ReadingStore) ServiceOption {
	return func(s *Service) { s.store = store }
}

// WithPublisher enables forwarding accepted readings to an event bus.
func WithPublisher(pub Publisher) ServiceOption {
	return func(s *Service) { s.events = pub }
}

// WithTrendWindow overrides how many readings feed the predictor.
func WithTrendWindow(n int) ServiceOption {
	return func(s *Service) {
		if n > 1 {
			s.trendWindow = n
		}
	}
}

func NewService(history *HistoryStore, hub Broadcaster, opts ...ServiceOption) *Service {
	s := &Service{
		history:     history,
		hub:         hub,
		trendWindow: DefaultTrendWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AcceptResult is returned to the submitting device. The prediction is
// informational only: it never gates acceptance and is not persisted.
type AcceptResult struct {
	Reading         Reading `json:"reading"`
	PredictedNextPh float64 `json:"predictedNextPh"`
}

// Accept validates a raw submission and, on success, appends it to the
// history, computes the pH trend, broadcasts to live subscribers and
// kicks off the fire-and-forget durable insert. Validation errors are
// the only errors returned to the caller.
func (s *Service) Accept(ctx context.Context, raw RawReading) (*AcceptResult, error) {
	reading, err := Validate(raw)
	if err != nil {
		if verr, ok := err.(*ValidationError); ok {
			metricReadingsRejected.WithLabelValues(verr.Code).Inc()
		}
		return nil, err
	}

	// Append, predict and broadcast under one lock so the broadcast
	// order matches acceptance order. The hub never blocks: slow
	// subscribers are dropped, not waited for.
	s.mu.Lock()
	s.history.Append(reading)
	predicted := PredictNext(s.history.PhSeries(s.trendWindow))
	s.hub.Broadcast(reading)
	s.mu.Unlock()

	metricReadingsAccepted.Inc()
	metricHistoryLength.Set(float64(s.history.Len()))

	log.Printf("Reading accepted [%s] ph=%.2f turbidity=%.2f device=%s predicted_ph=%.2f",
		reading.ID, reading.PH, reading.Turbidity, reading.DeviceID, predicted)

	if s.store != nil {
		go s.persist(reading)
	}
	if s.events != nil {
		go func(r Reading) {
			if err := s.events.Publish(r); err != nil {
				log.Printf("Event publish failed for reading %s: %v", r.ID, err)
			}
		}(reading)
	}

	return &AcceptResult{Reading: reading, PredictedNextPh: predicted}, nil
}

// persist runs detached from the request: failure is logged with the
// reading id for manual reconciliation and never rolls back acceptance.
func (s *Service) persist(r Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.store.Insert(ctx, &r); err != nil {
		metricPersistFailures.Inc()
		log.Printf("Persist failed for reading %s: %v", r.ID, err)
	}
}

// Latest returns the most recent accepted reading, or false if no
// reading has been accepted since the last clear.
func (s *Service) Latest() (Reading, bool) {
	return s.history.Latest()
}

// Recent returns the last n readings, newest first.
func (s *Service) Recent(n int) []Reading {
	return s.history.Recent(n)
}

// Status describes the live state of the ingestion runtime.
type Status struct {
	Connected            bool       `json:"connected"`
	LastUpdate           *time.Time `json:"lastUpdate"`
	TotalReadings        int        `json:"totalReadings"`
	SubscribersConnected int        `json:"subscribersConnected"`
	Latest               *Reading   `json:"latest"`
}

func (s *Service) Status() Status {
	st := Status{
		TotalReadings:        s.history.Len(),
		SubscribersConnected: s.hub.Count(),
	}
	if latest, ok := s.history.Latest(); ok {
		st.Connected = true
		st.LastUpdate = &latest.Timestamp
		st.Latest = &latest
	}
	return st
}

// Clear empties the history buffer and returns the number of readings
// removed. Already-broadcast and already-persisted readings are
// unaffected.
func (s *Service) Clear() int {
	s.mu.Lock()
	removed := s.history.Clear()
	s.mu.Unlock()

	metricHistoryLength.Set(0)
	log.Printf("Cleared %d sensor readings", removed)
	return removed
}
