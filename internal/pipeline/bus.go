package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/services"
)

// Event is the generalized envelope the bus carries.
type Event struct {
	UserID         string
	OrganizationID string
	Action         string
	ResourceType   string
	ResourceID     string
	Severity       models.Severity
	IPAddress      string
	UserAgent      string
	Metadata       map[string]interface{}
	Timestamp      time.Time
}

const (
	defaultFlushInterval = 10 * time.Second
	defaultBatchSize     = 50
)

// EventBus is the single front door for general event ingestion, with two
// delivery modes. High and critical events take the synchronous critical
// path: audit write then rule evaluation, in order, before Publish returns.
// Everything else is batched in memory and flushed on a timer or when the
// batch fills. Close tears the flush loop down and drains the queue.
type EventBus struct {
	audit    *services.SecurityAuditService
	detector *IncidentDetector
	scorer   *RiskScorer
	log      *logrus.Entry

	flushInterval time.Duration
	batchSize     int

	mu    sync.Mutex
	queue []Event

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// BusOption tunes the bus.
type BusOption func(*EventBus)

// WithFlushInterval overrides the batch flush period.
func WithFlushInterval(d time.Duration) BusOption {
	return func(b *EventBus) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

// WithBatchSize overrides the flush threshold.
func WithBatchSize(n int) BusOption {
	return func(b *EventBus) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// NewEventBus builds the bus and starts its flush loop.
func NewEventBus(audit *services.SecurityAuditService, detector *IncidentDetector, scorer *RiskScorer, opts ...BusOption) *EventBus {
	bus := &EventBus{
		audit:         audit,
		detector:      detector,
		scorer:        scorer,
		log:           logger.WithFields(logrus.Fields{"component": "event_bus"}),
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(bus)
	}

	bus.wg.Add(1)
	go bus.flushLoop()
	return bus
}

// Publish ingests one event. High and critical severities are handled
// synchronously so the audit row exists and rules have run before the
// caller proceeds; lower severities are enqueued for batched delivery.
func (b *EventBus) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if b.scorer != nil {
		if e.Metadata == nil {
			e.Metadata = map[string]interface{}{}
		}
		e.Metadata["riskLevel"] = b.scorer.Score(e)
	}

	if e.Severity.AtLeast(models.SeverityHigh) {
		b.deliver(ctx, e)
		return
	}
	b.Enqueue(e)
}

// Enqueue adds an event to the batched path unconditionally, triggering a
// flush when the batch fills.
func (b *EventBus) Enqueue(e Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	full := len(b.queue) >= b.batchSize
	b.mu.Unlock()

	if full {
		b.Flush()
	}
}

// Flush drains the queue immediately.
func (b *EventBus) Flush() {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	ctx := context.Background()
	for _, e := range batch {
		b.deliver(ctx, e)
	}
	b.log.WithField("count", len(batch)).Debug("flushed event batch")
}

// Pending returns the number of queued, unflushed events.
func (b *EventBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// deliver writes the audit row, then evaluates detection rules. The write
// happens first: rules and anything they trigger read recent events and
// expect the triggering event to be visible.
func (b *EventBus) deliver(ctx context.Context, e Event) {
	b.audit.LogSecurityEvent(ctx, services.SecurityEventInput{
		UserID:         e.UserID,
		OrganizationID: e.OrganizationID,
		Action:         e.Action,
		ResourceType:   e.ResourceType,
		ResourceID:     e.ResourceID,
		Severity:       e.Severity,
		Metadata:       e.Metadata,
		IPAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		Timestamp:      e.Timestamp,
	})
	if b.detector != nil {
		b.detector.Evaluate(ctx, e)
	}
}

func (b *EventBus) flushLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.done:
			return
		}
	}
}

// Close stops the flush loop and drains remaining events. Safe to call more
// than once.
func (b *EventBus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.Flush()
	})
}
