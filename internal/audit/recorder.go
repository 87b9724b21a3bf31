package audit

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
	"github.com/nerrad567/warden-core/internal/infrastructure/mqtt"
)

const defaultQueueSize = 256

// Publisher sends an entry to the message bus. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// PointWriter records an entry as a telemetry point. *influxdb.Client
// satisfies it.
type PointWriter interface {
	WriteAuthEvent(action, source, userID string, at time.Time)
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithPublisher publishes every entry on its security event topic. Entries
// whose action is listed in alertActions are also published as alerts.
func WithPublisher(p Publisher, alertActions ...string) RecorderOption {
	return func(r *Recorder) {
		r.publisher = p
		for _, a := range alertActions {
			r.alerts[a] = struct{}{}
		}
	}
}

// WithPointWriter writes every entry as a telemetry point.
func WithPointWriter(w PointWriter) RecorderOption {
	return func(r *Recorder) { r.points = w }
}

// WithQueueSize sets how many entries may wait for fan-out before new ones
// are dropped from the bus and telemetry. Storage is never skipped.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// Recorder persists audit entries and fans them out asynchronously.
//
// Record never fails the caller: storage errors are logged, and a full
// fan-out queue drops the entry from MQTT and InfluxDB only.
type Recorder struct {
	repo      Repository
	publisher Publisher
	points    PointWriter
	alerts    map[string]struct{}
	logger    *logging.Logger

	queueSize int
	queue     chan AuditLog
	wg        sync.WaitGroup

	// mu orders sends on queue against closing it.
	mu     sync.RWMutex
	closed bool
}

// NewRecorder returns a Recorder writing to repo. Call Close to drain the
// fan-out queue on shutdown.
func NewRecorder(repo Repository, logger *logging.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Recorder{
		repo:      repo,
		alerts:    make(map[string]struct{}),
		logger:    logger,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.publisher != nil || r.points != nil {
		r.queue = make(chan AuditLog, r.queueSize)
		r.wg.Add(1)
		go r.run()
	}
	return r
}

// Record stores entry, filling in ID and CreatedAt, then queues it for
// fan-out. The caller's cancellation does not abort the write.
func (r *Recorder) Record(ctx context.Context, entry *AuditLog) {
	if err := r.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Error("recording audit entry", "action", entry.Action, "error", err)
	}

	if r.queue == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("audit recorder closed, entry not forwarded", "action", entry.Action)
		return
	}
	select {
	case r.queue <- *entry:
	default:
		r.logger.Warn("audit fan-out queue full, entry not forwarded", "action", entry.Action)
	}
}

// Close stops accepting fan-out work and waits for queued entries. Entries
// recorded afterwards are still stored but not forwarded.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		if r.queue != nil {
			close(r.queue)
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for entry := range r.queue {
		r.forward(entry)
	}
}

func (r *Recorder) forward(entry AuditLog) {
	if r.points != nil {
		r.points.WriteAuthEvent(entry.Action, entry.Source, entry.UserID, entry.CreatedAt)
	}
	if r.publisher == nil {
		return
	}

	topics := mqtt.Topics{}
	if err := r.publisher.PublishJSON(topics.SecurityEvent(entry.Action), entry); err != nil {
		r.logger.Warn("publishing audit event", "action", entry.Action, "error", err)
	}
	if _, ok := r.alerts[entry.Action]; ok {
		if err := r.publisher.PublishJSON(topics.SecurityAlert(entry.Action), entry); err != nil {
			r.logger.Error("publishing security alert", "action", entry.Action, "error", err)
		}
	}
}
