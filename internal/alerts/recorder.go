package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scanguard/internal/model"
)

// Persister is the durable side of the sink, optional.
type Persister interface {
	SaveAlert(ctx context.Context, alert model.Alert) error
}

// Publisher fans alerts out to downstream consumers, optional.
type Publisher interface {
	PublishAlert(ctx context.Context, alert model.Alert) error
}

// Recorder decouples alert recording from the request path. Enqueue never
// blocks: when the buffer is full the alert is still stored in memory and
// only the persist/publish leg is dropped, logged as such. A failed
// persist or publish never surfaces to the scan that caused the alert.
type Recorder struct {
	store     *Store
	persister Persister
	publisher Publisher
	logger    *slog.Logger
	queue     chan model.Alert
	wg        sync.WaitGroup
}

func NewRecorder(store *Store, persister Persister, publisher Publisher, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		store:     store,
		persister: persister,
		publisher: publisher,
		logger:    logger,
		queue:     make(chan model.Alert, buffer),
	}
}

func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case alert := <-r.queue:
				r.flush(alert)
			case <-ctx.Done():
				r.drain()
				return
			}
		}
	}()
}

// Record stores the alert in memory synchronously (so polling sees it
// immediately) and hands the durable legs to the worker.
func (r *Recorder) Record(alert model.Alert) model.Alert {
	stored := r.store.Record(alert)
	if r.persister == nil && r.publisher == nil {
		return stored
	}
	select {
	case r.queue <- stored:
	default:
		if r.logger != nil {
			r.logger.Warn("alert queue full, persist/publish dropped", "alert_id", stored.ID, "type", stored.Type)
		}
	}
	return stored
}

func (r *Recorder) flush(alert model.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if r.persister != nil {
		if err := r.persister.SaveAlert(ctx, alert); err != nil && r.logger != nil {
			r.logger.Error("alert persist failed", "alert_id", alert.ID, "err", err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishAlert(ctx, alert); err != nil && r.logger != nil {
			r.logger.Error("alert publish failed", "alert_id", alert.ID, "err", err)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case alert := <-r.queue:
			r.flush(alert)
		default:
			return
		}
	}
}

// Wait blocks until the worker has exited after context cancellation.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
