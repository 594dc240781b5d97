// Package archive persists concluded games off the request path.
package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/game/room"
)

// Store saves one concluded game.
type Store interface {
	SaveGame(ctx context.Context, rec room.GameRecord) (int64, error)
}

// Writer queues game records and saves them from a single goroutine. It
// implements room.Recorder and server.Service.
type Writer struct {
	store   Store
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	queue   chan room.GameRecord
	stop    chan struct{}
	done    chan struct{}
	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewWriter creates a Writer with room for buffer pending records.
//
// Precondition: store and logger must be non-nil; buffer and timeout must
// be positive.
func NewWriter(store Store, buffer int, timeout time.Duration, logger *zap.Logger) *Writer {
	return &Writer{
		store:   store,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan room.GameRecord, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Record enqueues rec without blocking.
//
// Postcondition: rec is queued, or dropped with a warning when the queue is
// full or the writer has stopped.
func (w *Writer) Record(rec room.GameRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.drop(rec, "writer stopped")
		return
	}
	select {
	case w.queue <- rec:
	default:
		w.drop(rec, "queue full")
	}
}

func (w *Writer) drop(rec room.GameRecord, why string) {
	w.dropped.Add(1)
	w.logger.Warn("dropping game record",
		zap.String("room", rec.RoomKey),
		zap.String("why", why),
	)
}

// Start saves queued records until Stop, then drains what is left.
func (w *Writer) Start() error {
	defer close(w.done)
	for {
		select {
		case rec := <-w.queue:
			w.save(rec)
		case <-w.stop:
			for {
				select {
				case rec := <-w.queue:
					w.save(rec)
				default:
					return nil
				}
			}
		}
	}
}

// Stop refuses further records and waits for the queue to drain.
//
// Precondition: Start has been called.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.stop)
	w.mu.Unlock()
	<-w.done
}

func (w *Writer) save(rec room.GameRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	start := time.Now()
	id, err := w.store.SaveGame(ctx, rec)
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("archiving game",
			zap.String("room", rec.RoomKey),
			zap.Error(err),
		)
		return
	}
	w.written.Add(1)
	w.logger.Info("game archived",
		zap.Int64("id", id),
		zap.String("room", rec.RoomKey),
		zap.Int("moves", len(rec.Moves)),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// Stats returns how many records were written, dropped and failed.
func (w *Writer) Stats() (written, dropped, failed int64) {
	return w.written.Load(), w.dropped.Load(), w.failed.Load()
}
